package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListOpen(ctx context.Context) ([]Market, error)
	// MarkResolved flips an open market to resolved. It returns
	// ErrAlreadyResolved when the market is not open.
	MarkResolved(ctx context.Context, id, outcomeName string, closedAt time.Time) error
}

// PriceWrite is one leg of a conditional price update. The write only
// applies if the stored version still equals Version.
type PriceWrite struct {
	OutcomeID string
	Price     float64
	Version   int64
}

// OutcomeStore persists options and their outcome legs.
type OutcomeStore interface {
	CreateOption(ctx context.Context, opt Option) error
	CreateOutcome(ctx context.Context, o Outcome) error
	GetByID(ctx context.Context, id string) (Outcome, error)
	ListByMarket(ctx context.Context, marketID string) ([]Outcome, error)
	ListOptions(ctx context.Context, marketID string) ([]Option, error)
	// FindOption returns the option of marketID containing outcomeID.
	FindOption(ctx context.Context, marketID, outcomeID string) (Option, error)
	// SetPrices applies every write or none. A stale version yields
	// ErrConflict.
	SetPrices(ctx context.Context, writes []PriceWrite) error
	SetWinners(ctx context.Context, winners, losers []string) error
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// ListResting returns pending orders with open quantity on the given
	// side, oldest first, skipping orders placed by excludeUser.
	ListResting(ctx context.Context, marketID, outcomeID string, side OrderSide, excludeUser string) ([]Order, error)
	UpdateFill(ctx context.Context, id string, remaining decimal.Decimal, status OrderStatus) error
	// SumPendingSells returns the open quantity of the user's pending sell
	// orders on an outcome.
	SumPendingSells(ctx context.Context, userID, outcomeID string) (decimal.Decimal, error)
	// CancelPending cancels every pending order of the market and returns
	// them as they were before cancellation.
	CancelPending(ctx context.Context, marketID string) ([]Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
	// ListBefore returns closed orders created before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// TradeStore persists executed trades. Trades are append-only.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// PositionStore is the position ledger.
type PositionStore interface {
	// Get returns a zero-amount position when none exists.
	Get(ctx context.Context, userID, outcomeID string) (Position, error)
	Adjust(ctx context.Context, userID, marketID, outcomeID string, delta decimal.Decimal) error
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByUser(ctx context.Context, userID string) ([]Position, error)
	ListHolders(ctx context.Context) ([]string, error)
	DeleteByMarket(ctx context.Context, marketID string) (int64, error)
}

// UserStore persists user balances.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	// GetForUpdate reads a user and holds its row until the enclosing
	// transaction ends. Balance checks that precede a debit must use it.
	GetForUpdate(ctx context.Context, id string) (User, error)
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) error
	AddProfit(ctx context.Context, id string, delta decimal.Decimal) error
	SetPositionsValue(ctx context.Context, id string, value decimal.Decimal) error
}

// PriceHistoryStore persists periodic price snapshots.
type PriceHistoryStore interface {
	Record(ctx context.Context, points []PricePoint) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]PricePoint, error)
	ListBefore(ctx context.Context, before time.Time) ([]PricePoint, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores groups the stores that participate in one unit of work.
type Stores struct {
	Markets      MarketStore
	Outcomes     OutcomeStore
	Orders       OrderStore
	Trades       TradeStore
	Positions    PositionStore
	Users        UserStore
	PriceHistory PriceHistoryStore
	Audit        AuditStore
}

// Transactor runs fn against stores bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
	// Stores returns stores that are not bound to a transaction.
	Stores() Stores
}
