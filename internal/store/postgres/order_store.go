package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db DBTX
}

// NewOrderStore creates an OrderStore on db.
func NewOrderStore(db DBTX) *OrderStore {
	return &OrderStore{db: db}
}

const orderSelectCols = `id, market_id, user_id, outcome_id, side,
	amount, remaining, price, status, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, status string
	err := row.Scan(
		&o.ID, &o.MarketID, &o.UserID, &o.OutcomeID, &side,
		&o.Amount, &o.Remaining, &o.Price, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO orders (
			id, market_id, user_id, outcome_id, side,
			amount, remaining, price, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, NOW()
		)`
	_, err := s.db.Exec(ctx, query,
		o.ID, o.MarketID, o.UserID, o.OutcomeID, string(o.Side),
		o.Amount, o.Remaining, o.Price, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return dbErr("create order "+o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, dbErr("get order "+id, err)
	}
	return o, nil
}

// ListResting locks and returns the matchable orders in arrival order.
func (s *OrderStore) ListResting(
	ctx context.Context,
	marketID, outcomeID string,
	side domain.OrderSide,
	excludeUser string,
) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE market_id = $1 AND outcome_id = $2 AND side = $3
		   AND user_id <> $4 AND status = 'pending' AND remaining > 0
		 ORDER BY seq
		 FOR UPDATE`,
		marketID, outcomeID, string(side), excludeUser)
	if err != nil {
		return nil, dbErr("list resting orders", err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, dbErr("scan resting orders", err)
	}
	return orders, nil
}

// UpdateFill sets the open quantity and status of an order.
func (s *OrderStore) UpdateFill(ctx context.Context, id string, remaining decimal.Decimal, status domain.OrderStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE orders SET remaining = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, remaining, string(status))
	if err != nil {
		return dbErr("update order "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SumPendingSells returns the open quantity committed to pending sells.
func (s *OrderStore) SumPendingSells(ctx context.Context, userID, outcomeID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining), 0) FROM orders
		 WHERE user_id = $1 AND outcome_id = $2 AND side = 'selling' AND status = 'pending'`,
		userID, outcomeID).Scan(&sum)
	if err != nil {
		return decimal.Zero, dbErr("sum pending sells", err)
	}
	return sum, nil
}

// CancelPending cancels the market's pending orders and returns them as
// they were before cancellation.
func (s *OrderStore) CancelPending(ctx context.Context, marketID string) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE orders SET status = 'cancelled', updated_at = NOW()
		 WHERE market_id = $1 AND status = 'pending'
		 RETURNING `+orderSelectCols, marketID)
	if err != nil {
		return nil, dbErr("cancel pending orders", err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, dbErr("scan cancelled orders", err)
	}
	for i := range orders {
		orders[i].Status = domain.OrderStatusPending
	}
	return orders, nil
}

// ListByMarket returns a market's orders, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByUser returns a user's orders, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "user_id", userID, opts)
}

func (s *OrderStore) list(ctx context.Context, col, val string, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := listFilter(
		`SELECT `+orderSelectCols+` FROM orders WHERE `+col+` = $1`,
		[]any{val}, "created_at", "seq DESC", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list orders by "+col, err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, dbErr("scan orders by "+col, err)
	}
	return orders, nil
}

// ListBefore returns closed orders created before the cutoff.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status <> 'pending' AND created_at < $1 ORDER BY seq`, before)
	if err != nil {
		return nil, dbErr("list orders before", err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, dbErr("scan orders before", err)
	}
	return orders, nil
}
