package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db DBTX
}

// NewPositionStore creates a PositionStore on db.
func NewPositionStore(db DBTX) *PositionStore {
	return &PositionStore{db: db}
}

const positionSelectCols = `user_id, market_id, outcome_id, amount, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(&p.UserID, &p.MarketID, &p.OutcomeID, &p.Amount, &p.UpdatedAt)
	return p, err
}

// Get returns the position, or a zero position when none exists.
func (s *PositionStore) Get(ctx context.Context, userID, outcomeID string) (domain.Position, error) {
	p, err := scanPosition(s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE user_id = $1 AND outcome_id = $2`,
		userID, outcomeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{UserID: userID, OutcomeID: outcomeID}, nil
	}
	if err != nil {
		return domain.Position{}, dbErr("get position", err)
	}
	return p, nil
}

// Adjust adds delta to a position, creating it if needed.
func (s *PositionStore) Adjust(ctx context.Context, userID, marketID, outcomeID string, delta decimal.Decimal) error {
	const query = `
		INSERT INTO positions (user_id, market_id, outcome_id, amount, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, outcome_id) DO UPDATE SET
			amount     = positions.amount + EXCLUDED.amount,
			updated_at = NOW()`
	if _, err := s.db.Exec(ctx, query, userID, marketID, outcomeID, delta); err != nil {
		return dbErr("adjust position", err)
	}
	return nil
}

// ListByMarket returns every position in a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.list(ctx, "market_id", marketID)
}

// ListByUser returns every position of a user.
func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.list(ctx, "user_id", userID)
}

func (s *PositionStore) list(ctx context.Context, col, val string) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE `+col+` = $1 ORDER BY user_id, outcome_id`, val)
	if err != nil {
		return nil, dbErr("list positions by "+col, err)
	}
	positions, err := collect(rows, scanPosition)
	if err != nil {
		return nil, dbErr("scan positions by "+col, err)
	}
	return positions, nil
}

// ListHolders returns the distinct users holding any position.
func (s *PositionStore) ListHolders(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT user_id FROM positions ORDER BY user_id`)
	if err != nil {
		return nil, dbErr("list holders", err)
	}
	holders, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dbErr("scan holders", err)
	}
	return holders, nil
}

// DeleteByMarket removes every position in a market.
func (s *PositionStore) DeleteByMarket(ctx context.Context, marketID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, marketID)
	if err != nil {
		return 0, dbErr("delete positions", err)
	}
	return tag.RowsAffected(), nil
}

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	db DBTX
}

// NewUserStore creates a UserStore on db.
func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user. A duplicate id yields domain.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO users (id, username, balance, profit, positions_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	_, err := s.db.Exec(ctx, query, u.ID, u.Username, u.Balance, u.Profit, u.PositionsValue, u.CreatedAt)
	if err != nil {
		return dbErr("create user "+u.ID, err)
	}
	return nil
}

const selectUser = `SELECT id, username, balance, profit, positions_value, created_at FROM users WHERE id = $1`

// GetByID returns a user or domain.ErrNotFound.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	return s.get(ctx, "get user "+id, selectUser, id)
}

// GetForUpdate returns a user with its row locked FOR UPDATE. Outside a
// transaction the lock is released as soon as the statement completes.
func (s *UserStore) GetForUpdate(ctx context.Context, id string) (domain.User, error) {
	return s.get(ctx, "lock user "+id, selectUser+` FOR UPDATE`, id)
}

func (s *UserStore) get(ctx context.Context, op, query, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, query, id).
		Scan(&u.ID, &u.Username, &u.Balance, &u.Profit, &u.PositionsValue, &u.CreatedAt)
	if err != nil {
		return domain.User{}, dbErr(op, err)
	}
	return u, nil
}

// AdjustBalance adds delta to the balance. A debit that would take the
// balance below zero fails the users_balance_non_negative check and yields
// domain.ErrInsufficientBalance.
func (s *UserStore) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	return s.update(ctx, "adjust balance", `balance = balance + $2`, id, delta)
}

// AddProfit adds delta to the realised profit.
func (s *UserStore) AddProfit(ctx context.Context, id string, delta decimal.Decimal) error {
	return s.update(ctx, "add profit", `profit = profit + $2`, id, delta)
}

// SetPositionsValue overwrites the mark-to-market value of open positions.
func (s *UserStore) SetPositionsValue(ctx context.Context, id string, value decimal.Decimal) error {
	return s.update(ctx, "set positions value", `positions_value = $2`, id, value)
}

func (s *UserStore) update(ctx context.Context, op, set, id string, v decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET `+set+`, updated_at = NOW() WHERE id = $1`, id, v)
	if err != nil {
		return dbErr(op+" "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
