package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every store can run
// against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var (
	_ DBTX = (*pgxpool.Pool)(nil)
	_ DBTX = (pgx.Tx)(nil)
)

// SQLSTATE codes mapped onto domain errors.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// balanceConstraint keeps users.balance non-negative.
const balanceConstraint = "users_balance_non_negative"

// dbErr wraps a driver error with the operation and a domain kind.
func dbErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w", op, domain.ErrAlreadyExists)
		case codeCheckViolation:
			if pgErr.ConstraintName == balanceConstraint {
				return fmt.Errorf("postgres: %s: %w", op, domain.ErrInsufficientBalance)
			}
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrConflict, err)
		}
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStore, err)
}

// Transactor implements domain.Transactor on a connection pool.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a Transactor for the client's pool.
func NewTransactor(c *Client) *Transactor {
	return &Transactor{pool: c.Pool()}
}

// Stores returns stores bound to the pool.
func (t *Transactor) Stores() domain.Stores {
	return bind(t.pool)
}

// WithinTx runs fn in a read-committed transaction. Domain errors returned
// by fn pass through unchanged.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return dbErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbErr("commit tx", err)
	}
	return nil
}

func bind(db DBTX) domain.Stores {
	return domain.Stores{
		Markets:      NewMarketStore(db),
		Outcomes:     NewOutcomeStore(db),
		Orders:       NewOrderStore(db),
		Trades:       NewTradeStore(db),
		Positions:    NewPositionStore(db),
		Users:        NewUserStore(db),
		PriceHistory: NewPriceHistoryStore(db),
		Audit:        NewAuditStore(db),
	}
}

// listFilter appends the time range and pagination of opts to a query whose
// WHERE clause is already open. col is the timestamp column.
func listFilter(query string, args []any, col, orderBy string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
