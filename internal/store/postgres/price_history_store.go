package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	db DBTX
}

// NewPriceHistoryStore creates a PriceHistoryStore on db.
func NewPriceHistoryStore(db DBTX) *PriceHistoryStore {
	return &PriceHistoryStore{db: db}
}

const priceHistorySelectCols = `market_id, outcome_id, price, recorded_at`

func scanPricePoint(row pgx.Row) (domain.PricePoint, error) {
	var p domain.PricePoint
	err := row.Scan(&p.MarketID, &p.OutcomeID, &p.Price, &p.RecordedAt)
	return p, err
}

// Record bulk-loads price points with COPY.
func (s *PriceHistoryStore) Record(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"price_history"},
		[]string{"market_id", "outcome_id", "price", "recorded_at"},
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			return []any{p.MarketID, p.OutcomeID, p.Price, p.RecordedAt}, nil
		}),
	)
	if err != nil {
		return dbErr("record prices", err)
	}
	return nil
}

// ListByMarket returns a market's price points, oldest first.
func (s *PriceHistoryStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	query, args := listFilter(
		`SELECT `+priceHistorySelectCols+` FROM price_history WHERE market_id = $1`,
		[]any{marketID}, "recorded_at", "recorded_at, id", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list price history", err)
	}
	points, err := collect(rows, scanPricePoint)
	if err != nil {
		return nil, dbErr("scan price history", err)
	}
	return points, nil
}

// ListBefore returns every point recorded before the cutoff.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PricePoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+priceHistorySelectCols+` FROM price_history WHERE recorded_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, dbErr("list price history before", err)
	}
	points, err := collect(rows, scanPricePoint)
	if err != nil {
		return nil, dbErr("scan price history before", err)
	}
	return points, nil
}

// DeleteBefore prunes points recorded before the cutoff.
func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM price_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, dbErr("prune price history", err)
	}
	return tag.RowsAffected(), nil
}
