package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	db DBTX
}

// NewTradeStore creates a TradeStore on db.
func NewTradeStore(db DBTX) *TradeStore {
	return &TradeStore{db: db}
}

const tradeSelectCols = `id, market_id, outcome_id, buyer_order_id, seller_order_id,
	amount, price, market_maker, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	err := row.Scan(
		&t.ID, &t.MarketID, &t.OutcomeID, &t.BuyerOrderID, &t.SellerOrderID,
		&t.Amount, &t.Price, &t.MarketMaker, &t.CreatedAt,
	)
	return t, err
}

// Insert appends a trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO trades (
			id, market_id, outcome_id, buyer_order_id, seller_order_id,
			amount, price, market_maker, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, query,
		t.ID, t.MarketID, t.OutcomeID, t.BuyerOrderID, t.SellerOrderID,
		t.Amount, t.Price, t.MarketMaker, t.CreatedAt,
	)
	if err != nil {
		return dbErr("insert trade "+t.ID, err)
	}
	return nil
}

// ListByMarket returns a market's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listFilter(
		`SELECT `+tradeSelectCols+` FROM trades WHERE market_id = $1`,
		[]any{marketID}, "created_at", "seq DESC", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list trades", err)
	}
	trades, err := collect(rows, scanTrade)
	if err != nil {
		return nil, dbErr("scan trades", err)
	}
	return trades, nil
}

// ListBefore returns trades executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE created_at < $1 ORDER BY seq`, before)
	if err != nil {
		return nil, dbErr("list trades before", err)
	}
	trades, err := collect(rows, scanTrade)
	if err != nil {
		return nil, dbErr("scan trades before", err)
	}
	return trades, nil
}
