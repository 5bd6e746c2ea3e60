package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db DBTX
}

// NewMarketStore creates a MarketStore on db.
func NewMarketStore(db DBTX) *MarketStore {
	return &MarketStore{db: db}
}

const marketSelectCols = `id, title, description, status, outcome, closes_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(&m.ID, &m.Title, &m.Description, &status, &m.Outcome,
		&m.ClosesAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Create inserts a market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO markets (id, title, description, status, outcome, closes_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`
	_, err := s.db.Exec(ctx, query,
		m.ID, m.Title, m.Description, string(m.Status), m.Outcome, m.ClosesAt, m.CreatedAt)
	if err != nil {
		return dbErr("create market "+m.ID, err)
	}
	return nil
}

// GetByID returns a market or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.db.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return domain.Market{}, dbErr("get market "+id, err)
	}
	return m, nil
}

// ListOpen returns open markets, oldest first.
func (s *MarketStore) ListOpen(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE status = 'open' ORDER BY created_at, id`)
	if err != nil {
		return nil, dbErr("list open markets", err)
	}
	markets, err := collect(rows, scanMarket)
	if err != nil {
		return nil, dbErr("scan open markets", err)
	}
	return markets, nil
}

// MarkResolved flips an open market to resolved.
func (s *MarketStore) MarkResolved(ctx context.Context, id, outcomeName string, closedAt time.Time) error {
	const query = `
		UPDATE markets
		SET status = 'resolved', outcome = $2, closes_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`
	tag, err := s.db.Exec(ctx, query, id, outcomeName, closedAt)
	if err != nil {
		return dbErr("resolve market "+id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyResolved
}

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	db DBTX
}

// NewOutcomeStore creates an OutcomeStore on db.
func NewOutcomeStore(db DBTX) *OutcomeStore {
	return &OutcomeStore{db: db}
}

const (
	outcomeSelectCols = `id, market_id, name, initial_price, current_price, is_winner, version, updated_at`
	optionSelectCols  = `id, market_id, name, yes_outcome_id, no_outcome_id`
)

func scanOutcome(row pgx.Row) (domain.Outcome, error) {
	var o domain.Outcome
	err := row.Scan(&o.ID, &o.MarketID, &o.Name, &o.InitialPrice, &o.CurrentPrice,
		&o.IsWinner, &o.Version, &o.UpdatedAt)
	return o, err
}

func scanOption(row pgx.Row) (domain.Option, error) {
	var o domain.Option
	err := row.Scan(&o.ID, &o.MarketID, &o.Name, &o.YesOutcomeID, &o.NoOutcomeID)
	return o, err
}

// CreateOption inserts an option. Both legs must exist.
func (s *OutcomeStore) CreateOption(ctx context.Context, opt domain.Option) error {
	const query = `
		INSERT INTO options (id, market_id, name, yes_outcome_id, no_outcome_id)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query,
		opt.ID, opt.MarketID, opt.Name, opt.YesOutcomeID, opt.NoOutcomeID); err != nil {
		return dbErr("create option "+opt.ID, err)
	}
	return nil
}

// CreateOutcome inserts an outcome leg.
func (s *OutcomeStore) CreateOutcome(ctx context.Context, o domain.Outcome) error {
	const query = `
		INSERT INTO outcomes (id, market_id, name, initial_price, current_price, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := s.db.Exec(ctx, query,
		o.ID, o.MarketID, o.Name, o.InitialPrice, o.CurrentPrice, o.Version); err != nil {
		return dbErr("create outcome "+o.ID, err)
	}
	return nil
}

// GetByID returns an outcome or domain.ErrNotFound.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.Outcome, error) {
	o, err := scanOutcome(s.db.QueryRow(ctx,
		`SELECT `+outcomeSelectCols+` FROM outcomes WHERE id = $1`, id))
	if err != nil {
		return domain.Outcome{}, dbErr("get outcome "+id, err)
	}
	return o, nil
}

// ListByMarket returns every outcome of a market ordered by id.
func (s *OutcomeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM outcomes WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, dbErr("list outcomes", err)
	}
	out, err := collect(rows, scanOutcome)
	if err != nil {
		return nil, dbErr("scan outcomes", err)
	}
	return out, nil
}

// ListOptions returns the options of a market in creation order.
func (s *OutcomeStore) ListOptions(ctx context.Context, marketID string) ([]domain.Option, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+optionSelectCols+` FROM options WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, dbErr("list options", err)
	}
	out, err := collect(rows, scanOption)
	if err != nil {
		return nil, dbErr("scan options", err)
	}
	return out, nil
}

// FindOption returns the option of marketID with outcomeID as either leg.
func (s *OutcomeStore) FindOption(ctx context.Context, marketID, outcomeID string) (domain.Option, error) {
	opt, err := scanOption(s.db.QueryRow(ctx,
		`SELECT `+optionSelectCols+` FROM options
		 WHERE market_id = $1 AND (yes_outcome_id = $2 OR no_outcome_id = $2)`,
		marketID, outcomeID))
	if err != nil {
		return domain.Option{}, dbErr("find option", err)
	}
	return opt, nil
}

// SetPrices writes every leg in one statement, and only when every version
// still matches. Nothing is written otherwise.
func (s *OutcomeStore) SetPrices(ctx context.Context, writes []domain.PriceWrite) error {
	if len(writes) == 0 {
		return nil
	}
	ids := make([]string, len(writes))
	prices := make([]float64, len(writes))
	versions := make([]int64, len(writes))
	for i, w := range writes {
		ids[i], prices[i], versions[i] = w.OutcomeID, w.Price, w.Version
	}

	const query = `
		WITH w AS (
			SELECT * FROM unnest($1::text[], $2::float8[], $3::bigint[]) AS w(id, price, version)
		), fresh AS (
			SELECT count(*) = $4 AS ok FROM outcomes o JOIN w ON o.id = w.id AND o.version = w.version
		)
		UPDATE outcomes o
		SET current_price = w.price, version = o.version + 1, updated_at = NOW()
		FROM w, fresh
		WHERE o.id = w.id AND fresh.ok`
	tag, err := s.db.Exec(ctx, query, ids, prices, versions, len(writes))
	if err != nil {
		return dbErr("set prices", err)
	}
	if tag.RowsAffected() == int64(len(writes)) {
		return nil
	}

	var found int
	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM outcomes WHERE id = ANY($1)`, ids).Scan(&found); err != nil {
		return dbErr("set prices", err)
	}
	if found < len(writes) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: set prices: %w", domain.ErrConflict)
}

// SetWinners flags the winning and losing outcomes.
func (s *OutcomeStore) SetWinners(ctx context.Context, winners, losers []string) error {
	const query = `
		UPDATE outcomes
		SET is_winner = (id = ANY($1)), updated_at = NOW()
		WHERE id = ANY($1) OR id = ANY($2)`
	if _, err := s.db.Exec(ctx, query, winners, losers); err != nil {
		return dbErr("set winners", err)
	}
	return nil
}
