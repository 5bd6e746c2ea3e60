package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// CreateMarketRequest describes a new market. A market with Candidates gets
// one option per candidate; otherwise it is a single binary option named
// OptionName.
type CreateMarketRequest struct {
	Title       string
	Description string
	ClosesAt    *time.Time
	OptionName  string
	Candidates  []string
}

// OptionView is an option with both of its legs.
type OptionView struct {
	domain.Option
	Yes domain.Outcome `json:"yes"`
	No  domain.Outcome `json:"no"`
}

// MarketView is a market with its options and live prices.
type MarketView struct {
	Market  domain.Market `json:"market"`
	Options []OptionView  `json:"options"`
}

// MarketSummary aggregates trading activity on a market.
type MarketSummary struct {
	MarketID      string          `json:"market_id"`
	TotalTrades   int             `json:"total_trades"`
	Volume        decimal.Decimal `json:"volume"`
	AvgTradeSize  decimal.Decimal `json:"avg_trade_size"`
	UniqueTraders int             `json:"unique_traders"`
}

// MarketService creates markets and serves market read models.
type MarketService struct {
	tx     domain.Transactor
	prices *PriceService
	events *Publisher
	logger *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(tx domain.Transactor, prices *PriceService, events *Publisher, logger *slog.Logger) *MarketService {
	return &MarketService{tx: tx, prices: prices, events: events, logger: logger}
}

// CreateMarket opens a market. Binary markets start at 0.5/0.5; each
// candidate of an n-way market starts its Yes leg at 1/n, clamped into the
// price band so that no leg can be bought for nothing. A candidate list
// needs at least two entries.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (MarketView, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return MarketView{}, validationf("title is required")
	}
	names := req.Candidates
	yesPrice, noPrice := 0.5, 0.5
	switch {
	case len(names) == 1:
		return MarketView{}, validationf("a multi-option market needs at least two candidates")
	case len(names) > 1:
		yesPrice, noPrice = s.prices.Constrain(1 / float64(len(names)))
	default:
		name := strings.TrimSpace(req.OptionName)
		if name == "" {
			name = title
		}
		names = []string{name}
	}
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return MarketView{}, validationf("candidate names must not be empty")
		}
	}

	now := time.Now().UTC()
	view := MarketView{Market: domain.Market{
		ID:          uuid.NewString(),
		Title:       title,
		Description: req.Description,
		Status:      domain.MarketStatusOpen,
		ClosesAt:    req.ClosesAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		if err := st.Markets.Create(ctx, view.Market); err != nil {
			return err
		}
		for _, name := range names {
			yes := domain.Outcome{ID: uuid.NewString(), MarketID: view.Market.ID, Name: "Yes",
				InitialPrice: yesPrice, CurrentPrice: yesPrice, UpdatedAt: now}
			no := domain.Outcome{ID: uuid.NewString(), MarketID: view.Market.ID, Name: "No",
				InitialPrice: noPrice, CurrentPrice: noPrice, UpdatedAt: now}
			opt := domain.Option{ID: uuid.NewString(), MarketID: view.Market.ID, Name: name,
				YesOutcomeID: yes.ID, NoOutcomeID: no.ID}
			for _, oc := range []domain.Outcome{yes, no} {
				if err := st.Outcomes.CreateOutcome(ctx, oc); err != nil {
					return err
				}
			}
			if err := st.Outcomes.CreateOption(ctx, opt); err != nil {
				return err
			}
			view.Options = append(view.Options, OptionView{Option: opt, Yes: yes, No: no})
		}
		return nil
	})
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: create market: %w", err)
	}

	s.events.Emit(ctx, domain.ChannelMarkets, "market_created", view.Market.ID, view)
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", view.Market.ID),
		slog.Int("options", len(view.Options)),
	)
	return view, nil
}

// GetView returns a market with its options and current prices.
func (s *MarketService) GetView(ctx context.Context, id string) (MarketView, error) {
	st := s.tx.Stores()
	market, err := st.Markets.GetByID(ctx, id)
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}
	options, err := st.Outcomes.ListOptions(ctx, id)
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: list options %q: %w", id, err)
	}
	outcomes, err := st.Outcomes.ListByMarket(ctx, id)
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: list outcomes %q: %w", id, err)
	}

	prices := s.prices.Prices(ctx, outcomes)
	byID := make(map[string]domain.Outcome, len(outcomes))
	for _, o := range outcomes {
		o.CurrentPrice = prices[o.ID]
		byID[o.ID] = o
	}

	view := MarketView{Market: market}
	for _, opt := range options {
		view.Options = append(view.Options, OptionView{
			Option: opt,
			Yes:    byID[opt.YesOutcomeID],
			No:     byID[opt.NoOutcomeID],
		})
	}
	return view, nil
}

// ListOpen returns every open market.
func (s *MarketService) ListOpen(ctx context.Context) ([]domain.Market, error) {
	markets, err := s.tx.Stores().Markets.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list open: %w", err)
	}
	return markets, nil
}

// Summary computes trade statistics for a market.
func (s *MarketService) Summary(ctx context.Context, id string) (MarketSummary, error) {
	st := s.tx.Stores()
	if _, err := st.Markets.GetByID(ctx, id); err != nil {
		return MarketSummary{}, fmt.Errorf("market_service: summary %q: %w", id, err)
	}
	trades, err := st.Trades.ListByMarket(ctx, id, domain.ListOpts{})
	if err != nil {
		return MarketSummary{}, fmt.Errorf("market_service: summary trades %q: %w", id, err)
	}
	positions, err := st.Positions.ListByMarket(ctx, id)
	if err != nil {
		return MarketSummary{}, fmt.Errorf("market_service: summary positions %q: %w", id, err)
	}

	sum := MarketSummary{MarketID: id, TotalTrades: len(trades), Volume: decimal.Zero, AvgTradeSize: decimal.Zero}
	for _, t := range trades {
		sum.Volume = sum.Volume.Add(t.Notional())
	}
	if len(trades) > 0 {
		sum.AvgTradeSize = sum.Volume.Div(decimal.NewFromInt(int64(len(trades))))
	}
	traders := map[string]struct{}{}
	for _, p := range positions {
		traders[p.UserID] = struct{}{}
	}
	sum.UniqueTraders = len(traders)
	return sum, nil
}

// PriceHistory returns recorded price points for a market.
func (s *MarketService) PriceHistory(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	points, err := s.tx.Stores().PriceHistory.ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: price history %q: %w", id, err)
	}
	return points, nil
}

// RecordPrices snapshots the current price of every outcome of every open
// market. It returns the number of points written.
func (s *MarketService) RecordPrices(ctx context.Context) (int, error) {
	st := s.tx.Stores()
	markets, err := st.Markets.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: record prices: %w", err)
	}

	now := time.Now().UTC()
	var points []domain.PricePoint
	for _, m := range markets {
		outcomes, err := st.Outcomes.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("market_service: record prices %q: %w", m.ID, err)
		}
		for _, o := range outcomes {
			points = append(points, domain.PricePoint{
				MarketID:   m.ID,
				OutcomeID:  o.ID,
				Price:      o.CurrentPrice,
				RecordedAt: now,
			})
		}
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := st.PriceHistory.Record(ctx, points); err != nil {
		return 0, fmt.Errorf("market_service: record prices: %w", err)
	}
	return len(points), nil
}

// PruneHistory deletes price points recorded before cutoff.
func (s *MarketService) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.tx.Stores().PriceHistory.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("market_service: prune history: %w", err)
	}
	return n, nil
}
