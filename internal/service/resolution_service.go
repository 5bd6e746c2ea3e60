package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Resolution is the result of resolving a market.
type Resolution struct {
	MarketID           string                     `json:"market_id"`
	WinningOutcomeID   string                     `json:"winning_outcome_id"`
	WinningOutcomeName string                     `json:"winning_outcome"`
	WinningOutcomeIDs  []string                   `json:"winning_outcome_ids"`
	LosingOutcomeIDs   []string                   `json:"losing_outcome_ids"`
	Payouts            map[string]decimal.Decimal `json:"payouts"`
	CancelledOrders    int                        `json:"cancelled_orders"`
	ResolvedAt         time.Time                  `json:"resolved_at"`
}

// ResolutionService settles markets.
type ResolutionService struct {
	tx        domain.Transactor
	locks     domain.LockManager
	positions *PositionService
	events    *Publisher
	cfg       EngineConfig
	logger    *slog.Logger
}

// NewResolutionService creates a ResolutionService.
func NewResolutionService(
	tx domain.Transactor,
	locks domain.LockManager,
	positions *PositionService,
	events *Publisher,
	cfg EngineConfig,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		tx:        tx,
		locks:     locks,
		positions: positions,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Resolve pays out winning positions, clears the market's positions, marks
// the market and its outcomes as settled and cancels pending orders. It runs
// as a single transaction while every option lock of the market is held.
func (s *ResolutionService) Resolve(ctx context.Context, marketID, winningOutcomeID string) (Resolution, error) {
	if marketID == "" || winningOutcomeID == "" {
		return Resolution{}, validationf("market_id and outcome_id are required")
	}

	options, err := s.tx.Stores().Outcomes.ListOptions(ctx, marketID)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution_service: list options: %w", err)
	}

	keys := []string{marketLockKey(marketID)}
	for _, opt := range options {
		keys = append(keys, optionLockKey(opt.ID))
	}
	slices.Sort(keys)
	for _, key := range keys {
		unlock, err := acquireWait(ctx, s.locks, key, s.cfg.LockTTL, s.cfg.LockWait)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolution_service: %w", err)
		}
		defer unlock()
	}

	var res Resolution
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		var err error
		res, err = s.resolve(ctx, st, marketID, winningOutcomeID)
		return err
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution_service: resolve %s: %w", marketID, err)
	}

	s.events.Emit(ctx, domain.ChannelMarkets, "market_resolved", marketID, res)
	s.events.Audit(ctx, "market_resolved", map[string]any{
		"market_id":          marketID,
		"winning_outcome_id": winningOutcomeID,
		"winning_outcome":    res.WinningOutcomeName,
		"payouts":            len(res.Payouts),
		"cancelled_orders":   res.CancelledOrders,
	})
	s.events.Alert(ctx, "market_resolved", "Market resolved",
		fmt.Sprintf("Market %s resolved: %s (%d payouts, %d orders cancelled)",
			marketID, res.WinningOutcomeName, len(res.Payouts), res.CancelledOrders))

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market_id", marketID),
		slog.String("winning_outcome", res.WinningOutcomeName),
		slog.Int("payouts", len(res.Payouts)),
		slog.Int("cancelled_orders", res.CancelledOrders),
	)
	return res, nil
}

func (s *ResolutionService) resolve(ctx context.Context, st domain.Stores, marketID, winningOutcomeID string) (Resolution, error) {
	market, err := st.Markets.GetByID(ctx, marketID)
	if err != nil {
		return Resolution{}, lookup(err, "market %s not found", marketID)
	}
	if !market.Open() {
		return Resolution{}, domain.ErrAlreadyResolved
	}

	options, err := st.Outcomes.ListOptions(ctx, marketID)
	if err != nil {
		return Resolution{}, err
	}
	var winningOpt *domain.Option
	for i := range options {
		if options[i].Contains(winningOutcomeID) {
			winningOpt = &options[i]
			break
		}
	}
	if winningOpt == nil {
		return Resolution{}, validationf("outcome %s is not part of market %s", winningOutcomeID, marketID)
	}
	winner, err := st.Outcomes.GetByID(ctx, winningOutcomeID)
	if err != nil {
		return Resolution{}, lookup(err, "outcome %s not found", winningOutcomeID)
	}

	// Only the winning leg of the winning option wins; every other leg of
	// every option loses.
	winners := []string{winningOutcomeID}
	var losers []string
	for _, opt := range options {
		for _, leg := range []string{opt.YesOutcomeID, opt.NoOutcomeID} {
			if leg != winningOutcomeID {
				losers = append(losers, leg)
			}
		}
	}

	positions, err := st.Positions.ListByMarket(ctx, marketID)
	if err != nil {
		return Resolution{}, err
	}
	payouts := map[string]decimal.Decimal{}
	affected := map[string]struct{}{}
	var order []string
	for _, pos := range positions {
		if _, ok := affected[pos.UserID]; !ok {
			affected[pos.UserID] = struct{}{}
			order = append(order, pos.UserID)
		}
		if pos.OutcomeID != winningOutcomeID || !pos.Amount.IsPositive() {
			continue
		}
		payouts[pos.UserID] = payouts[pos.UserID].Add(pos.Amount)
	}
	for _, userID := range order {
		amount, ok := payouts[userID]
		if !ok {
			continue
		}
		if err := st.Users.AdjustBalance(ctx, userID, amount); err != nil {
			return Resolution{}, err
		}
		if err := st.Users.AddProfit(ctx, userID, amount); err != nil {
			return Resolution{}, err
		}
	}

	if _, err := st.Positions.DeleteByMarket(ctx, marketID); err != nil {
		return Resolution{}, err
	}

	now := time.Now().UTC()
	if err := st.Markets.MarkResolved(ctx, marketID, winner.Name, now); err != nil {
		return Resolution{}, err
	}
	if err := st.Outcomes.SetWinners(ctx, winners, losers); err != nil {
		return Resolution{}, err
	}

	cancelled, err := st.Orders.CancelPending(ctx, marketID)
	if err != nil {
		return Resolution{}, err
	}
	for _, o := range cancelled {
		if err := refund(ctx, st, o); err != nil {
			return Resolution{}, err
		}
		if _, ok := affected[o.UserID]; !ok && o.UserID != s.cfg.MarketMakerID {
			affected[o.UserID] = struct{}{}
			order = append(order, o.UserID)
		}
	}

	for _, userID := range order {
		if userID == s.cfg.MarketMakerID {
			continue
		}
		if err := s.positions.Revalue(ctx, st, userID); err != nil {
			return Resolution{}, err
		}
	}

	return Resolution{
		MarketID:           marketID,
		WinningOutcomeID:   winningOutcomeID,
		WinningOutcomeName: winner.Name,
		WinningOutcomeIDs:  winners,
		LosingOutcomeIDs:   losers,
		Payouts:            payouts,
		CancelledOrders:    len(cancelled),
		ResolvedAt:         now,
	}, nil
}
