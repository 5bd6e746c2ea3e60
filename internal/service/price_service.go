package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pricing"
)

// PriceService owns every write to outcome prices. Prices of the two legs of
// an option are always written together so they sum to one.
type PriceService struct {
	impact *pricing.Impact
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewPriceService creates a PriceService. cache may be nil.
func NewPriceService(impact *pricing.Impact, cache domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{impact: impact, cache: cache, logger: logger}
}

// Constrain clamps raw into the tradable band and returns it with its
// complement.
func (s *PriceService) Constrain(raw float64) (price, complement float64) {
	return s.impact.Constrain(raw)
}

// Apply sets outcomeID to raw, clamped to the tradable band, and its
// complement to 1 - price, in one conditional write on st. It returns the
// ticks written.
func (s *PriceService) Apply(ctx context.Context, st domain.Stores, marketID, outcomeID string, raw float64) ([]domain.PriceTick, error) {
	opt, err := st.Outcomes.FindOption(ctx, marketID, outcomeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: outcome %s has no option in market %s",
				domain.ErrInvariantViolation, outcomeID, marketID)
		}
		return nil, fmt.Errorf("price_service: find option: %w", err)
	}
	other := opt.Complement(outcomeID)

	target, err := st.Outcomes.GetByID(ctx, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("price_service: get outcome %s: %w", outcomeID, err)
	}
	pair, err := st.Outcomes.GetByID(ctx, other)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: option %s is missing leg %s",
				domain.ErrInvariantViolation, opt.ID, other)
		}
		return nil, fmt.Errorf("price_service: get outcome %s: %w", other, err)
	}

	price, complement := s.impact.Constrain(raw)
	if err := st.Outcomes.SetPrices(ctx, []domain.PriceWrite{
		{OutcomeID: target.ID, Price: price, Version: target.Version},
		{OutcomeID: pair.ID, Price: complement, Version: pair.Version},
	}); err != nil {
		return nil, fmt.Errorf("price_service: set prices for option %s: %w", opt.ID, err)
	}

	return []domain.PriceTick{
		{OutcomeID: target.ID, Price: price},
		{OutcomeID: pair.ID, Price: complement},
	}, nil
}

// Publish pushes committed ticks into the price cache. The last tick per
// outcome wins.
func (s *PriceService) Publish(ctx context.Context, ticks []domain.PriceTick) {
	if s.cache == nil {
		return
	}
	now := time.Now().UTC()
	for _, t := range latestTicks(ticks) {
		if err := s.cache.SetPrice(ctx, t.OutcomeID, t.Price, now); err != nil {
			s.logger.WarnContext(ctx, "price_service: cache price failed",
				slog.String("outcome_id", t.OutcomeID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Prices returns current prices for outcomes, preferring the cache and
// falling back to the stored values.
func (s *PriceService) Prices(ctx context.Context, outcomes []domain.Outcome) map[string]float64 {
	out := make(map[string]float64, len(outcomes))
	for _, o := range outcomes {
		out[o.ID] = o.CurrentPrice
	}
	if s.cache == nil || len(outcomes) == 0 {
		return out
	}

	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		ids = append(ids, o.ID)
	}
	cached, err := s.cache.GetPrices(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "price_service: read cache failed", slog.String("error", err.Error()))
		return out
	}
	for id, p := range cached {
		out[id] = p
	}
	return out
}

// latestTicks keeps the final tick for each outcome, in first-seen order.
func latestTicks(ticks []domain.PriceTick) []domain.PriceTick {
	idx := make(map[string]int, len(ticks))
	var out []domain.PriceTick
	for _, t := range ticks {
		if i, ok := idx[t.OutcomeID]; ok {
			out[i] = t
			continue
		}
		idx[t.OutcomeID] = len(out)
		out = append(out, t)
	}
	return out
}
