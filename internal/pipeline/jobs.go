package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// PriceSnapshotter records and prunes price history.
type PriceSnapshotter interface {
	RecordPrices(ctx context.Context) (int, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Revaluer recomputes every holder's positions value.
type Revaluer interface {
	RevalueAll(ctx context.Context) (int, error)
}

// PriceRecorder snapshots open-market prices on a ticker and drops points
// older than the retention window. A zero retention keeps everything.
type PriceRecorder struct {
	prices    PriceSnapshotter
	retention time.Duration
	logger    *slog.Logger
}

// NewPriceRecorder creates a PriceRecorder.
func NewPriceRecorder(prices PriceSnapshotter, retention time.Duration, logger *slog.Logger) *PriceRecorder {
	return &PriceRecorder{
		prices:    prices,
		retention: retention,
		logger:    logger.With(slog.String("component", "price_recorder")),
	}
}

// Tick records one snapshot and prunes.
func (r *PriceRecorder) Tick(ctx context.Context, now time.Time) {
	n, err := r.prices.RecordPrices(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "record prices failed", slog.String("error", err.Error()))
		return
	}
	r.logger.DebugContext(ctx, "prices recorded", slog.Int("points", n))

	if r.retention <= 0 {
		return
	}
	pruned, err := r.prices.PruneHistory(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.WarnContext(ctx, "prune price history failed", slog.String("error", err.Error()))
		return
	}
	if pruned > 0 {
		r.logger.InfoContext(ctx, "price history pruned", slog.Int64("rows", pruned))
	}
}

// RunLoop ticks immediately and then every interval until ctx ends.
func (r *PriceRecorder) RunLoop(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, r.Tick)
}

// ValuationJob periodically recomputes positions values.
type ValuationJob struct {
	positions Revaluer
	logger    *slog.Logger
}

// NewValuationJob creates a ValuationJob.
func NewValuationJob(positions Revaluer, logger *slog.Logger) *ValuationJob {
	return &ValuationJob{
		positions: positions,
		logger:    logger.With(slog.String("component", "valuation")),
	}
}

// Tick runs one valuation pass.
func (v *ValuationJob) Tick(ctx context.Context, _ time.Time) {
	n, err := v.positions.RevalueAll(ctx)
	if err != nil {
		v.logger.ErrorContext(ctx, "revalue failed", slog.String("error", err.Error()))
		return
	}
	v.logger.DebugContext(ctx, "positions revalued", slog.Int("users", n))
}

// RunLoop ticks immediately and then every interval until ctx ends.
func (v *ValuationJob) RunLoop(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, v.Tick)
}

func runEvery(ctx context.Context, interval time.Duration, tick func(context.Context, time.Time)) error {
	tick(ctx, time.Now().UTC())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			tick(ctx, now.UTC())
		}
	}
}
