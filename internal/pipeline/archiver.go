package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Archiver copies rows older than the retention window to cold storage.
type Archiver struct {
	blob      domain.Archiver
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that archives rows older than retention.
func NewArchiver(blob domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:      blob,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one archive pass relative to now.
func (a *Archiver) Run(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "archive run starting", slog.Time("cutoff", cutoff))

	steps := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"trades", a.blob.ArchiveTrades},
		{"orders", a.blob.ArchiveOrders},
		{"price_history", a.blob.ArchivePriceHistory},
	}
	counts := make([]any, 0, len(steps))
	for _, step := range steps {
		n, err := step.fn(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive %s before %s: %w", step.name, cutoff.Format(time.RFC3339), err)
		}
		counts = append(counts, slog.Int64(step.name, n))
	}

	a.logger.InfoContext(ctx, "archive run complete", counts...)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx ends.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case fired := <-timer.C:
			if err := a.Run(ctx, fired); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
