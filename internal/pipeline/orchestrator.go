// Package pipeline runs the background jobs of worker mode.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Schedule holds the job cadences.
type Schedule struct {
	PriceInterval     time.Duration
	ValuationInterval time.Duration
	ArchiveCron       string
}

// Orchestrator runs the recorder, the valuation job and the archiver
// concurrently. The archiver is optional.
type Orchestrator struct {
	recorder  *PriceRecorder
	valuation *ValuationJob
	archiver  *Archiver
	schedule  Schedule
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil.
func NewOrchestrator(
	recorder *PriceRecorder,
	valuation *ValuationJob,
	archiver *Archiver,
	schedule Schedule,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		recorder:  recorder,
		valuation: valuation,
		archiver:  archiver,
		schedule:  schedule,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled or a job fails. Cancellation is a clean
// shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting",
		slog.Duration("price_interval", o.schedule.PriceInterval),
		slog.Duration("valuation_interval", o.schedule.ValuationInterval),
		slog.String("archive_cron", o.schedule.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)
	start := func(name string, run func(context.Context) error) {
		g.Go(func() error {
			err := run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	start("price recorder", func(ctx context.Context) error {
		return o.recorder.RunLoop(ctx, o.schedule.PriceInterval)
	})
	start("valuation", func(ctx context.Context) error {
		return o.valuation.RunLoop(ctx, o.schedule.ValuationInterval)
	})
	if o.archiver != nil && o.schedule.ArchiveCron != "" {
		start("archiver", func(ctx context.Context) error {
			return o.archiver.RunCron(ctx, o.schedule.ArchiveCron)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
