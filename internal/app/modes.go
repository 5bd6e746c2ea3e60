package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pipeline"
	"github.com/alanyoungcy/predictex/internal/pricing"
	"github.com/alanyoungcy/predictex/internal/server"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/server/ws"
	"github.com/alanyoungcy/predictex/internal/service"
)

// shutdownTimeout bounds the graceful HTTP drain.
const shutdownTimeout = 5 * time.Second

// services holds the engine services shared by the HTTP surface and the
// pipeline.
type services struct {
	orders     *service.OrderService
	resolution *service.ResolutionService
	positions  *service.PositionService
	markets    *service.MarketService
	accounts   *service.AccountService
	recorder   *pipeline.PriceRecorder
	valuation  *pipeline.ValuationJob
}

func (a *App) newServices(deps *Dependencies) *services {
	ec := a.cfg.Engine
	impact := pricing.NewImpact(pricing.Params{
		BaseSpread:         ec.BaseSpread,
		LiquidityFactor:    ec.LiquidityFactor,
		VolumeImpactFactor: ec.VolumeImpactFactor,
		MinPrice:           ec.MinPrice,
		MaxPrice:           ec.MaxPrice,
	}, nil)
	engine := service.EngineConfig{
		MarketMakerID:      ec.MarketMakerID,
		SyntheticLiquidity: ec.SyntheticLiquidity,
		LockTTL:            ec.LockTTL.Duration,
		LockWait:           ec.LockWait.Duration,
	}

	events := service.NewPublisher(deps.Bus, deps.Tx.Stores().Audit, deps.Notifier, a.logger)
	prices := service.NewPriceService(impact, deps.PriceCache, a.logger)
	positions := service.NewPositionService(deps.Tx, a.logger)
	markets := service.NewMarketService(deps.Tx, prices, events, a.logger)

	return &services{
		orders:     service.NewOrderService(deps.Tx, deps.Locks, prices, impact, events, engine, a.logger),
		resolution: service.NewResolutionService(deps.Tx, deps.Locks, positions, events, engine, a.logger),
		positions:  positions,
		markets:    markets,
		accounts: service.NewAccountService(deps.Tx, deps.Registrar,
			decimal.NewFromFloat(ec.StartingBalance), ec.EmailDomain, events, a.logger),
		recorder:  pipeline.NewPriceRecorder(markets, a.cfg.Pipeline.HistoryRetention.Duration, a.logger),
		valuation: pipeline.NewValuationJob(positions, a.logger),
	}
}

// ServerMode serves the HTTP and WebSocket API. Background jobs only run
// when triggered over the cron endpoint.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.newServices(deps)
	if err := a.seedStaticUsers(ctx, svc); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// WorkerMode runs the scheduled pipeline jobs against a shared store.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, deps, a.newServices(deps))

	return g.Wait()
}

// FullMode runs the API and the pipeline in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.newServices(deps)
	if err := a.seedStaticUsers(ctx, svc); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, svc)
	a.startPipeline(ctx, g, deps, svc)

	return g.Wait()
}

// seedStaticUsers funds a user row for every statically configured token so
// a fresh ledger is immediately usable.
func (a *App) seedStaticUsers(ctx context.Context, svc *services) error {
	if a.cfg.Auth.Provider != "static" {
		return nil
	}
	for _, userID := range a.cfg.Auth.StaticTokens {
		err := svc.accounts.CreateUser(ctx, userID, userID)
		switch {
		case err == nil:
			a.logger.InfoContext(ctx, "seeded static user", slog.String("user_id", userID))
		case errors.Is(err, domain.ErrAlreadyExists):
		default:
			return err
		}
	}
	return nil
}

// startHTTPServer adds the WebSocket hub and the HTTP server to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Markets:   handler.NewMarketHandler(svc.markets, a.logger),
		Orders:    handler.NewOrderHandler(svc.orders, a.logger),
		Positions: handler.NewPositionHandler(svc.positions, a.logger),
		Resolve:   handler.NewResolveHandler(svc.resolution, a.logger),
		Agents:    handler.NewAgentHandler(svc.accounts, a.logger),
		Pipeline: handler.NewPipelineHandler(map[string]handler.Job{
			"update-positions":  svc.valuation.Tick,
			"price-maintenance": svc.recorder.Tick,
		}, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		ReservedIDs: []string{a.cfg.Engine.MarketMakerID},
		AgentKey:    a.cfg.Auth.AgentKey,
		CronKey:     a.cfg.Auth.CronKey,
	}, handlers, hub, deps.Authn, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPipeline adds the job orchestrator to g. The archive step is skipped
// when no archiver is wired.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetention.Duration, a.logger)
	}
	orch := pipeline.NewOrchestrator(svc.recorder, svc.valuation, archiver, pipeline.Schedule{
		PriceInterval:     a.cfg.Pipeline.PriceInterval.Duration,
		ValuationInterval: a.cfg.Pipeline.ValuationInterval.Duration,
		ArchiveCron:       a.cfg.Pipeline.ArchiveCron,
	}, a.logger)

	g.Go(func() error {
		return orch.Run(ctx)
	})
}
