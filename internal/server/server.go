// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/server/middleware"
	"github.com/alanyoungcy/predictex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
	// ReservedIDs are identities that may never act as a caller.
	ReservedIDs []string
	AgentKey    string
	CronKey     string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Orders    *handler.OrderHandler
	Positions *handler.PositionHandler
	Resolve   *handler.ResolveHandler
	Agents    *handler.AgentHandler
	Pipeline  *handler.PipelineHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// authn resolves bearer tokens; limiter may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	authn domain.Authenticator,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	authed := middleware.Authenticate(authn, cfg.ReservedIDs, logger)
	private := func(f http.HandlerFunc) http.Handler { return authed(f) }

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.Handle("POST /api/markets", private(handlers.Markets.CreateMarket))
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/summary", handlers.Markets.GetSummary)
	mux.HandleFunc("GET /api/markets/{id}/price-history", handlers.Markets.GetPriceHistory)
	mux.HandleFunc("GET /api/markets/{id}/orders", handlers.Orders.ListMarketOrders)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Orders.ListMarketTrades)

	// Trading.
	mux.Handle("GET /api/orders", private(handlers.Orders.ListMyOrders))
	mux.Handle("POST /api/orders", private(handlers.Orders.PlaceOrder))
	mux.Handle("GET /api/orders/{id}", private(handlers.Orders.GetOrder))
	mux.Handle("DELETE /api/orders/{id}", private(handlers.Orders.CancelOrder))
	mux.Handle("POST /api/resolve", private(handlers.Resolve.Resolve))
	mux.Handle("GET /api/positions", private(handlers.Positions.ListPositions))

	// Key-guarded operator endpoints.
	if handlers.Agents != nil {
		mux.Handle("POST /api/agents/auth",
			middleware.RequireKey("X-Agent-Key", cfg.AgentKey)(http.HandlerFunc(handlers.Agents.Register)))
	}
	if handlers.Pipeline != nil {
		mux.Handle("POST /api/cron/{job}",
			middleware.RequireKey("X-Cron-Key", cfg.CronKey)(http.HandlerFunc(handlers.Pipeline.Trigger)))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
