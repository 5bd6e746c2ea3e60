package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictex/internal/auth"
	s3blob "github.com/alanyoungcy/predictex/internal/blob/s3"
	"github.com/alanyoungcy/predictex/internal/cache/redis"
	"github.com/alanyoungcy/predictex/internal/config"
	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/notify"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/service"
	"github.com/alanyoungcy/predictex/internal/store/memory"
	"github.com/alanyoungcy/predictex/internal/store/postgres"
)

// priceCacheTTL bounds how long a cached outcome price may be served.
const priceCacheTTL = 10 * time.Minute

// Dependencies bundles the infrastructure the modes build services on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Tx domain.Transactor

	// Coordination. Redis-backed when enabled, in-process otherwise.
	Locks       domain.LockManager
	Bus         domain.SignalBus
	PriceCache  domain.PriceCache  // nil without Redis
	RateLimiter domain.RateLimiter // nil without Redis

	// Cold storage. Nil when S3 is disabled.
	Archiver domain.Archiver

	// Identity. Nil in worker mode.
	Authn     domain.Authenticator
	Registrar service.Registrar

	Notifier *notify.Notifier

	// Checks are probed by the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Ledger store ---
	switch cfg.Storage {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Supabase.DSN,
			Host:            cfg.Supabase.Host,
			Port:            cfg.Supabase.Port,
			Database:        cfg.Supabase.Database,
			User:            cfg.Supabase.User,
			Password:        cfg.Supabase.Password,
			SSLMode:         cfg.Supabase.SSLMode,
			MaxConns:        cfg.Supabase.PoolMaxConns,
			MinConns:        cfg.Supabase.PoolMinConns,
			MaxConnLifetime: cfg.Supabase.MaxConnLifetime.Duration,
			PreferIPv4:      cfg.Supabase.PreferIPv4,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Tx = postgres.NewTransactor(pgClient)
		deps.Checks["postgres"] = pgClient.Ping
	default:
		logger.WarnContext(ctx, "using in-memory ledger, state is lost on exit")
		deps.Tx = memory.New()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = memory.NewLockManager()
		deps.Bus = memory.NewBus()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Tx.Stores())
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Identity ---
	if cfg.RunsServer() {
		switch cfg.Auth.Provider {
		case "static":
			deps.Authn = auth.NewStatic(cfg.Auth.StaticTokens)
		default:
			sb := auth.NewSupabase(auth.SupabaseConfig{
				URL:     cfg.Supabase.ApiURL,
				AnonKey: cfg.Supabase.AnonKey,
				Timeout: cfg.Supabase.AuthTimeout.Duration,
			})
			deps.Authn = sb
			deps.Registrar = sb
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
