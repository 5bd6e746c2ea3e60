// Package config defines the top-level configuration for predictex and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTEX_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Storage  string         `toml:"storage"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Auth     AuthConfig     `toml:"auth"`
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Notify   NotifyConfig   `toml:"notify"`
}

// SupabaseConfig holds the Postgres connection and the GoTrue auth endpoint
// of a Supabase project.
type SupabaseConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	PreferIPv4      bool     `toml:"prefer_ipv4"`
	RunMigrations   bool     `toml:"run_migrations"`
	ApiURL          string   `toml:"api_url"`
	AnonKey         string   `toml:"anon_key"`
	AuthTimeout     duration `toml:"auth_timeout"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// process uses in-memory locks and an in-process event bus.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int    `toml:"stream_max_len"` // entries kept per replay stream
}

// S3Config holds S3-compatible object storage parameters used by the
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig tunes matching, pricing and account provisioning.
type EngineConfig struct {
	MarketMakerID      string   `toml:"market_maker_id"`
	SyntheticLiquidity bool     `toml:"synthetic_liquidity"`
	BaseSpread         float64  `toml:"base_spread"`
	LiquidityFactor    float64  `toml:"liquidity_factor"`
	VolumeImpactFactor float64  `toml:"volume_impact_factor"`
	MinPrice           float64  `toml:"min_price"`
	MaxPrice           float64  `toml:"max_price"`
	LockTTL            duration `toml:"lock_ttl"`
	LockWait           duration `toml:"lock_wait"`
	StartingBalance    float64  `toml:"starting_balance"`
	EmailDomain        string   `toml:"email_domain"`
}

// AuthConfig selects how bearer tokens are verified. Provider "supabase"
// asks GoTrue; "static" maps fixed tokens to user ids. AgentKey guards agent
// registration and CronKey the job trigger endpoint; empty disables them.
type AuthConfig struct {
	Provider     string            `toml:"provider"`
	StaticTokens map[string]string `toml:"static_tokens"`
	AgentKey     string            `toml:"agent_key"`
	CronKey      string            `toml:"cron_key"`
}

// PipelineConfig holds the background job schedule.
type PipelineConfig struct {
	PriceInterval     duration `toml:"price_interval"`
	ValuationInterval duration `toml:"valuation_interval"`
	HistoryRetention  duration `toml:"history_retention"`
	ArchiveRetention  duration `toml:"archive_retention"`
	ArchiveCron       string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of requests a client may make per RateWindow.
	// Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultMarketMakerID is the reserved identity of the synthetic counterparty.
const DefaultMarketMakerID = "d6caee95-1d81-46b4-9528-de16990fc169"

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Storage:  "memory",
		Supabase: SupabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "postgres",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
			AuthTimeout:     duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "predictex",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictex-archive",
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			MarketMakerID:      DefaultMarketMakerID,
			SyntheticLiquidity: true,
			BaseSpread:         0.005,
			LiquidityFactor:    0.002,
			VolumeImpactFactor: 0.005,
			MinPrice:           0.01,
			MaxPrice:           0.99,
			LockTTL:            duration{10 * time.Second},
			LockWait:           duration{5 * time.Second},
			StartingBalance:    1_000_000,
			EmailDomain:        "agents.predictex.local",
		},
		Auth: AuthConfig{
			Provider: "supabase",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Pipeline: PipelineConfig{
			PriceInterval:     duration{time.Minute},
			ValuationInterval: duration{5 * time.Minute},
			HistoryRetention:  duration{180 * 24 * time.Hour},
			ArchiveRetention:  duration{90 * 24 * time.Hour},
			ArchiveCron:       "0 3 * * *",
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "invariant_violation"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	return c.Mode == "server" || c.Mode == "full"
}

// RunsWorker reports whether the mode runs the background pipeline.
func (c *Config) RunsWorker() bool {
	return c.Mode == "worker" || c.Mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage {
	case "memory":
		if c.Mode == "worker" {
			errs = append(errs, "storage: worker mode needs a shared store, set storage = \"postgres\"")
		}
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, postgres)", c.Storage))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 1 {
			errs = append(errs, "redis: stream_max_len must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Engine
	if _, err := uuid.Parse(c.Engine.MarketMakerID); err != nil {
		errs = append(errs, fmt.Sprintf("engine: market_maker_id %q is not a uuid", c.Engine.MarketMakerID))
	}
	if c.Engine.MinPrice <= 0 || c.Engine.MaxPrice >= 1 || c.Engine.MinPrice >= c.Engine.MaxPrice {
		errs = append(errs, "engine: need 0 < min_price < max_price < 1")
	}
	if math.Abs(c.Engine.MinPrice+c.Engine.MaxPrice-1) > 1e-9 {
		errs = append(errs, "engine: min_price and max_price must sum to 1")
	}
	if c.Engine.BaseSpread < 0 || c.Engine.LiquidityFactor < 0 || c.Engine.VolumeImpactFactor < 0 {
		errs = append(errs, "engine: pricing factors must be >= 0")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.LockWait.Duration < 0 {
		errs = append(errs, "engine: lock_wait must be >= 0")
	}
	if c.Engine.StartingBalance < 0 {
		errs = append(errs, "engine: starting_balance must be >= 0")
	}

	// Auth
	switch c.Auth.Provider {
	case "supabase":
		if c.RunsServer() && c.Supabase.ApiURL == "" {
			errs = append(errs, "auth: supabase provider needs supabase.api_url")
		}
	case "static":
		if c.RunsServer() && len(c.Auth.StaticTokens) == 0 {
			errs = append(errs, "auth: static provider needs at least one static_tokens entry")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown auth provider %q (valid: supabase, static)", c.Auth.Provider))
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.RunsWorker() {
		if c.Pipeline.PriceInterval.Duration <= 0 {
			errs = append(errs, "pipeline: price_interval must be > 0")
		}
		if c.Pipeline.ValuationInterval.Duration <= 0 {
			errs = append(errs, "pipeline: valuation_interval must be > 0")
		}
		if c.S3.Enabled {
			if c.Pipeline.ArchiveRetention.Duration <= 0 {
				errs = append(errs, "pipeline: archive_retention must be > 0")
			}
			if c.Pipeline.HistoryRetention.Duration > 0 &&
				c.Pipeline.HistoryRetention.Duration <= c.Pipeline.ArchiveRetention.Duration {
				errs = append(errs, "pipeline: history_retention must exceed archive_retention")
			}
			if len(strings.Fields(c.Pipeline.ArchiveCron)) != 5 {
				errs = append(errs, fmt.Sprintf("pipeline: archive_cron %q must have 5 fields", c.Pipeline.ArchiveCron))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
