package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges, in order, the built-in defaults, the TOML file at path (when
// path is not empty), a .env file in the working directory and PREDICTEX_*
// environment variables. Prefixed variables win over their unprefixed
// aliases. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTEX_MODE")
	setStr(&cfg.LogLevel, "PREDICTEX_LOG_LEVEL")
	setStr(&cfg.Storage, "PREDICTEX_STORAGE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.DSN, "PREDICTEX_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "PREDICTEX_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PREDICTEX_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PREDICTEX_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PREDICTEX_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PREDICTEX_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PREDICTEX_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PREDICTEX_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PREDICTEX_SUPABASE_POOL_MIN_CONNS")
	setDuration(&cfg.Supabase.MaxConnLifetime, "PREDICTEX_SUPABASE_MAX_CONN_LIFETIME")
	setBool(&cfg.Supabase.PreferIPv4, "PREDICTEX_SUPABASE_PREFER_IPV4")
	setBool(&cfg.Supabase.RunMigrations, "PREDICTEX_SUPABASE_RUN_MIGRATIONS")
	setStr(&cfg.Supabase.ApiURL, "SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.ApiURL, "PREDICTEX_SUPABASE_API_URL")
	setStr(&cfg.Supabase.AnonKey, "SUPABASE_ANON_KEY") // compatibility alias
	setStr(&cfg.Supabase.AnonKey, "PREDICTEX_SUPABASE_ANON_KEY")
	setDuration(&cfg.Supabase.AuthTimeout, "PREDICTEX_SUPABASE_AUTH_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTEX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICTEX_REDIS_KEY_PREFIX")
	setInt(&cfg.Redis.StreamMaxLen, "PREDICTEX_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTEX_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setStr(&cfg.Engine.MarketMakerID, "PREDICTEX_ENGINE_MARKET_MAKER_ID")
	setBool(&cfg.Engine.SyntheticLiquidity, "PREDICTEX_ENGINE_SYNTHETIC_LIQUIDITY")
	setFloat64(&cfg.Engine.BaseSpread, "PREDICTEX_ENGINE_BASE_SPREAD")
	setFloat64(&cfg.Engine.LiquidityFactor, "PREDICTEX_ENGINE_LIQUIDITY_FACTOR")
	setFloat64(&cfg.Engine.VolumeImpactFactor, "PREDICTEX_ENGINE_VOLUME_IMPACT_FACTOR")
	setFloat64(&cfg.Engine.MinPrice, "PREDICTEX_ENGINE_MIN_PRICE")
	setFloat64(&cfg.Engine.MaxPrice, "PREDICTEX_ENGINE_MAX_PRICE")
	setDuration(&cfg.Engine.LockTTL, "PREDICTEX_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "PREDICTEX_ENGINE_LOCK_WAIT")
	setFloat64(&cfg.Engine.StartingBalance, "PREDICTEX_ENGINE_STARTING_BALANCE")
	setStr(&cfg.Engine.EmailDomain, "PREDICTEX_ENGINE_EMAIL_DOMAIN")

	// ── Auth ──
	setStr(&cfg.Auth.Provider, "PREDICTEX_AUTH_PROVIDER")
	setStringMap(&cfg.Auth.StaticTokens, "PREDICTEX_AUTH_STATIC_TOKENS")
	setStr(&cfg.Auth.AgentKey, "PREDICTEX_AUTH_AGENT_KEY")
	setStr(&cfg.Auth.CronKey, "PREDICTEX_AUTH_CRON_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setInt(&cfg.Server.Port, "PREDICTEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTEX_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PREDICTEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PREDICTEX_SERVER_RATE_WINDOW")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.PriceInterval, "PREDICTEX_PIPELINE_PRICE_INTERVAL")
	setDuration(&cfg.Pipeline.ValuationInterval, "PREDICTEX_PIPELINE_VALUATION_INTERVAL")
	setDuration(&cfg.Pipeline.HistoryRetention, "PREDICTEX_PIPELINE_HISTORY_RETENTION")
	setDuration(&cfg.Pipeline.ArchiveRetention, "PREDICTEX_PIPELINE_ARCHIVE_RETENTION")
	setStr(&cfg.Pipeline.ArchiveCron, "PREDICTEX_PIPELINE_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTEX_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setStringMap parses "k1=v1,k2=v2" into dst.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = val
	}
	if len(out) > 0 {
		*dst = out
	}
}
