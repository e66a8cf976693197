package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARGINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARGINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "MARGINBOT_FEED_WS_URL")
	setStr(&cfg.Feed.RestURL, "MARGINBOT_FEED_REST_URL")
	setStr(&cfg.Feed.ApiKey, "MARGINBOT_FEED_API_KEY")
	setStr(&cfg.Feed.ApiSecret, "MARGINBOT_FEED_API_SECRET")
	setStringSlice(&cfg.Feed.Symbols, "MARGINBOT_FEED_SYMBOLS")
	setDuration(&cfg.Feed.ReconnectDelay, "MARGINBOT_FEED_RECONNECT_DELAY")
	setInt(&cfg.Feed.MaxReconnectAttempts, "MARGINBOT_FEED_MAX_RECONNECT_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARGINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARGINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARGINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARGINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARGINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARGINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARGINBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARGINBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARGINBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARGINBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARGINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGINBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARGINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGINBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGINBOT_S3_FORCE_PATH_STYLE")

	// ── Cache ──
	setDuration(&cfg.Cache.StreamTTL, "MARGINBOT_CACHE_STREAM_TTL")
	setDuration(&cfg.Cache.LocalTTL, "MARGINBOT_CACHE_LOCAL_TTL")
	setDuration(&cfg.Cache.FetchCooldown, "MARGINBOT_CACHE_FETCH_COOLDOWN")
	setDuration(&cfg.Cache.FetchTimeout, "MARGINBOT_CACHE_FETCH_TIMEOUT")
	setDuration(&cfg.Cache.StaleAfter, "MARGINBOT_CACHE_STALE_AFTER")

	// ── Risk ──
	setFloat64(&cfg.Risk.ContractSize, "MARGINBOT_RISK_CONTRACT_SIZE")

	// ── Queue ──
	setInt(&cfg.Queue.Workers, "MARGINBOT_QUEUE_WORKERS")
	setDuration(&cfg.Queue.IdleWait, "MARGINBOT_QUEUE_IDLE_WAIT")

	// ── Sweep ──
	setDuration(&cfg.Sweep.Interval, "MARGINBOT_SWEEP_INTERVAL")
	setBool(&cfg.Sweep.DistributedLock, "MARGINBOT_SWEEP_DISTRIBUTED_LOCK")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARGINBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Retention, "MARGINBOT_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "MARGINBOT_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARGINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARGINBOT_MODE")
	setStr(&cfg.LogLevel, "MARGINBOT_LOG_LEVEL")
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
