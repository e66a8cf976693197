// Package config defines the engine's top-level configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARGINBOT_* environment
// variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Cache    CacheConfig    `toml:"cache"`
	Risk     RiskConfig     `toml:"risk"`
	Queue    QueueConfig    `toml:"queue"`
	Sweep    SweepConfig    `toml:"sweep"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds the market-data provider endpoints and credentials.
type FeedConfig struct {
	WsURL     string   `toml:"ws_url"`
	RestURL   string   `toml:"rest_url"`
	ApiKey    string   `toml:"api_key"`
	ApiSecret string   `toml:"api_secret"`
	Symbols   []string `toml:"symbols"`

	ReconnectDelay       duration `toml:"reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CacheConfig holds the price-cache tier parameters.
type CacheConfig struct {
	StreamTTL     duration `toml:"stream_ttl"`
	LocalTTL      duration `toml:"local_ttl"`
	FetchCooldown duration `toml:"fetch_cooldown"`
	FetchTimeout  duration `toml:"fetch_timeout"`
	StaleAfter    duration `toml:"stale_after"`
}

// RiskConfig holds the engine-wide risk parameters. Per-context thresholds
// live in the risk_settings table; these are process-level knobs.
type RiskConfig struct {
	ContractSize float64 `toml:"contract_size"`
}

// QueueConfig holds the settlement worker parameters.
type QueueConfig struct {
	Workers  int      `toml:"workers"`
	IdleWait duration `toml:"idle_wait"`
}

// SweepConfig holds the reconciliation sweep parameters.
type SweepConfig struct {
	Interval duration `toml:"interval"`

	// DistributedLock gates the sweep behind a redis leader lock so only one
	// instance sweeps per interval.
	DistributedLock bool `toml:"distributed_lock"`
}

// ArchiveConfig holds the ledger archiver parameters.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration with TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Symbols:              []string{"EURUSD", "GBPUSD", "USDJPY"},
			ReconnectDelay:       duration{2 * time.Second},
			MaxReconnectAttempts: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marginbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marginbot-ledger",
			ForcePathStyle: true,
		},
		Cache: CacheConfig{
			StreamTTL:     duration{10 * time.Second},
			LocalTTL:      duration{15 * time.Second},
			FetchCooldown: duration{2 * time.Second},
			FetchTimeout:  duration{5 * time.Second},
			StaleAfter:    duration{5 * time.Minute},
		},
		Risk: RiskConfig{
			ContractSize: 100_000,
		},
		Queue: QueueConfig{
			Workers:  2,
			IdleWait: duration{250 * time.Millisecond},
		},
		Sweep: SweepConfig{
			Interval:        duration{time.Minute},
			DistributedLock: true,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Retention: duration{90 * 24 * time.Hour},
			Interval:  duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "margin_call", "stream_degraded"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the mode requires the system of record.
// Monitor mode only serves prices.
func (c *Config) NeedsPostgres() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "engine" || mode == "full"
}

// NeedsS3 reports whether the ledger archiver will run.
func (c *Config) NeedsS3() bool {
	return c.Archive.Enabled && c.NeedsPostgres()
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}
	if c.Feed.RestURL == "" {
		errs = append(errs, "feed: rest_url must not be empty")
	}
	if c.Feed.ApiKey == "" || c.Feed.ApiSecret == "" {
		errs = append(errs, "feed: api_key and api_secret are required")
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol must be configured")
	}
	if c.Feed.MaxReconnectAttempts < 1 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 1")
	}

	// Postgres, only for modes that use it.
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, only when the archiver runs.
	if c.NeedsS3() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Cache tiers must be ordered: stream ttl <= local ttl < stale window.
	if c.Cache.StreamTTL.Duration <= 0 {
		errs = append(errs, "cache: stream_ttl must be > 0")
	}
	if c.Cache.LocalTTL.Duration < c.Cache.StreamTTL.Duration {
		errs = append(errs, "cache: local_ttl must be >= stream_ttl")
	}
	if c.Cache.StaleAfter.Duration <= c.Cache.LocalTTL.Duration {
		errs = append(errs, "cache: stale_after must exceed local_ttl")
	}
	if c.Cache.FetchCooldown.Duration <= 0 {
		errs = append(errs, "cache: fetch_cooldown must be > 0")
	}

	// Risk
	if c.Risk.ContractSize <= 0 {
		errs = append(errs, "risk: contract_size must be > 0")
	}

	// Queue
	if c.Queue.Workers < 1 {
		errs = append(errs, "queue: workers must be >= 1")
	}

	// Sweep
	if c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
