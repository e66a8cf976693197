package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/tradeclash/marginbot/internal/blob/s3"
	"github.com/tradeclash/marginbot/internal/cache/redis"
	"github.com/tradeclash/marginbot/internal/config"
	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/notify"
	"github.com/tradeclash/marginbot/internal/platform/fxwire"
	"github.com/tradeclash/marginbot/internal/pricing"
	"github.com/tradeclash/marginbot/internal/queue"
	"github.com/tradeclash/marginbot/internal/store/postgres"
	"github.com/tradeclash/marginbot/internal/trigger"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores; nil in monitor mode.
	PositionStore domain.PositionStore
	AccountStore  domain.AccountStore
	SettingsStore domain.RiskSettingsStore
	LedgerStore   domain.LedgerStore

	// Pricing
	PriceCache *pricing.TieredCache
	Spreads    *pricing.SpreadEstimator
	Fetcher    *fxwire.Client

	// Trigger and execution
	Index       *trigger.Index
	TradeQueue  domain.TradeQueue
	LockManager domain.LockManager

	// Blob storage; nil unless the archiver runs.
	BlobWriter *s3blob.Writer

	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (system of record; skipped in monitor mode) ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AccountStore = postgres.NewAccountStore(pool)
		deps.SettingsStore = postgres.NewSettingsStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)
	}

	// --- Redis (shared quote tier, durable queue, leader lock) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	sharedCache := redis.NewQuoteCache(redisClient)
	if cfg.Sweep.DistributedLock {
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// Monitor mode never settles, so it keeps its (empty) queue in memory
	// instead of sharing the durable one.
	if cfg.NeedsPostgres() {
		deps.TradeQueue = redis.NewTradeQueue(redisClient, logger)
	} else {
		deps.TradeQueue = queue.NewMemoryQueue(logger)
	}

	// --- Pricing ---
	deps.Fetcher = fxwire.NewClient(cfg.Feed.RestURL, cfg.Feed.ApiKey, cfg.Feed.ApiSecret)
	deps.Spreads = pricing.NewSpreadEstimator()
	cacheCfg := pricing.DefaultCacheConfig()
	cacheCfg.StreamTTL = cfg.Cache.StreamTTL.Duration
	cacheCfg.LocalTTL = cfg.Cache.LocalTTL.Duration
	cacheCfg.FetchCooldown = cfg.Cache.FetchCooldown.Duration
	cacheCfg.FetchTimeout = cfg.Cache.FetchTimeout.Duration
	cacheCfg.StaleAfter = cfg.Cache.StaleAfter.Duration
	deps.PriceCache = pricing.NewTieredCache(cacheCfg, sharedCache, deps.Fetcher, logger)

	deps.Index = trigger.NewIndex()

	// --- S3 (ledger archive) ---
	if cfg.NeedsS3() {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
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
