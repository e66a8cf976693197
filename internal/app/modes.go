package app

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/tradeclash/marginbot/internal/blob/s3"
	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/feed"
	"github.com/tradeclash/marginbot/internal/notify"
	"github.com/tradeclash/marginbot/internal/platform/fxwire"
	"github.com/tradeclash/marginbot/internal/queue"
	"github.com/tradeclash/marginbot/internal/reconcile"
	"github.com/tradeclash/marginbot/internal/service"
)

// EngineMode runs ingestion, trigger checks, settlement workers, and the
// reconciliation sweep.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")
	return a.runEngine(ctx, deps, false)
}

// MonitorMode serves prices only: streaming ingestion keeps the cache warm,
// but no settlement or sweep runs because there is no system of record.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	stream := a.newStream(deps)

	g.Go(func() error {
		return a.runStream(ctx, stream, deps.Notifier)
	})
	g.Go(func() error {
		ingestor := feed.NewIngestor(
			stream.Events(), deps.PriceCache, deps.Spreads, deps.Index, deps.TradeQueue, a.logger,
		)
		return ingestor.Run(ctx)
	})

	return g.Wait()
}

// FullMode is engine mode plus the ledger archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runEngine(ctx, deps, a.cfg.Archive.Enabled)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, withArchiver bool) error {
	g, ctx := errgroup.WithContext(ctx)

	prices := service.NewPriceService(deps.PriceCache, a.logger)
	settlement := service.NewSettlementService(
		deps.PositionStore, deps.LedgerStore, deps.Notifier, a.cfg.Risk.ContractSize, a.logger,
	)

	// Streaming ingestion.
	stream := a.newStream(deps)
	g.Go(func() error {
		return a.runStream(ctx, stream, deps.Notifier)
	})
	g.Go(func() error {
		ingestor := feed.NewIngestor(
			stream.Events(), deps.PriceCache, deps.Spreads, deps.Index, deps.TradeQueue, a.logger,
		)
		return ingestor.Run(ctx)
	})

	// Settlement workers.
	for i := 0; i < a.cfg.Queue.Workers; i++ {
		worker := queue.NewWorker(deps.TradeQueue, settlement, a.cfg.Queue.IdleWait.Duration, a.logger)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}

	// Reconciliation sweep.
	sweeper := reconcile.New(
		reconcile.Config{
			Interval:     a.cfg.Sweep.Interval.Duration,
			ContractSize: a.cfg.Risk.ContractSize,
		},
		deps.PositionStore,
		deps.AccountStore,
		deps.SettingsStore,
		prices,
		deps.Index,
		deps.TradeQueue,
		deps.LockManager,
		deps.Notifier,
		a.logger,
	)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	// Ledger archiver.
	if withArchiver && deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(
			s3blob.ArchiverConfig{
				Retention: a.cfg.Archive.Retention.Duration,
				Interval:  a.cfg.Archive.Interval.Duration,
			},
			deps.BlobWriter,
			deps.LedgerStore,
			a.logger,
		)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	return g.Wait()
}

func (a *App) newStream(deps *Dependencies) *fxwire.StreamClient {
	return fxwire.NewStreamClient(fxwire.StreamConfig{
		URL:                  a.cfg.Feed.WsURL,
		Key:                  a.cfg.Feed.ApiKey,
		Secret:               a.cfg.Feed.ApiSecret,
		Symbols:              a.cfg.Feed.Symbols,
		BaseReconnectDelay:   a.cfg.Feed.ReconnectDelay.Duration,
		MaxReconnectAttempts: a.cfg.Feed.MaxReconnectAttempts,
	}, a.logger)
}

// runStream drives the streaming connection. Exhausting the reconnect budget
// disables streaming for the process lifetime but is not fatal: the cache
// keeps serving from the fetch and fallback tiers, so the error is reported
// and swallowed.
func (a *App) runStream(ctx context.Context, stream *fxwire.StreamClient, notifier *notify.Notifier) error {
	err := stream.Run(ctx)
	if errors.Is(err, domain.ErrStreamDisabled) {
		a.logger.ErrorContext(ctx, "streaming disabled, continuing on fetch and fallback tiers")
		if notifier != nil {
			if nerr := notifier.Notify(ctx, notify.EventStreamDegraded,
				"Streaming disabled",
				"The market-data stream exhausted its reconnect budget; prices now come from fetch and fallback tiers until restart.",
			); nerr != nil {
				a.logger.WarnContext(ctx, "notification failed", slog.String("error", nerr.Error()))
			}
		}
		return nil
	}
	return err
}
