// Package feed consumes the market-data event stream and drives the hot
// path: normalize, cache, learn spreads, and run the trigger check on every
// accepted tick.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/pricing"
	"github.com/tradeclash/marginbot/internal/trigger"
)

// enqueueBuffer bounds the trigger-to-queue handoff so a slow durable queue
// cannot stall tick processing.
const enqueueBuffer = 256

// Ingestor reads feed events and applies them in arrival order, which
// preserves per-symbol quote ordering end to end. Trigger checks run inline
// on the tick path against in-memory state only; the resulting close trades
// are handed to a separate goroutine for the durable enqueue, so the tick
// path never blocks on queue I/O.
type Ingestor struct {
	events  <-chan domain.FeedEvent
	cache   *pricing.TieredCache
	spreads *pricing.SpreadEstimator
	index   *trigger.Index
	queue   domain.TradeQueue
	logger  *slog.Logger

	pending chan domain.QueuedTrade
}

// NewIngestor wires the ingest loop to its collaborators.
func NewIngestor(
	events <-chan domain.FeedEvent,
	cache *pricing.TieredCache,
	spreads *pricing.SpreadEstimator,
	index *trigger.Index,
	queue domain.TradeQueue,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		events:  events,
		cache:   cache,
		spreads: spreads,
		index:   index,
		queue:   queue,
		logger:  logger.With(slog.String("component", "ingestor")),
		pending: make(chan domain.QueuedTrade, enqueueBuffer),
	}
}

// Run processes events until the context is cancelled or the event channel
// closes (streaming shut down).
func (in *Ingestor) Run(ctx context.Context) error {
	in.logger.Info("ingestor started")
	defer in.logger.Info("ingestor stopped")

	go in.enqueueLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in.events:
			if !ok {
				return nil
			}
			in.handle(ctx, ev)
		}
	}
}

// handle applies one feed event.
func (in *Ingestor) handle(ctx context.Context, ev domain.FeedEvent) {
	switch ev := ev.(type) {
	case domain.QuoteEvent:
		q := domain.PriceQuote{
			Symbol:    ev.Symbol,
			Bid:       ev.Bid,
			Ask:       ev.Ask,
			Timestamp: ev.Timestamp,
		}
		norm, err := in.cache.PutStream(q)
		if err != nil {
			in.logger.WarnContext(ctx, "rejected stream quote",
				slog.String("symbol", ev.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		// Only real two-sided quotes feed the spread estimator.
		in.spreads.Observe(norm.Symbol, norm.Spread)
		in.checkTriggers(ctx, norm)

	case domain.AggregateEvent:
		// Bars carry no bid/ask; synthesize both around the close from the
		// learned spread for the symbol.
		half := in.spreads.Estimate(ev.Symbol) / 2
		q := domain.PriceQuote{
			Symbol:    ev.Symbol,
			Bid:       ev.Close - half,
			Ask:       ev.Close + half,
			Timestamp: ev.Timestamp,
		}
		norm, err := in.cache.PutStream(q)
		if err != nil {
			in.logger.WarnContext(ctx, "rejected synthesized quote",
				slog.String("symbol", ev.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		in.checkTriggers(ctx, norm)

	case domain.StatusEvent:
		in.logger.InfoContext(ctx, "feed status",
			slog.String("code", ev.Code),
			slog.String("message", ev.Message),
		)
	}
}

// checkTriggers evaluates SL/TP thresholds for the tick and hands any
// firings to the enqueue goroutine.
func (in *Ingestor) checkTriggers(ctx context.Context, q domain.PriceQuote) {
	firings := in.index.Check(q.Symbol, q.Bid, q.Ask)
	for _, f := range firings {
		t := domain.QueuedTrade{
			ID:         uuid.New().String(),
			UserID:     f.Position.UserID,
			PositionID: f.Position.PositionID,
			Action:     domain.TradeActionClose,
			Payload: domain.TradePayload{
				ExitPrice: f.ExitPrice,
				Reason:    f.Reason,
			},
			Timestamp: time.Now().UTC(),
		}

		select {
		case in.pending <- t:
		default:
			// The reconciliation sweep re-detects the crossing from the
			// system of record, so dropping here is recoverable, but it
			// must leave a trace.
			in.logger.ErrorContext(ctx, "enqueue buffer full, dropping trigger trade",
				slog.String("trade_id", t.ID),
				slog.String("position_id", t.PositionID),
			)
		}
	}
}

// enqueueLoop performs the durable enqueue off the tick path.
func (in *Ingestor) enqueueLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in.pending:
			if err := in.queue.Enqueue(ctx, t); err != nil {
				in.logger.ErrorContext(ctx, "enqueue failed, trade lost until next sweep",
					slog.String("trade_id", t.ID),
					slog.String("position_id", t.PositionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
