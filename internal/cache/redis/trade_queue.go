package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/marginbot/internal/domain"
)

const (
	pendingKey    = "trades:pending"
	processingKey = "trades:processing"
)

// TradeQueue implements domain.TradeQueue on Redis lists. Pending trades are
// LPUSHed and claimed with LMOVE into a processing list, so a trade survives
// process crashes and is visible in exactly one of the two lists at any time.
type TradeQueue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewTradeQueue creates a TradeQueue backed by the given Client.
func NewTradeQueue(c *Client, logger *slog.Logger) *TradeQueue {
	return &TradeQueue{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "trade_queue")),
	}
}

// Enqueue appends a trade to the pending list.
func (tq *TradeQueue) Enqueue(ctx context.Context, t domain.QueuedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s: %w", t.ID, err)
	}
	if err := tq.rdb.LPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("redis: enqueue trade %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue atomically moves the oldest pending trade into the processing list
// and returns it. It returns domain.ErrQueueEmpty when nothing is pending.
func (tq *TradeQueue) Dequeue(ctx context.Context) (domain.QueuedTrade, error) {
	data, err := tq.rdb.LMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.QueuedTrade{}, domain.ErrQueueEmpty
		}
		return domain.QueuedTrade{}, fmt.Errorf("redis: dequeue trade: %w", err)
	}

	var t domain.QueuedTrade
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		// Unparseable entries cannot be settled; drop from processing so
		// they do not wedge the queue, but leave a loud trace.
		tq.rdb.LRem(ctx, processingKey, 1, data)
		tq.logger.ErrorContext(ctx, "dropping unparseable queued trade",
			slog.String("raw", data),
			slog.String("error", err.Error()),
		)
		return domain.QueuedTrade{}, fmt.Errorf("redis: unmarshal trade: %w", err)
	}
	return t, nil
}

// Complete removes a settled trade from the processing list.
func (tq *TradeQueue) Complete(ctx context.Context, t domain.QueuedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s: %w", t.ID, err)
	}
	if err := tq.rdb.LRem(ctx, processingKey, 1, data).Err(); err != nil {
		return fmt.Errorf("redis: complete trade %s: %w", t.ID, err)
	}
	return nil
}

// Requeue removes a failed trade from processing and re-enqueues it with an
// incremented retry count. A trade that has exhausted its retry budget is
// dropped with an error-level log record rather than silently lost.
func (tq *TradeQueue) Requeue(ctx context.Context, t domain.QueuedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s: %w", t.ID, err)
	}
	if err := tq.rdb.LRem(ctx, processingKey, 1, data).Err(); err != nil {
		return fmt.Errorf("redis: requeue remove %s: %w", t.ID, err)
	}

	if t.Retries >= domain.MaxTradeRetries {
		tq.logger.ErrorContext(ctx, "trade dropped after max retries",
			slog.String("trade_id", t.ID),
			slog.String("position_id", t.PositionID),
			slog.String("action", string(t.Action)),
			slog.Int("retries", t.Retries),
		)
		return nil
	}

	t.Retries++
	retry, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal retry %s: %w", t.ID, err)
	}
	if err := tq.rdb.LPush(ctx, pendingKey, retry).Err(); err != nil {
		return fmt.Errorf("redis: requeue trade %s: %w", t.ID, err)
	}
	return nil
}

// Stats returns the pending and processing list lengths.
func (tq *TradeQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := tq.rdb.Pipeline()
	pending := pipe.LLen(ctx, pendingKey)
	processing := pipe.LLen(ctx, processingKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueStats{}, fmt.Errorf("redis: queue stats: %w", err)
	}
	return domain.QueueStats{
		Pending:    int(pending.Val()),
		Processing: int(processing.Val()),
	}, nil
}

// Compile-time interface check.
var _ domain.TradeQueue = (*TradeQueue)(nil)
