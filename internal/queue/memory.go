// Package queue implements the trade execution queue that decouples trigger
// detection from settlement, plus the worker that drains it. The durable
// redis-backed implementation lives in internal/cache/redis; the in-memory
// implementation here has identical semantics and serves tests and
// redis-less deployments.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tradeclash/marginbot/internal/domain"
)

// MemoryQueue is a process-local domain.TradeQueue. Enqueue is append-only
// and never blocks, so it is safe to call from the tick path.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []domain.QueuedTrade
	processing map[string]domain.QueuedTrade
	logger     *slog.Logger
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]domain.QueuedTrade),
		logger:     logger.With(slog.String("component", "trade_queue")),
	}
}

// Enqueue appends a trade to the pending queue.
func (q *MemoryQueue) Enqueue(_ context.Context, t domain.QueuedTrade) error {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	return nil
}

// Dequeue claims the oldest pending trade and moves it to processing.
func (q *MemoryQueue) Dequeue(_ context.Context) (domain.QueuedTrade, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.QueuedTrade{}, domain.ErrQueueEmpty
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[t.ID] = t
	return t, nil
}

// Complete removes a settled trade from processing.
func (q *MemoryQueue) Complete(_ context.Context, t domain.QueuedTrade) error {
	q.mu.Lock()
	delete(q.processing, t.ID)
	q.mu.Unlock()
	return nil
}

// Requeue moves a failed trade out of processing and back into the pending
// queue with an incremented retry count. Once the retry budget is exhausted
// the trade is dropped with an error-level log record, never silently.
func (q *MemoryQueue) Requeue(_ context.Context, t domain.QueuedTrade) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, t.ID)
	if t.Retries >= domain.MaxTradeRetries {
		q.logger.Error("trade dropped after max retries",
			slog.String("trade_id", t.ID),
			slog.String("position_id", t.PositionID),
			slog.String("action", string(t.Action)),
			slog.Int("retries", t.Retries),
		)
		return nil
	}
	t.Retries++
	q.pending = append(q.pending, t)
	return nil
}

// Stats returns the pending and processing counts.
func (q *MemoryQueue) Stats(_ context.Context) (domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QueueStats{
		Pending:    len(q.pending),
		Processing: len(q.processing),
	}, nil
}

// Compile-time interface check.
var _ domain.TradeQueue = (*MemoryQueue)(nil)
