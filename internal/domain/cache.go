package domain

import (
	"context"
	"time"
)

// SharedQuoteCache is the cross-instance quote tier. It is consulted only on
// cold start and written opportunistically; it is never required for
// correctness, only for reducing cold-start fetch volume.
type SharedQuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, symbol string) (PriceQuote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]PriceQuote, error)
}

// QuoteFetcher performs an on-demand upstream fetch for symbols missing from
// every cache tier. Implementations must honor the context deadline.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]PriceQuote, error)
}

// LockManager provides distributed locking, used so that only one engine
// instance runs the reconciliation sweep at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// TradeQueue is the durable execution queue decoupling trigger detection from
// settlement. A dequeued trade is visible in processing until it is completed
// or requeued; it is never in both the pending queue and processing at once.
type TradeQueue interface {
	// Enqueue appends a trade to the pending queue with its current retry
	// count.
	Enqueue(ctx context.Context, t QueuedTrade) error

	// Dequeue pops the oldest pending trade and moves it to the processing
	// set. It returns ErrQueueEmpty when nothing is pending.
	Dequeue(ctx context.Context) (QueuedTrade, error)

	// Complete removes a successfully settled trade from processing.
	Complete(ctx context.Context, t QueuedTrade) error

	// Requeue removes a failed trade from processing and re-enqueues it with
	// an incremented retry count while Retries < MaxTradeRetries; beyond
	// that the trade is dropped with an error-level log record.
	Requeue(ctx context.Context, t QueuedTrade) error

	Stats(ctx context.Context) (QueueStats, error)
}
