package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeTrade(id string) domain.QueuedTrade {
	return domain.QueuedTrade{
		ID:         id,
		UserID:     "u1",
		PositionID: "pos-" + id,
		Action:     domain.TradeActionClose,
		Payload: domain.TradePayload{
			ExitPrice: 1.0949,
			Reason:    domain.CloseReasonStopLoss,
		},
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, closeTrade(fmt.Sprintf("t%d", i))))
	}

	for i := 0; i < 3; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("t%d", i), got.ID)
	}
}

func TestMemoryQueueDequeueEmpty(t *testing.T) {
	q := NewMemoryQueue(testLogger())
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, domain.ErrQueueEmpty)
}

func TestMemoryQueueDequeueClaimsIntoProcessing(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(testLogger())
	require.NoError(t, q.Enqueue(ctx, closeTrade("t1")))

	tr, err := q.Dequeue(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Processing)

	require.NoError(t, q.Complete(ctx, tr))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}

func TestMemoryQueueRequeueIncrementsRetries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(testLogger())
	require.NoError(t, q.Enqueue(ctx, closeTrade("t1")))

	tr, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, tr))

	tr, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Retries)
}

func TestMemoryQueueDropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(testLogger())
	require.NoError(t, q.Enqueue(ctx, closeTrade("t1")))

	// Each failed attempt bumps the retry counter; after the budget is spent
	// the trade is dropped rather than cycling forever.
	for i := 0; i <= domain.MaxTradeRetries; i++ {
		tr, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, tr.Retries)
		require.NoError(t, q.Requeue(ctx, tr))
	}

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, domain.ErrQueueEmpty)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}
