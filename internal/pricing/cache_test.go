package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

type fakeFetcher struct {
	calls  atomic.Int64
	quotes map[string]domain.PriceQuote
	err    error
	delay  time.Duration
}

func (f *fakeFetcher) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.PriceQuote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

type fakeShared struct {
	mu     sync.Mutex
	gets   int
	quotes map[string]domain.PriceQuote
}

func (f *fakeShared) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	out := make(map[string]domain.PriceQuote)
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (f *fakeShared) GetQuote(_ context.Context, symbol string) (domain.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNoQuote
	}
	return q, nil
}

func (f *fakeShared) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quotes == nil {
		f.quotes = make(map[string]domain.PriceQuote)
	}
	f.quotes[q.Symbol] = q
	return nil
}

func (f *fakeShared) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, shared domain.SharedQuoteCache, fetcher domain.QuoteFetcher) (*TieredCache, *time.Time) {
	t.Helper()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	c := NewTieredCache(DefaultCacheConfig(), shared, fetcher, testLogger())
	c.now = func() time.Time { return now }
	return c, &now
}

func streamQuote(symbol string, bid, ask float64, ts time.Time) domain.PriceQuote {
	return domain.PriceQuote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: ts}
}

func TestCacheServesFreshStreamWithoutFetching(t *testing.T) {
	fetcher := &fakeFetcher{}
	c, now := newTestCache(t, nil, fetcher)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceStream, q.Source)
	assert.Equal(t, int64(0), fetcher.calls.Load())
}

func TestCacheDescendsToLocalTierAfterStreamTTL(t *testing.T) {
	c, now := newTestCache(t, nil, nil)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	*now = now.Add(12 * time.Second) // past stream TTL, inside local TTL

	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceCached, q.Source)
	assert.False(t, q.IsStale)
}

func TestCacheFetchesWhenLocalExpires(t *testing.T) {
	fetcher := &fakeFetcher{quotes: map[string]domain.PriceQuote{}}
	c, now := newTestCache(t, nil, fetcher)
	fetcher.quotes["EURUSD"] = streamQuote("EURUSD", 1.0960, 1.0962, *now)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)

	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceFetched, q.Source)
	assert.Equal(t, 1.0960, q.Bid)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestCacheFetchCooldownFallsThroughToLastKnown(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	c, now := newTestCache(t, nil, fetcher)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)

	// First miss triggers a fetch attempt which fails; the quote comes from
	// the last-known tier.
	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
	assert.Equal(t, int64(1), fetcher.calls.Load())

	// A second lookup inside the cooldown must not fetch again.
	*now = now.Add(time.Second)
	q, ok = c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
	assert.Equal(t, int64(1), fetcher.calls.Load())

	// Once the cooldown elapses a new attempt is allowed.
	*now = now.Add(3 * time.Second)
	_, _ = c.Get(context.Background(), "EURUSD")
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCacheSingleFlightUnderConcurrentMisses(t *testing.T) {
	fetcher := &fakeFetcher{
		quotes: map[string]domain.PriceQuote{},
		delay:  20 * time.Millisecond,
	}
	c, _ := newTestCache(t, nil, fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), "GBPUSD")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fetcher.calls.Load(), int64(1))
}

func TestCacheMarksFallbackStaleAfterHorizon(t *testing.T) {
	c, now := newTestCache(t, nil, nil)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)

	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
	assert.True(t, q.IsStale)
}

func TestCacheUnknownSymbolIsAbsentNotError(t *testing.T) {
	c, _ := newTestCache(t, nil, nil)

	_, ok := c.Get(context.Background(), "USDMXN")
	assert.False(t, ok)

	m := c.GetAll(context.Background(), []string{"USDMXN", "USDZAR"})
	assert.Empty(t, m)
}

func TestCacheSharedTierColdStartOnly(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	shared := &fakeShared{quotes: map[string]domain.PriceQuote{
		"EURUSD": streamQuote("EURUSD", 1.0955, 1.0957, base),
	}}
	c, now := newTestCache(t, shared, nil)

	// Cold start: the symbol has never been seen locally, so the shared tier
	// is consulted.
	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceCached, q.Source)
	assert.Equal(t, 1.0955, q.Bid)
	assert.Equal(t, 1, shared.getCount())

	// Once warm, expiry falls through to last-known without going back to the
	// shared tier.
	*now = now.Add(time.Hour)
	q, ok = c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
	assert.Equal(t, 1, shared.getCount())
}

func TestCachePutStreamRejectsInvalidQuoteKeepsPrevious(t *testing.T) {
	c, now := newTestCache(t, nil, nil)

	_, err := c.PutStream(streamQuote("EURUSD", 1.0950, 1.0952, *now))
	require.NoError(t, err)

	_, err = c.PutStream(streamQuote("EURUSD", 1.0960, 1.0940, *now)) // inverted
	require.ErrorIs(t, err, domain.ErrBadQuote)

	q, ok := c.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.0950, q.Bid)
}
