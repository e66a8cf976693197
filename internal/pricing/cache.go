package pricing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeclash/marginbot/internal/domain"
)

// CacheConfig holds the tier freshness horizons and fetch throttling knobs of
// the tiered price cache.
type CacheConfig struct {
	// StreamTTL is the maximum age at which a streaming-tier quote is
	// considered real-time.
	StreamTTL time.Duration

	// LocalTTL is the maximum age at which a process-local quote is served
	// without descending further.
	LocalTTL time.Duration

	// FetchCooldown is the minimum interval between upstream fetches,
	// enforced system-wide rather than per caller.
	FetchCooldown time.Duration

	// FetchTimeout bounds a single upstream fetch; a missing response is a
	// fetch failure and the lookup falls through to last-known.
	FetchTimeout time.Duration

	// StaleAfter marks fallback quotes older than this as stale.
	StaleAfter time.Duration

	// SharedWriteInterval throttles opportunistic writes to the shared tier
	// per symbol.
	SharedWriteInterval time.Duration
}

// DefaultCacheConfig returns the production tier horizons.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		StreamTTL:           10 * time.Second,
		LocalTTL:            15 * time.Second,
		FetchCooldown:       2 * time.Second,
		FetchTimeout:        5 * time.Second,
		StaleAfter:          5 * time.Minute,
		SharedWriteInterval: 5 * time.Second,
	}
}

// TieredCache resolves price lookups through a chain of tiers ordered
// freshest to stalest: streaming, process-local, shared (cold start only),
// upstream fetch, last-known. A batch lookup descends only for the symbols
// still missing at each tier, and every write populates the faster tiers so
// subsequent reads stay on the fast path.
//
// All quotes are normalized on the way in, so every quote leaving the cache
// satisfies the bid <= mid <= ask invariant.
type TieredCache struct {
	cfg     CacheConfig
	shared  domain.SharedQuoteCache // optional cross-instance tier
	fetcher domain.QuoteFetcher     // optional upstream fetch
	logger  *slog.Logger

	mu         sync.RWMutex
	stream     map[string]domain.PriceQuote
	local      map[string]domain.PriceQuote
	lastKnown  map[string]domain.PriceQuote
	warmed     map[string]bool // symbol has been seen by this process
	sharedSeen map[string]time.Time

	fetchMu       sync.Mutex
	fetchInFlight bool
	lastFetch     time.Time

	// now is injectable for tests.
	now func() time.Time
}

// NewTieredCache creates a cache with the given collaborators. shared and
// fetcher may be nil; the corresponding tiers are then skipped.
func NewTieredCache(cfg CacheConfig, shared domain.SharedQuoteCache, fetcher domain.QuoteFetcher, logger *slog.Logger) *TieredCache {
	return &TieredCache{
		cfg:        cfg,
		shared:     shared,
		fetcher:    fetcher,
		logger:     logger.With(slog.String("component", "price_cache")),
		stream:     make(map[string]domain.PriceQuote),
		local:      make(map[string]domain.PriceQuote),
		lastKnown:  make(map[string]domain.PriceQuote),
		warmed:     make(map[string]bool),
		sharedSeen: make(map[string]time.Time),
		now:        time.Now,
	}
}

// PutStream ingests a quote from the streaming feed. The quote is normalized
// first; invalid quotes are rejected and the previous value is retained. The
// returned quote is the normalized form actually stored.
func (c *TieredCache) PutStream(q domain.PriceQuote) (domain.PriceQuote, error) {
	q.Source = domain.QuoteSourceStream
	norm, err := Normalize(q)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	c.mu.Lock()
	c.stream[norm.Symbol] = norm
	c.local[norm.Symbol] = norm
	c.lastKnown[norm.Symbol] = norm
	c.warmed[norm.Symbol] = true
	c.mu.Unlock()

	c.writeSharedAsync(norm)
	return norm, nil
}

// Put stores an externally fetched quote into the local and last-known tiers.
func (c *TieredCache) Put(q domain.PriceQuote) (domain.PriceQuote, error) {
	if q.Source == "" {
		q.Source = domain.QuoteSourceFetched
	}
	norm, err := Normalize(q)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	c.storeLocal(norm)
	c.writeSharedAsync(norm)
	return norm, nil
}

// Get resolves a single symbol through the tier chain. The boolean is false
// when no tier, including last-known, has ever seen the symbol; callers treat
// that as "no price available" rather than an error.
func (c *TieredCache) Get(ctx context.Context, symbol string) (domain.PriceQuote, bool) {
	m := c.GetAll(ctx, []string{symbol})
	q, ok := m[symbol]
	return q, ok
}

// GetAll resolves a batch of symbols. Each tier is consulted only for the
// symbols still missing, so latency is bounded by the slowest missing symbol
// rather than the whole batch. Symbols absent from the result were never seen
// by any tier.
func (c *TieredCache) GetAll(ctx context.Context, symbols []string) map[string]domain.PriceQuote {
	now := c.now()
	result := make(map[string]domain.PriceQuote, len(symbols))

	// Tier 1+2: streaming then process-local, under one read lock.
	missing := symbols[:0:0]
	c.mu.RLock()
	for _, s := range symbols {
		if q, ok := c.stream[s]; ok && q.Age(now) < c.cfg.StreamTTL {
			result[s] = q
			continue
		}
		if q, ok := c.local[s]; ok && q.Age(now) < c.cfg.LocalTTL {
			q.Source = domain.QuoteSourceCached
			result[s] = q
			continue
		}
		missing = append(missing, s)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result
	}

	// Tier 3: shared distributed cache, cold-start symbols only.
	missing = c.fillFromShared(ctx, missing, result)
	if len(missing) == 0 {
		return result
	}

	// Tier 4: upstream fetch under the system-wide cooldown.
	missing = c.fillFromFetch(ctx, missing, result)
	if len(missing) == 0 {
		return result
	}

	// Tier 5: last-known regardless of age.
	c.mu.RLock()
	for _, s := range missing {
		q, ok := c.lastKnown[s]
		if !ok {
			continue
		}
		q.Source = domain.QuoteSourceFallback
		q.IsStale = q.Age(now) > c.cfg.StaleAfter
		result[s] = q
	}
	c.mu.RUnlock()

	return result
}

// fillFromShared consults the shared tier for symbols this process has never
// seen and returns the symbols still missing afterwards.
func (c *TieredCache) fillFromShared(ctx context.Context, symbols []string, result map[string]domain.PriceQuote) []string {
	if c.shared == nil {
		return symbols
	}

	cold := symbols[:0:0]
	c.mu.RLock()
	for _, s := range symbols {
		if !c.warmed[s] {
			cold = append(cold, s)
		}
	}
	c.mu.RUnlock()
	if len(cold) == 0 {
		return symbols
	}

	quotes, err := c.shared.GetQuotes(ctx, cold)
	if err != nil {
		c.logger.WarnContext(ctx, "shared tier lookup failed",
			slog.Int("symbols", len(cold)),
			slog.String("error", err.Error()),
		)
		return symbols
	}

	hit := make(map[string]bool, len(quotes))
	for s, q := range quotes {
		norm, nerr := Normalize(q)
		if nerr != nil {
			continue
		}
		norm.Source = domain.QuoteSourceCached
		c.storeLocal(norm)
		result[s] = norm
		hit[s] = true
	}

	remaining := symbols[:0:0]
	for _, s := range symbols {
		if !hit[s] {
			remaining = append(remaining, s)
		}
	}
	return remaining
}

// fillFromFetch performs at most one upstream fetch per cooldown window
// system-wide. A fetch already in flight, or one issued within the cooldown,
// makes concurrent callers fall through to the next tier instead of piling
// onto the upstream API.
func (c *TieredCache) fillFromFetch(ctx context.Context, symbols []string, result map[string]domain.PriceQuote) []string {
	if c.fetcher == nil {
		return symbols
	}

	c.fetchMu.Lock()
	if c.fetchInFlight || c.now().Sub(c.lastFetch) < c.cfg.FetchCooldown {
		c.fetchMu.Unlock()
		return symbols
	}
	c.fetchInFlight = true
	c.lastFetch = c.now()
	c.fetchMu.Unlock()

	defer func() {
		c.fetchMu.Lock()
		c.fetchInFlight = false
		c.fetchMu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	quotes, err := c.fetcher.FetchQuotes(fetchCtx, symbols)
	if err != nil {
		c.logger.WarnContext(ctx, "upstream fetch failed",
			slog.Int("symbols", len(symbols)),
			slog.String("error", err.Error()),
		)
		return symbols
	}

	hit := make(map[string]bool, len(quotes))
	for s, q := range quotes {
		q.Source = domain.QuoteSourceFetched
		norm, nerr := Normalize(q)
		if nerr != nil {
			c.logger.WarnContext(ctx, "rejected fetched quote",
				slog.String("symbol", s),
				slog.String("error", nerr.Error()),
			)
			continue
		}
		c.storeLocal(norm)
		c.writeSharedAsync(norm)
		result[s] = norm
		hit[s] = true
	}

	remaining := symbols[:0:0]
	for _, s := range symbols {
		if !hit[s] {
			remaining = append(remaining, s)
		}
	}
	return remaining
}

// storeLocal writes a normalized quote into the local and last-known tiers
// and marks the symbol warm.
func (c *TieredCache) storeLocal(q domain.PriceQuote) {
	c.mu.Lock()
	c.local[q.Symbol] = q
	c.lastKnown[q.Symbol] = q
	c.warmed[q.Symbol] = true
	c.mu.Unlock()
}

// writeSharedAsync propagates a quote to the shared tier without blocking the
// ingestion path. Writes are throttled per symbol; failures are logged and
// otherwise ignored because the shared tier is never required for
// correctness.
func (c *TieredCache) writeSharedAsync(q domain.PriceQuote) {
	if c.shared == nil {
		return
	}

	c.mu.Lock()
	last := c.sharedSeen[q.Symbol]
	if c.now().Sub(last) < c.cfg.SharedWriteInterval {
		c.mu.Unlock()
		return
	}
	c.sharedSeen[q.Symbol] = c.now()
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.shared.SetQuote(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("shared tier write failed",
				slog.String("symbol", q.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}()
}
