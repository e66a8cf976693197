package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/marginbot/internal/domain"
)

// quoteTTL bounds how long a shared-tier quote survives without replacement.
// The shared tier only serves cold starts, so anything older is useless.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.SharedQuoteCache using Redis hashes. Each
// symbol's quote is stored at key "quote:{symbol}" with bid, ask, and a Unix
// nanosecond timestamp; mid and spread are rebuilt by the normalizer on read.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest quote for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.Symbol)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the stored quote for one symbol. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	q, ok := parseQuoteFields(symbol, vals)
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

// GetQuotes retrieves stored quotes for multiple symbols using a pipeline.
// Symbols without a stored quote are silently omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, quoteKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if q, ok := parseQuoteFields(s, vals); ok {
			result[s] = q
		}
	}
	return result, nil
}

func parseQuoteFields(symbol string, vals map[string]string) (domain.PriceQuote, bool) {
	if len(vals) == 0 {
		return domain.PriceQuote{}, false
	}
	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return domain.PriceQuote{}, false
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return domain.PriceQuote{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, false
	}

	return domain.PriceQuote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Unix(0, tsNano),
		Source:    domain.QuoteSourceCached,
	}, true
}

// Compile-time interface check.
var _ domain.SharedQuoteCache = (*QuoteCache)(nil)
