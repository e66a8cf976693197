// Package pricing implements the quote normalizer, the smoothed spread
// estimator, and the tiered price cache that together form the price
// distribution layer of the engine.
package pricing

import (
	"fmt"
	"math"

	"github.com/tradeclash/marginbot/internal/domain"
)

// priceScale rounds all prices to 5 decimal places, the standard fractional
// pip precision for FX quotes.
const priceScale = 1e5

func roundPrice(v float64) float64 {
	return math.Round(v*priceScale) / priceScale
}

// Normalize validates a raw quote and recomputes its derived fields. Bid and
// ask are rounded to 5 decimals, mid and spread are always rebuilt from them,
// and the result satisfies bid <= mid <= ask with spread >= 0.
//
// Quotes with a missing side or with bid above ask are rejected with
// domain.ErrBadQuote; callers keep the previous value in that case.
func Normalize(q domain.PriceQuote) (domain.PriceQuote, error) {
	if q.Bid <= 0 || q.Ask <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("pricing: %s missing bid/ask: %w", q.Symbol, domain.ErrBadQuote)
	}

	bid := roundPrice(q.Bid)
	ask := roundPrice(q.Ask)
	if bid > ask {
		return domain.PriceQuote{}, fmt.Errorf("pricing: %s bid %.5f above ask %.5f: %w",
			q.Symbol, bid, ask, domain.ErrBadQuote)
	}

	mid := roundPrice((bid + ask) / 2)
	// Rounding can push the midpoint a fraction outside the band; clamp it.
	if mid < bid {
		mid = bid
	}
	if mid > ask {
		mid = ask
	}

	q.Bid = bid
	q.Ask = ask
	q.Mid = mid
	q.Spread = roundPrice(ask - bid)
	return q, nil
}
