package pricing

import (
	"strings"
	"sync"
)

// SymbolClass buckets FX pairs by liquidity for default-spread seeding.
type SymbolClass string

const (
	ClassMajor  SymbolClass = "major"
	ClassCross  SymbolClass = "cross"
	ClassExotic SymbolClass = "exotic"
)

var majorPairs = map[string]struct{}{
	"EURUSD": {}, "GBPUSD": {}, "USDJPY": {}, "USDCHF": {},
	"AUDUSD": {}, "USDCAD": {}, "NZDUSD": {},
}

var majorCurrencies = map[string]struct{}{
	"EUR": {}, "GBP": {}, "USD": {}, "JPY": {},
	"CHF": {}, "AUD": {}, "CAD": {}, "NZD": {},
}

// ClassifySymbol assigns a pair to a liquidity class. Pairs quoted entirely
// in major currencies but not against USD are crosses; anything else is
// exotic.
func ClassifySymbol(symbol string) SymbolClass {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	if _, ok := majorPairs[s]; ok {
		return ClassMajor
	}
	if len(s) == 6 {
		_, baseOK := majorCurrencies[s[:3]]
		_, quoteOK := majorCurrencies[s[3:]]
		if baseOK && quoteOK {
			return ClassCross
		}
	}
	return ClassExotic
}

// DefaultSpread is the conservative per-class seed used until the first real
// bid/ask observation arrives for a symbol.
func DefaultSpread(class SymbolClass) float64 {
	switch class {
	case ClassMajor:
		return 0.0002
	case ClassCross:
		return 0.0005
	default:
		return 0.0020
	}
}

const (
	// Normal exponential smoothing weight for a new spread observation.
	smoothWeight = 0.3

	// Dampened weight applied when the observation jumps more than
	// jumpRatio away from the running value, so one bad quote cannot cause
	// a spread discontinuity.
	dampenedWeight = 0.1

	jumpRatio = 5.0
)

// SpreadEstimator maintains one exponentially smoothed spread per symbol,
// learned from live two-sided quotes. It backs the synthesis of bid/ask for
// aggregate bars that only carry a close price.
type SpreadEstimator struct {
	mu      sync.RWMutex
	spreads map[string]float64
}

// NewSpreadEstimator creates an empty estimator; symbols fall back to their
// class default until observed.
func NewSpreadEstimator() *SpreadEstimator {
	return &SpreadEstimator{spreads: make(map[string]float64)}
}

// Observe folds a real spread observation into the smoothed value. Zero and
// negative observations are ignored.
func (e *SpreadEstimator) Observe(symbol string, observed float64) {
	if observed <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.spreads[symbol]
	if !ok || prev <= 0 {
		e.spreads[symbol] = observed
		return
	}

	w := smoothWeight
	ratio := observed / prev
	if ratio > jumpRatio || ratio < 1/jumpRatio {
		w = dampenedWeight
	}
	e.spreads[symbol] = w*observed + (1-w)*prev
}

// Estimate returns the smoothed spread for a symbol, or the class default
// when the symbol has never been observed.
func (e *SpreadEstimator) Estimate(symbol string) float64 {
	e.mu.RLock()
	s, ok := e.spreads[symbol]
	e.mu.RUnlock()

	if ok && s > 0 {
		return s
	}
	return DefaultSpread(ClassifySymbol(symbol))
}
