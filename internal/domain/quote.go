package domain

import "time"

// QuoteSource identifies which tier of the price pipeline produced a quote.
type QuoteSource string

const (
	QuoteSourceStream   QuoteSource = "stream"
	QuoteSourceFetched  QuoteSource = "fetched"
	QuoteSourceCached   QuoteSource = "cached"
	QuoteSourceFallback QuoteSource = "fallback"
)

// PriceQuote is a single normalized market quote for one symbol. Mid and
// Spread are always recomputed from Bid/Ask by the normalizer, never carried
// over from a previous quote. Quotes are immutable: a new tick for the same
// symbol supersedes the old quote rather than mutating it.
type PriceQuote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Mid       float64
	Spread    float64
	Timestamp time.Time
	Source    QuoteSource

	// IsStale is set when the quote is older than the staleness horizon and
	// is being served only because nothing fresher exists.
	IsStale bool
}

// Age returns how old the quote is relative to now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
