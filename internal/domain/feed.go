package domain

import "time"

// FeedEvent is the tagged union of known market-data feed events. The parse
// boundary converts raw wire messages into exactly one of QuoteEvent,
// AggregateEvent, or StatusEvent; unknown event kinds are dropped there.
type FeedEvent interface {
	feedEvent()
}

// QuoteEvent is a two-sided quote tick from the feed.
type QuoteEvent struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// AggregateEvent is an aggregate bar carrying only a close price. Bid and ask
// are synthesized downstream from the close and the estimated spread.
type AggregateEvent struct {
	Symbol    string
	Close     float64
	Timestamp time.Time
}

// StatusEvent reports a feed-side condition (auth result, market halt).
type StatusEvent struct {
	Code    string
	Message string
}

func (QuoteEvent) feedEvent()     {}
func (AggregateEvent) feedEvent() {}
func (StatusEvent) feedEvent()    {}
