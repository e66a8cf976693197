package domain

import "time"

// TradeAction is the kind of settlement work a queued trade asks for.
type TradeAction string

const (
	TradeActionOpen   TradeAction = "open"
	TradeActionClose  TradeAction = "close"
	TradeActionModify TradeAction = "modify"
)

// MaxTradeRetries bounds how many times a failed trade is re-enqueued before
// it is dropped with an error-level log record.
const MaxTradeRetries = 3

// TradePayload carries the action-specific parameters of a queued trade.
// Close trades set ExitPrice and Reason; modify trades set the new thresholds.
type TradePayload struct {
	ExitPrice  float64     `json:"exit_price,omitempty"`
	Reason     CloseReason `json:"reason,omitempty"`
	StopLoss   *float64    `json:"stop_loss,omitempty"`
	TakeProfit *float64    `json:"take_profit,omitempty"`
}

// QueuedTrade is one unit of settlement work. It is created when a trigger
// fires or a caller requests execution, and only its Retries counter ever
// changes afterwards.
type QueuedTrade struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	PositionID string       `json:"position_id"`
	Action     TradeAction  `json:"action"`
	Payload    TradePayload `json:"payload"`
	Timestamp  time.Time    `json:"timestamp"`
	Retries    int          `json:"retries"`
}

// QueueStats is a point-in-time view of the execution queue for dashboards.
type QueueStats struct {
	Pending    int
	Processing int
}
