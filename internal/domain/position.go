package domain

import "time"

// PositionSide is the direction of a leveraged position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "stop_loss"
	CloseReasonTakeProfit  CloseReason = "take_profit"
	CloseReasonLiquidation CloseReason = "liquidation"
	CloseReasonManual      CloseReason = "manual"
)

// TrackedPosition is an open position as held by the trigger index. It is
// sourced from the position store and reconciled against it by the sweep;
// StopLoss and TakeProfit are nil when the corresponding threshold is unset.
type TrackedPosition struct {
	PositionID string
	Symbol     string
	Side       PositionSide
	EntryPrice float64
	Quantity   float64
	StopLoss   *float64
	TakeProfit *float64
	UserID     string
	ContextID  string
}

// Closure is the settled record of a closed position written to the ledger.
// The JSON shape is the archive export format and must stay stable.
type Closure struct {
	ID          string      `json:"id"`
	PositionID  string      `json:"position_id"`
	UserID      string      `json:"user_id"`
	ContextID   string      `json:"context_id"`
	Symbol      string      `json:"symbol"`
	ExitPrice   float64     `json:"exit_price"`
	RealizedPnL float64     `json:"realized_pnl"`
	Reason      CloseReason `json:"reason"`
	ClosedAt    time.Time   `json:"closed_at"`
}
