package notify

// Event types emitted by the engine. The notifier's allow-list filter keys on
// these, so operators can subscribe to a subset (e.g. margin calls only).
const (
	EventPositionClosed = "position_closed"
	EventMarginCall     = "margin_call"
	EventStreamDegraded = "stream_degraded"
	EventQueueDrop      = "queue_drop"
)
