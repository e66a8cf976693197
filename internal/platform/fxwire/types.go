// Package fxwire implements the client side of the fxwire market-data
// service: a REST endpoint for on-demand quote snapshots and a WebSocket
// stream of quote and aggregate-bar events, both authenticated with an
// HMAC-SHA256 shared secret.
package fxwire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tradeclash/marginbot/internal/domain"
)

// wsCommand is an outbound WebSocket control message.
type wsCommand struct {
	Op      string   `json:"op"`
	Key     string   `json:"key,omitempty"`
	Ts      int64    `json:"ts,omitempty"`
	Sig     string   `json:"sig,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// wsEnvelope is the common outer shape of every inbound stream message.
type wsEnvelope struct {
	Event   string  `json:"event"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Close   float64 `json:"close"`
	Ts      int64   `json:"ts"` // unix milliseconds
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Success *bool   `json:"success"`
}

// quotePayload is one symbol's entry in a REST snapshot response.
type quotePayload struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Ts     int64   `json:"ts"`
}

// snapshotResponse is the body of GET /v1/quotes.
type snapshotResponse struct {
	Quotes []quotePayload `json:"quotes"`
}

// sign computes the request signature: HMAC-SHA256 over key and timestamp
// with the shared secret, hex encoded.
func sign(secret, key string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent converts a raw stream message into one of the known feed event
// kinds. Unknown event kinds and unparseable messages return (nil, false)
// and are ignored by the caller, never fatal.
func ParseEvent(raw []byte) (domain.FeedEvent, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}

	switch env.Event {
	case "quote":
		if env.Symbol == "" {
			return nil, false
		}
		return domain.QuoteEvent{
			Symbol:    env.Symbol,
			Bid:       env.Bid,
			Ask:       env.Ask,
			Timestamp: time.UnixMilli(env.Ts),
		}, true
	case "agg", "bar":
		if env.Symbol == "" || env.Close <= 0 {
			return nil, false
		}
		return domain.AggregateEvent{
			Symbol:    env.Symbol,
			Close:     env.Close,
			Timestamp: time.UnixMilli(env.Ts),
		}, true
	case "auth", "status":
		code := env.Code
		if code == "" {
			code = env.Event
		}
		msg := env.Message
		if env.Event == "auth" && env.Success != nil && !*env.Success {
			code = "auth_failed"
		}
		return domain.StatusEvent{Code: code, Message: msg}, true
	default:
		return nil, false
	}
}
