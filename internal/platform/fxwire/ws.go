package fxwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeclash/marginbot/internal/domain"
)

// ConnState is the lifecycle state of the streaming connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

const (
	wsWriteWait    = 10 * time.Second
	wsAuthWait     = 10 * time.Second
	wsReadWait     = 60 * time.Second
	wsDialTimeout  = 15 * time.Second
	backoffFactor  = 1.5
	maxBackoffWait = 60 * time.Second
)

// StreamConfig holds the streaming connection parameters.
type StreamConfig struct {
	URL     string
	Key     string
	Secret  string
	Symbols []string

	// BaseReconnectDelay seeds the exponential backoff (delay × 1.5^attempt).
	BaseReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts; beyond it
	// streaming is permanently disabled for the process lifetime.
	MaxReconnectAttempts int
}

// wsConn is the subset of *websocket.Conn the stream uses; injectable so the
// session logic is testable without a network.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// StreamClient maintains the single process-wide subscription to the fxwire
// stream. It walks disconnected → connecting → authenticating → subscribed,
// reconnects with exponential backoff on unexpected closes, and emits parsed
// feed events in arrival order on Events.
type StreamClient struct {
	cfg    StreamConfig
	logger *slog.Logger

	events chan domain.FeedEvent
	state  atomic.Int32

	// dial is swappable in tests.
	dial func(ctx context.Context, url string) (wsConn, error)
}

// NewStreamClient creates a stream client; events become available on
// Events() once Run is started.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) *StreamClient {
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &StreamClient{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "fxwire_stream")),
		events: make(chan domain.FeedEvent, 1024),
		dial:   gorillaDial,
	}
}

func gorillaDial(ctx context.Context, url string) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Events returns the ordered stream of parsed feed events. The channel is
// closed when streaming shuts down, whether by context cancellation or by
// exhausting the reconnect budget.
func (c *StreamClient) Events() <-chan domain.FeedEvent {
	return c.events
}

// State reports the current connection state.
func (c *StreamClient) State() ConnState {
	return ConnState(c.state.Load())
}

// Run drives the connection until the context is cancelled or the reconnect
// cap is exceeded. In the latter case it returns domain.ErrStreamDisabled so
// the caller can report the degradation; the rest of the system keeps
// serving prices from the fetch and fallback tiers.
func (c *StreamClient) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.state.Store(int32(StateDisconnected))

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		subscribed, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			// A session that reached subscribed resets the failure budget;
			// the cap applies to consecutive failed attempts.
			attempt = 0
		}
		attempt++

		if attempt > c.cfg.MaxReconnectAttempts {
			c.logger.ErrorContext(ctx, "reconnect cap exceeded, streaming disabled for process lifetime",
				slog.Int("attempts", c.cfg.MaxReconnectAttempts),
				slog.String("last_error", err.Error()),
			)
			return domain.ErrStreamDisabled
		}

		delay := c.backoff(attempt)
		c.logger.WarnContext(ctx, "stream session ended, reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff returns BaseReconnectDelay × 1.5^(attempt-1), capped.
func (c *StreamClient) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.cfg.BaseReconnectDelay) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > maxBackoffWait {
		d = maxBackoffWait
	}
	return d
}

// session runs one full connection attempt: dial, authenticate, subscribe,
// then read until the connection drops. It reports whether the subscribed
// state was reached and the error that ended the session.
func (c *StreamClient) session(ctx context.Context) (subscribed bool, err error) {
	c.state.Store(int32(StateConnecting))

	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return false, fmt.Errorf("fxwire: connect: %w", err)
	}
	defer func() {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
	}()

	if err := c.authenticate(conn); err != nil {
		return false, err
	}

	if err := c.subscribe(conn); err != nil {
		return false, fmt.Errorf("fxwire: subscribe: %w", err)
	}
	c.state.Store(int32(StateSubscribed))
	c.logger.InfoContext(ctx, "stream subscribed",
		slog.Int("symbols", len(c.cfg.Symbols)),
	)

	return true, c.readLoop(ctx, conn)
}

// authenticate sends the signed auth command and waits for the server's
// verdict. An auth rejection tears down the connection and ends the attempt.
func (c *StreamClient) authenticate(conn wsConn) error {
	c.state.Store(int32(StateAuthenticating))

	ts := time.Now().UnixMilli()
	cmd := wsCommand{
		Op:  "auth",
		Key: c.cfg.Key,
		Ts:  ts,
		Sig: sign(c.cfg.Secret, c.cfg.Key, ts),
	}
	if err := writeCommand(conn, cmd); err != nil {
		return fmt.Errorf("fxwire: send auth: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsAuthWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("fxwire: read auth reply: %w", err)
	}

	ev, ok := ParseEvent(raw)
	if !ok {
		return fmt.Errorf("fxwire: unexpected auth reply: %w", domain.ErrAuthFailed)
	}
	status, ok := ev.(domain.StatusEvent)
	if !ok || status.Code == "auth_failed" {
		return fmt.Errorf("fxwire: %s: %w", status.Message, domain.ErrAuthFailed)
	}
	return nil
}

// subscribe registers every configured symbol. It runs on each session, so
// all symbols are re-subscribed after a reconnect.
func (c *StreamClient) subscribe(conn wsConn) error {
	return writeCommand(conn, wsCommand{
		Op:      "subscribe",
		Symbols: c.cfg.Symbols,
	})
}

// readLoop parses inbound messages and forwards known events in arrival
// order. The blocking send preserves per-symbol ordering downstream.
func (c *StreamClient) readLoop(ctx context.Context, conn wsConn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("fxwire: read: %w", err)
		}

		ev, ok := ParseEvent(raw)
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeCommand(conn wsConn, cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
