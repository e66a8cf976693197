package fxwire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedConn replays a fixed sequence of inbound messages and records
// outbound writes. When the script is exhausted reads fail, ending the
// session like a dropped connection.
type scriptedConn struct {
	mu     sync.Mutex
	reads  [][]byte
	writes [][]byte
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, nil, errors.New("connection reset")
	}
	msg := c.reads[0]
	c.reads = c.reads[1:]
	return 1, msg, nil
}

func (c *scriptedConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }
func (c *scriptedConn) Close() error                     { return nil }

func newTestStream(cfg StreamConfig, dial func(ctx context.Context, url string) (wsConn, error)) *StreamClient {
	c := NewStreamClient(cfg, testLogger())
	c.dial = dial
	return c
}

func authOK() []byte {
	return []byte(`{"event":"auth","success":true}`)
}

func TestBackoffSchedule(t *testing.T) {
	c := NewStreamClient(StreamConfig{BaseReconnectDelay: 2 * time.Second}, testLogger())

	assert.Equal(t, 2*time.Second, c.backoff(1))
	assert.Equal(t, 3*time.Second, c.backoff(2))
	assert.Equal(t, 4500*time.Millisecond, c.backoff(3))
	assert.Equal(t, 6750*time.Millisecond, c.backoff(4))
	// Capped.
	assert.Equal(t, 60*time.Second, c.backoff(20))
}

func TestRunDisablesStreamingAfterReconnectCap(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context, url string) (wsConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}
	c := newTestStream(StreamConfig{
		URL:                  "ws://test",
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectAttempts: 3,
	}, dial)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrStreamDisabled)
	assert.Equal(t, 4, dials) // cap + the attempt that exceeded it
	assert.Equal(t, StateDisconnected, c.State())

	// The events channel is closed on shutdown.
	_, open := <-c.Events()
	assert.False(t, open)
}

func TestRunEmitsEventsAndResetsBudgetAfterSubscribe(t *testing.T) {
	quote := []byte(`{"event":"quote","symbol":"EURUSD","bid":1.0950,"ask":1.0952,"ts":1710072000000}`)

	dials := 0
	dial := func(ctx context.Context, url string) (wsConn, error) {
		dials++
		if dials == 2 {
			return &scriptedConn{reads: [][]byte{authOK(), quote}}, nil
		}
		return nil, errors.New("connection refused")
	}
	c := newTestStream(StreamConfig{
		URL:                  "ws://test",
		Key:                  "k",
		Secret:               "s",
		Symbols:              []string{"EURUSD"},
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectAttempts: 1,
	}, dial)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	var events []domain.FeedEvent
	for ev := range c.Events() {
		events = append(events, ev)
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrStreamDisabled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// The quote made it through before the connection dropped.
	require.Len(t, events, 1)
	q, ok := events[0].(domain.QuoteEvent)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", q.Symbol)

	// The first failed dial spent the whole budget, but the subscribed
	// session reset it, buying one more attempt before giving up.
	assert.Equal(t, 3, dials)
}

func TestSessionSendsAuthThenSubscribe(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{authOK()}}
	dial := func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	c := newTestStream(StreamConfig{
		URL:     "ws://test",
		Key:     "key-id",
		Secret:  "shhh",
		Symbols: []string{"EURUSD", "GBPUSD"},
	}, dial)

	subscribed, err := c.session(context.Background())
	assert.True(t, subscribed)
	require.Error(t, err) // script exhausted: the read loop ends with an error

	require.Len(t, conn.writes, 2)
	assert.Contains(t, string(conn.writes[0]), `"op":"auth"`)
	assert.Contains(t, string(conn.writes[0]), `"key":"key-id"`)
	assert.Contains(t, string(conn.writes[0]), `"sig":"`)
	assert.Contains(t, string(conn.writes[1]), `"op":"subscribe"`)
	assert.Contains(t, string(conn.writes[1]), `"EURUSD"`)
	assert.Contains(t, string(conn.writes[1]), `"GBPUSD"`)
}

func TestSessionAuthRejection(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{
		[]byte(`{"event":"auth","success":false,"message":"bad signature"}`),
	}}
	dial := func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	c := newTestStream(StreamConfig{URL: "ws://test", Key: "k", Secret: "s"}, dial)

	subscribed, err := c.session(context.Background())
	assert.False(t, subscribed)
	require.ErrorIs(t, err, domain.ErrAuthFailed)

	// Only the auth command was sent; no subscribe after a rejection.
	assert.Len(t, conn.writes, 1)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dial := func(ctx context.Context, url string) (wsConn, error) {
		return nil, errors.New("connection refused")
	}
	c := newTestStream(StreamConfig{
		URL:                  "ws://test",
		BaseReconnectDelay:   time.Hour, // would block forever without cancel
		MaxReconnectAttempts: 100,
	}, dial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
