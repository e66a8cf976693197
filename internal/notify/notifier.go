// Package notify fans engine alerts out to operator channels. The engine
// emits a small set of event kinds (position closures, margin calls, stream
// degradation); operators pick the subset they want per deployment and the
// notifier drops the rest.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender delivers one rendered notification over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error

	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier filters events against the configured allow-list and delivers the
// survivors to every sender. Delivery is best effort: one failing channel
// never blocks the others, and callers treat the returned error as log-only.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events is
// the allow-list of event kinds to forward; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the notification when its event kind passes the allow-list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event not in allow-list, dropped",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of the allow-list, for alerts that must never
// be filtered out.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: delivery failed on %d channel(s): %s",
			len(failed), strings.Join(failed, "; "))
	}
	return nil
}
