package domain

import (
	"context"
	"time"
)

// PositionStore is the system of record for positions. The engine reads open
// positions from it and writes settlement results back through Close.
type PositionStore interface {
	// ListOpenWithTriggers returns every open position that has at least one
	// of stop-loss or take-profit set. Used by the reconciliation sweep to
	// rebuild the trigger index wholesale.
	ListOpenWithTriggers(ctx context.Context) ([]TrackedPosition, error)

	// ListOpenByUser returns all open positions for one user, with or
	// without triggers, for margin evaluation.
	ListOpenByUser(ctx context.Context, userID string) ([]TrackedPosition, error)

	GetByID(ctx context.Context, id string) (TrackedPosition, error)

	// Close settles a position at the given exit price. It must be
	// idempotent: closing an already-closed position returns ErrNotFound.
	Close(ctx context.Context, id string, exitPrice float64, reason CloseReason, realizedPnL float64) error
}

// AccountStore reads margin books for the sweep's per-user margin
// re-evaluation.
type AccountStore interface {
	// ListActiveAccounts returns every account with at least one open
	// position.
	ListActiveAccounts(ctx context.Context) ([]MarginAccount, error)
}

// RiskSettingsStore supplies per-context margin thresholds and order limits.
type RiskSettingsStore interface {
	// Thresholds returns the risk settings for a competition context,
	// falling back to DefaultRiskThresholds when none are stored.
	Thresholds(ctx context.Context, contextID string) (RiskThresholds, error)
}

// LedgerStore records settled closures for audit and reporting. RecordClosure
// is called fire-and-forget by the settlement worker.
type LedgerStore interface {
	RecordClosure(ctx context.Context, c Closure) error
	ListClosuresBefore(ctx context.Context, cutoff time.Time, limit int) ([]Closure, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
