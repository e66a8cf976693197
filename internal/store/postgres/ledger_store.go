package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeclash/marginbot/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// RecordClosure inserts one closure row. Duplicate IDs are ignored so a
// retried settlement never double-writes the ledger.
func (s *LedgerStore) RecordClosure(ctx context.Context, c domain.Closure) error {
	const query = `
		INSERT INTO closure_ledger (
			id, position_id, user_id, context_id, symbol,
			exit_price, realized_pnl, reason, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.PositionID, c.UserID, c.ContextID, c.Symbol,
		c.ExitPrice, c.RealizedPnL, string(c.Reason), c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record closure %s: %w", c.ID, err)
	}
	return nil
}

// ListClosuresBefore returns up to limit closures older than cutoff, oldest
// first, for the archiver.
func (s *LedgerStore) ListClosuresBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Closure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, user_id, context_id, symbol,
		        exit_price, realized_pnl, reason, closed_at
		 FROM closure_ledger
		 WHERE closed_at < $1
		 ORDER BY closed_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closures: %w", err)
	}
	defer rows.Close()

	var closures []domain.Closure
	for rows.Next() {
		var c domain.Closure
		var reason string
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.UserID, &c.ContextID, &c.Symbol,
			&c.ExitPrice, &c.RealizedPnL, &reason, &c.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan closure: %w", err)
		}
		c.Reason = domain.CloseReason(reason)
		closures = append(closures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate closures: %w", err)
	}
	return closures, nil
}

// PruneBefore deletes closures older than cutoff and reports how many rows
// went away. Called by the archiver after a successful export.
func (s *LedgerStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM closure_ledger WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune closures: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
