package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeclash/marginbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_price, quantity,
	stop_loss, take_profit, user_id, context_id`

func scanPosition(row pgx.Row) (domain.TrackedPosition, error) {
	var p domain.TrackedPosition
	var side string

	err := row.Scan(
		&p.PositionID, &p.Symbol, &side,
		&p.EntryPrice, &p.Quantity,
		&p.StopLoss, &p.TakeProfit,
		&p.UserID, &p.ContextID,
	)
	if err != nil {
		return domain.TrackedPosition{}, err
	}
	p.Side = domain.PositionSide(side)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.TrackedPosition, error) {
	var positions []domain.TrackedPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListOpenWithTriggers returns every open position carrying at least one of
// stop-loss or take-profit, ordered for deterministic index rebuilds.
func (s *PositionStore) ListOpenWithTriggers(ctx context.Context) ([]domain.TrackedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		   AND (stop_loss IS NOT NULL OR take_profit IS NOT NULL)
		 ORDER BY symbol, opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions with triggers: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpenByUser returns all open positions for one user.
func (s *PositionStore) ListOpenByUser(ctx context.Context, userID string) ([]domain.TrackedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND user_id = $1
		 ORDER BY opened_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for user: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user positions: %w", err)
	}
	return positions, nil
}

// GetByID retrieves a single open position. Closed positions return
// ErrNotFound so the settlement path treats them as already settled.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.TrackedPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE id = $1 AND status = 'open'`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackedPosition{}, domain.ErrNotFound
		}
		return domain.TrackedPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Close settles a position: status, exit price, reason, and realized P&L in
// one statement. The status = 'open' guard makes the close idempotent; a
// second attempt affects zero rows and reports ErrNotFound.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason, realizedPnL float64) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			exit_price   = $2,
			close_reason = $3,
			realized_pnl = $4,
			closed_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, string(reason), realizedPnL)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
