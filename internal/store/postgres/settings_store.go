package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeclash/marginbot/internal/domain"
)

// SettingsStore implements domain.RiskSettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Thresholds returns the risk settings for a competition context. A context
// with no stored row gets the defaults; that is the common case for newly
// created competitions.
func (s *SettingsStore) Thresholds(ctx context.Context, contextID string) (domain.RiskThresholds, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT liquidation_level, margin_call_level, warning_level,
		        max_positions, max_leverage, max_lot_size
		 FROM risk_settings WHERE context_id = $1`, contextID)

	var t domain.RiskThresholds
	err := row.Scan(
		&t.Liquidation, &t.MarginCall, &t.Warning,
		&t.MaxPositions, &t.MaxLeverage, &t.MaxLotSize,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultRiskThresholds(), nil
		}
		return domain.RiskThresholds{}, fmt.Errorf("postgres: get risk settings for %s: %w", contextID, err)
	}
	return t, nil
}

// Compile-time interface check.
var _ domain.RiskSettingsStore = (*SettingsStore)(nil)
