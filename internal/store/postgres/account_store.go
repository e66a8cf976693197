package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeclash/marginbot/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// ListActiveAccounts returns every margin account holding at least one open
// position. Accounts with a flat book carry no liquidation risk, so the
// margin sweep never needs them.
func (s *AccountStore) ListActiveAccounts(ctx context.Context) ([]domain.MarginAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.user_id, a.context_id, a.capital, a.used_margin
		 FROM accounts a
		 WHERE EXISTS (
			SELECT 1 FROM positions p
			WHERE p.user_id = a.user_id AND p.status = 'open'
		 )
		 ORDER BY a.user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.MarginAccount
	for rows.Next() {
		var a domain.MarginAccount
		if err := rows.Scan(&a.UserID, &a.ContextID, &a.Capital, &a.UsedMargin); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate accounts: %w", err)
	}
	return accounts, nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
