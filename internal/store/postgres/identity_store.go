package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// IdentityStore implements domain.IdentityStore using PostgreSQL.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// NewIdentityStore creates an IdentityStore backed by the given pool.
func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// Bind inserts the binding if absent. An existing binding for the same
// (address, chain) wins and the call is a no-op; there is no rebinding path.
func (s *IdentityStore) Bind(ctx context.Context, b domain.IdentityBinding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_bindings (address, chain_id, telegram_id, is_banned)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, chain_id) DO NOTHING`,
		b.Address, b.ChainID, b.TelegramID, b.IsBanned,
	)
	if err != nil {
		return fmt.Errorf("postgres: bind identity: %w", err)
	}
	return nil
}

// Get returns the binding for an address, or domain.ErrNotFound.
func (s *IdentityStore) Get(ctx context.Context, address, chainID string) (domain.IdentityBinding, error) {
	var b domain.IdentityBinding
	err := s.pool.QueryRow(ctx, `
		SELECT address, chain_id, telegram_id, is_banned, created_at
		FROM identity_bindings
		WHERE address = $1 AND chain_id = $2`,
		address, chainID,
	).Scan(&b.Address, &b.ChainID, &b.TelegramID, &b.IsBanned, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IdentityBinding{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IdentityBinding{}, fmt.Errorf("postgres: get identity: %w", err)
	}
	return b, nil
}

// SetBanned records the confirmed moderation state. A no-op when no binding
// exists.
func (s *IdentityStore) SetBanned(ctx context.Context, address, chainID string, banned bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identity_bindings
		SET is_banned = $3
		WHERE address = $1 AND chain_id = $2`,
		address, chainID, banned,
	)
	if err != nil {
		return fmt.Errorf("postgres: set banned: %w", err)
	}
	return nil
}
