package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// WatermarkStore implements domain.WatermarkStore using PostgreSQL.
type WatermarkStore struct {
	pool *pgxpool.Pool
}

// NewWatermarkStore creates a WatermarkStore backed by the given pool.
func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Get returns the watermark for a chain, or domain.ErrNotFound when the
// chain has never synced.
func (s *WatermarkStore) Get(ctx context.Context, chainID string) (domain.Watermark, error) {
	wm := domain.Watermark{ChainID: chainID}
	err := s.pool.QueryRow(ctx,
		`SELECT position, cursor, updated_at FROM watermarks WHERE chain_id = $1`,
		chainID,
	).Scan(&wm.Position.Block, &wm.Position.Cursor, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Watermark{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("postgres: get watermark %s: %w", chainID, err)
	}
	return wm, nil
}

// Save upserts the watermark. Range chains carry an empty cursor and get a
// monotonic guard on the numeric position; cursor saves always advance, the
// paging API only ever hands out forward cursors and their numeric surrogate
// is not ordered.
func (s *WatermarkStore) Save(ctx context.Context, wm domain.Watermark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watermarks (chain_id, position, cursor, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id) DO UPDATE
		SET position = EXCLUDED.position,
		    cursor = EXCLUDED.cursor,
		    updated_at = NOW()
		WHERE EXCLUDED.cursor <> '' OR EXCLUDED.position >= watermarks.position`,
		wm.ChainID, wm.Position.Block, wm.Position.Cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: save watermark %s: %w", wm.ChainID, err)
	}
	return nil
}
