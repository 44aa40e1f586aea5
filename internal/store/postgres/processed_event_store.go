package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// ProcessedEventStore implements domain.ProcessedEventStore using PostgreSQL.
// It exposes recorded idempotency keys to the archiver; ledger rows are never
// touched here.
type ProcessedEventStore struct {
	pool *pgxpool.Pool
}

// NewProcessedEventStore creates a ProcessedEventStore backed by the given
// pool.
func NewProcessedEventStore(pool *pgxpool.Pool) *ProcessedEventStore {
	return &ProcessedEventStore{pool: pool}
}

// ListBefore returns up to limit idempotency keys applied strictly before the
// given time, oldest first.
func (s *ProcessedEventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ProcessedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, tx_id, event_index, applied_at
		FROM processed_events
		WHERE applied_at < $1
		ORDER BY applied_at ASC
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed events before: %w", err)
	}
	defer rows.Close()

	var events []domain.ProcessedEvent
	for rows.Next() {
		var e domain.ProcessedEvent
		if err := rows.Scan(&e.ChainID, &e.TxID, &e.EventIndex, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan processed event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list processed events before: %w", err)
	}
	return events, nil
}

// DeleteBefore deletes idempotency keys applied strictly before the given
// time and returns the number deleted.
func (s *ProcessedEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE applied_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete processed events before: %w", err)
	}
	return tag.RowsAffected(), nil
}
