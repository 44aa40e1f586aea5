package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// ApplyTrade applies one trade event in a single transaction: the event's
// idempotency key is inserted first, and the balance mutation only happens
// when that insert took effect. Replaying an already-applied event reads the
// current balance and mutates nothing.
func (s *LedgerStore) ApplyTrade(ctx context.Context, ev domain.TradeEvent) (domain.TradeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: apply trade: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (chain_id, tx_id, event_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id, tx_id, event_index) DO NOTHING`,
		ev.ChainID, ev.TxID, ev.EventIndex,
	)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: apply trade %s: record key: %w", ev.Key(), err)
	}

	var res domain.TradeResult
	if tag.RowsAffected() == 0 {
		// Already applied. Report the unchanged balance.
		res.Duplicate = true
		res.Balance, res.Ledgered, err = s.currentBalance(ctx, tx, ev)
		if err != nil {
			return domain.TradeResult{}, err
		}
		return res, tx.Commit(ctx)
	}

	if ev.IsBuy {
		err = tx.QueryRow(ctx, `
			INSERT INTO ledger (trader, subject, chain_id, share_amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (trader, subject, chain_id) DO UPDATE
			SET share_amount = ledger.share_amount + EXCLUDED.share_amount,
			    updated_at = NOW()
			RETURNING share_amount`,
			ev.Trader, ev.Subject, ev.ChainID, ev.ShareAmount,
		).Scan(&res.Balance)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("postgres: apply trade %s: buy: %w", ev.Key(), err)
		}
		res.Ledgered = true
	} else {
		// The contract already floors sells at the holder's balance, so the
		// subtraction is applied as-is. A sell for a pair that never bought
		// leaves the ledger untouched; the idempotency key is still
		// committed so replays stay silent.
		err = tx.QueryRow(ctx, `
			UPDATE ledger
			SET share_amount = share_amount - $4,
			    updated_at = NOW()
			WHERE trader = $1 AND subject = $2 AND chain_id = $3
			RETURNING share_amount`,
			ev.Trader, ev.Subject, ev.ChainID, ev.ShareAmount,
		).Scan(&res.Balance)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			res.Ledgered = false
		case err != nil:
			return domain.TradeResult{}, fmt.Errorf("postgres: apply trade %s: sell: %w", ev.Key(), err)
		default:
			res.Ledgered = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: apply trade %s: commit: %w", ev.Key(), err)
	}
	return res, nil
}

func (s *LedgerStore) currentBalance(ctx context.Context, tx pgx.Tx, ev domain.TradeEvent) (uint64, bool, error) {
	var balance uint64
	err := tx.QueryRow(ctx,
		`SELECT share_amount FROM ledger WHERE trader = $1 AND subject = $2 AND chain_id = $3`,
		ev.Trader, ev.Subject, ev.ChainID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: apply trade %s: read balance: %w", ev.Key(), err)
	}
	return balance, true, nil
}

// GetBalance returns the current balance for (trader, subject, chain), zero
// when no ledger row exists.
func (s *LedgerStore) GetBalance(ctx context.Context, trader, subject, chainID string) (uint64, error) {
	var balance uint64
	err := s.pool.QueryRow(ctx,
		`SELECT share_amount FROM ledger WHERE trader = $1 AND subject = $2 AND chain_id = $3`,
		trader, subject, chainID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance: %w", err)
	}
	return balance, nil
}

// ListByTrader returns every ledger row for a trader across chains, newest
// first.
func (s *LedgerStore) ListByTrader(ctx context.Context, trader string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trader, subject, chain_id, share_amount, updated_at
		FROM ledger
		WHERE trader = $1
		ORDER BY updated_at DESC`,
		trader,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger by trader: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.Trader, &e.Subject, &e.ChainID, &e.ShareAmount, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger by trader: %w", err)
	}
	return entries, nil
}
