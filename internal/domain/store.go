package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// WatermarkStore persists per-chain ingestion progress.
type WatermarkStore interface {
	// Get returns the watermark for a chain, or ErrNotFound when the chain
	// has never synced.
	Get(ctx context.Context, chainID string) (Watermark, error)

	// Save upserts the watermark. For range chains (empty cursor) the
	// numeric position never regresses: a save with a smaller block than
	// the stored one is a no-op. Cursor saves always advance, the cursor
	// is opaque and strictly forward by construction.
	Save(ctx context.Context, wm Watermark) error
}

// LedgerStore persists share balances keyed by (trader, subject, chain).
type LedgerStore interface {
	// ApplyTrade applies one trade event. The event's idempotency key and
	// the balance mutation are committed in a single transaction; applying
	// the same event twice mutates nothing the second time.
	ApplyTrade(ctx context.Context, ev TradeEvent) (TradeResult, error)

	// GetBalance returns the current balance, zero when no row exists.
	GetBalance(ctx context.Context, trader, subject, chainID string) (uint64, error)

	// ListByTrader returns every ledger row for a trader across chains.
	ListByTrader(ctx context.Context, trader string) ([]LedgerEntry, error)
}

// ProcessedEventStore exposes recorded idempotency keys for archival. Keys
// older than the replay window can be moved to cold storage; ledger rows are
// never archived.
type ProcessedEventStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ProcessedEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// IdentityStore persists address-to-Telegram bindings.
type IdentityStore interface {
	// Bind inserts the binding if absent; an existing binding for the same
	// (address, chain) wins and the call is a no-op.
	Bind(ctx context.Context, b IdentityBinding) error

	// Get returns the binding for an address, or ErrNotFound.
	Get(ctx context.Context, address, chainID string) (IdentityBinding, error)

	// SetBanned records the confirmed moderation state. A no-op when no
	// binding exists.
	SetBanned(ctx context.Context, address, chainID string, banned bool) error
}

// SubjectChatStore persists subject-to-chat bindings.
type SubjectChatStore interface {
	Create(ctx context.Context, sc SubjectChat) error
	GetBySubject(ctx context.Context, subject, chainID string) (SubjectChat, error)
	GetByAgentName(ctx context.Context, name string) (SubjectChat, error)
	List(ctx context.Context, opts ListOpts) ([]SubjectChat, error)
	Count(ctx context.Context) (int64, error)
}

// ChallengeStore holds signing challenges with a TTL.
type ChallengeStore interface {
	Put(ctx context.Context, c Challenge, ttl time.Duration) error

	// Take returns and consumes the challenge, or ErrNotFound when it is
	// absent or expired. A challenge can be taken exactly once.
	Take(ctx context.Context, id string) (Challenge, error)
}

// LockManager provides distributed mutual exclusion for the sync loops.
type LockManager interface {
	// Acquire obtains the named lock with a TTL, returning ErrLockHeld when
	// another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held distributed lock.
type Lock interface {
	// Refresh extends the lock's TTL; it fails when the lock was lost.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release frees the lock. Safe to call more than once.
	Release()
}
