package domain

import "time"

// LedgerEntry is the authoritative share balance for one (trader, subject)
// pair on one chain. Entries are never deleted; a zero balance is a valid
// terminal value.
type LedgerEntry struct {
	Trader      string
	Subject     string
	ChainID     string
	ShareAmount uint64
	UpdatedAt   time.Time
}

// TradeResult reports the outcome of applying one trade event to the ledger.
type TradeResult struct {
	// Balance is the (trader, subject, chain) balance after the event. When
	// the event was a duplicate it is the unchanged current balance.
	Balance uint64

	// Duplicate is true when the event's idempotency key was already
	// recorded and no balance mutation took place.
	Duplicate bool

	// Ledgered is true when a ledger row exists for the pair. A sell for a
	// pair that never bought leaves Ledgered false and mutates nothing.
	Ledgered bool
}

// ProcessedEvent is one recorded idempotency key, exposed for archival.
type ProcessedEvent struct {
	ChainID    string
	TxID       string
	EventIndex uint64
	AppliedAt  time.Time
}
