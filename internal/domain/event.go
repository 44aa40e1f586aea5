// Package domain defines the core models and store interfaces shared across
// the sharegate services: normalized trade events, sync watermarks, the share
// ledger, and the identity/chat bindings that drive chat moderation.
package domain

import (
	"fmt"
	"time"
)

// TradeEvent is one buy or sell of subject shares, normalized across chains.
// Addresses are in canonical form (lowercase hex, no 0x prefix).
type TradeEvent struct {
	ChainID     string
	Trader      string
	Subject     string
	IsBuy       bool
	ShareAmount uint64

	// TxID and EventIndex identify the event uniquely on its chain and form
	// the idempotency key under which the ledger records it as applied.
	TxID       string
	EventIndex uint64
}

// Key returns the idempotency key of the event within its chain.
func (e TradeEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxID, e.EventIndex)
}

// Position is a point in a chain's event history. Range-based chains use
// Block; cursor-based chains use Cursor as the authoritative resume token and
// carry a numeric surrogate in Block for storage uniformity.
type Position struct {
	Block  uint64
	Cursor string
}

// Watermark is the durable ingestion progress marker for one chain. Position
// is advanced only after every event up to it has been processed, and never
// regresses.
type Watermark struct {
	ChainID   string
	Position  Position
	UpdatedAt time.Time
}

// EventPage is one batch of events fetched from a chain, together with the
// position to resume from and whether more events are immediately available.
type EventPage struct {
	Events  []TradeEvent
	Next    Position
	HasMore bool
}
