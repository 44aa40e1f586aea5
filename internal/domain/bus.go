package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventsChannel is the pub/sub channel carrying live service events to the
// websocket hub. Every replica publishes here; every hub instance fans the
// stream out to its connected clients.
const EventsChannel = "sharegate:events"

// Bus event types.
const (
	BusEventTradeApplied      = "trade_applied"
	BusEventModerationApplied = "moderation_applied"
	BusEventModerationFailed  = "moderation_failed"
	BusEventAgentRegistered   = "agent_registered"
)

// EventBus provides cross-replica pub/sub for live service events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel emitting raw payloads until ctx is
	// cancelled, at which point the channel is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	// Allow reports whether one more request for key fits in the window, and
	// counts it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BusEvent is the JSON envelope published on EventsChannel.
type BusEvent struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// PublishBusEvent marshals and publishes ev on the events channel. A nil bus
// is a no-op; publish failures are dropped, the bus is a live feed and never
// blocks the caller's path.
func PublishBusEvent(ctx context.Context, bus EventBus, ev BusEvent) {
	if bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = bus.Publish(ctx, EventsChannel, payload)
}
