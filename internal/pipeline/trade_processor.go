// Package pipeline contains the per-chain sync engines, the trade processor
// that feeds the ledger, and the orchestrator tying them together.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// TradeProcessor applies trade events to the ledger and re-evaluates the
// trader's gating state after every event.
type TradeProcessor struct {
	ledger     domain.LedgerStore
	identities domain.IdentityStore
	dispatcher *moderation.Dispatcher
	bus        domain.EventBus
	logger     *slog.Logger
}

// NewTradeProcessor creates a TradeProcessor. bus may be nil when no live
// event feed is wanted.
func NewTradeProcessor(
	ledger domain.LedgerStore,
	identities domain.IdentityStore,
	dispatcher *moderation.Dispatcher,
	bus domain.EventBus,
	logger *slog.Logger,
) *TradeProcessor {
	return &TradeProcessor{
		ledger:     ledger,
		identities: identities,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With(slog.String("component", "trade_processor")),
	}
}

// Process applies one event. Ledger write failures are logged and the event
// is skipped so one poison event cannot stall the chain; the batch advances
// and a replay within the archive retention window re-applies it while the
// idempotency keys absorb its neighbours. Moderation failures are likewise
// logged and swallowed: the ledger is authoritative and the next event or
// verification for the same trader retries the Telegram side.
func (p *TradeProcessor) Process(ctx context.Context, ev domain.TradeEvent) error {
	res, err := p.ledger.ApplyTrade(ctx, ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "apply trade failed, skipping event",
			slog.String("chain", ev.ChainID),
			slog.String("event", ev.Key()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	log := p.logger.With(
		slog.String("chain", ev.ChainID),
		slog.String("event", ev.Key()),
		slog.String("trader", ev.Trader),
		slog.String("subject", ev.Subject),
	)

	switch {
	case res.Duplicate:
		log.DebugContext(ctx, "event already applied, skipping mutation")
	case !res.Ledgered && !ev.IsBuy:
		// A sell with no prior buy; the chain saw shares we never ledgered,
		// usually trades predating the configured start position.
		log.WarnContext(ctx, "sell for unknown ledger pair",
			slog.Uint64("share_amount", ev.ShareAmount))
	default:
		log.InfoContext(ctx, "trade applied",
			slog.Bool("is_buy", ev.IsBuy),
			slog.Uint64("share_amount", ev.ShareAmount),
			slog.Uint64("balance", res.Balance))
		domain.PublishBusEvent(ctx, p.bus, domain.BusEvent{
			Type: domain.BusEventTradeApplied,
			Data: map[string]any{
				"chain":        ev.ChainID,
				"trader":       ev.Trader,
				"subject":      ev.Subject,
				"is_buy":       ev.IsBuy,
				"share_amount": ev.ShareAmount,
				"balance":      res.Balance,
			},
		})
	}

	p.moderate(ctx, ev, res.Balance)
	return nil
}

// moderate applies the gating predicate to the post-event balance: a zero
// balance mutes the trader in the subject's chat, a positive one unmutes.
// Traders with no Telegram binding are left alone.
func (p *TradeProcessor) moderate(ctx context.Context, ev domain.TradeEvent, balance uint64) {
	binding, err := p.identities.Get(ctx, ev.Trader, ev.ChainID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "load identity binding failed",
			slog.String("trader", ev.Trader),
			slog.String("chain", ev.ChainID),
			slog.String("error", err.Error()),
		)
		return
	}

	action := domain.ActionRestrict
	if balance > 0 {
		action = domain.ActionUnrestrict
	}
	// Dispatcher errors are already logged and alerted there.
	_ = p.dispatcher.Apply(ctx, ev.Subject, ev.ChainID, binding, action)
}
