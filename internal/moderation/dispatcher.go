package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/notify"
)

// Dispatcher turns gating decisions into Telegram permission changes and
// records the confirmed state. Actions that already match the recorded state
// are skipped, so each membership transition reaches Telegram exactly once.
type Dispatcher struct {
	subjects   domain.SubjectChatStore
	identities domain.IdentityStore
	telegram   *TelegramClient
	notifier   *notify.Notifier
	bus        domain.EventBus
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher. notifier and bus may be nil when
// operational alerting or the live event feed is not configured.
func NewDispatcher(
	subjects domain.SubjectChatStore,
	identities domain.IdentityStore,
	telegram *TelegramClient,
	notifier *notify.Notifier,
	bus domain.EventBus,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		subjects:   subjects,
		identities: identities,
		telegram:   telegram,
		notifier:   notifier,
		bus:        bus,
		logger:     logger.With(slog.String("component", "moderation")),
	}
}

// Apply carries out one moderation action for the binding's member in the
// chat gated by subject, skipping when the recorded state already matches so
// repeat trades reach Telegram once. A subject with no registered chat is a
// logged no-op. The banned flag in the identity store is only updated after
// Telegram confirms the change; a failed call leaves the recorded state
// untouched so the next trade or verification retries it.
func (d *Dispatcher) Apply(ctx context.Context, subject, chainID string, binding domain.IdentityBinding, action domain.Action) error {
	if binding.IsBanned == (action == domain.ActionRestrict) {
		return nil
	}
	return d.apply(ctx, subject, chainID, binding, action)
}

// Sync carries out the action regardless of the recorded flag. The
// verification path uses it: a fresh binding's recorded state does not yet
// reflect the chat, where the greeter mutes members before any binding
// exists.
func (d *Dispatcher) Sync(ctx context.Context, subject, chainID string, binding domain.IdentityBinding, action domain.Action) error {
	return d.apply(ctx, subject, chainID, binding, action)
}

func (d *Dispatcher) apply(ctx context.Context, subject, chainID string, binding domain.IdentityBinding, action domain.Action) error {
	wantBanned := action == domain.ActionRestrict

	sc, err := d.subjects.GetBySubject(ctx, subject, chainID)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.DebugContext(ctx, "no chat registered for subject",
			slog.String("subject", subject),
			slog.String("chain", chainID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("moderation: resolve subject chat: %w", err)
	}

	err = d.telegram.RestrictChatMember(ctx, sc.BotToken, sc.ChatGroupID, binding.TelegramID, action)
	if err != nil {
		d.logger.ErrorContext(ctx, "moderation action failed",
			slog.String("subject", subject),
			slog.String("chain", chainID),
			slog.String("action", string(action)),
			slog.String("telegram_id", binding.TelegramID),
			slog.String("error", err.Error()),
		)
		d.notifyEvent(ctx, notify.EventModerationFailed, "Moderation failed",
			fmt.Sprintf("%s %s in %s (%s): %v", action, binding.TelegramID, sc.AgentName, chainID, err))
		domain.PublishBusEvent(ctx, d.bus, domain.BusEvent{
			Type: domain.BusEventModerationFailed,
			Data: map[string]any{
				"agent":       sc.AgentName,
				"chain":       chainID,
				"action":      string(action),
				"telegram_id": binding.TelegramID,
			},
		})
		return fmt.Errorf("moderation: %s member %s: %w", action, binding.TelegramID, err)
	}

	if err := d.identities.SetBanned(ctx, binding.Address, chainID, wantBanned); err != nil {
		return fmt.Errorf("moderation: record %s state: %w", action, err)
	}

	d.logger.InfoContext(ctx, "moderation action applied",
		slog.String("subject", subject),
		slog.String("chain", chainID),
		slog.String("action", string(action)),
		slog.String("telegram_id", binding.TelegramID),
	)
	d.notifyEvent(ctx, notify.EventModerationApplied, "Moderation applied",
		fmt.Sprintf("%s %s in %s (%s)", action, binding.TelegramID, sc.AgentName, chainID))
	domain.PublishBusEvent(ctx, d.bus, domain.BusEvent{
		Type: domain.BusEventModerationApplied,
		Data: map[string]any{
			"agent":       sc.AgentName,
			"chain":       chainID,
			"action":      string(action),
			"telegram_id": binding.TelegramID,
		},
	})
	return nil
}

func (d *Dispatcher) notifyEvent(ctx context.Context, event, title, message string) {
	if d.notifier == nil {
		return
	}
	_ = d.notifier.Notify(ctx, event, title, message)
}
