// Package identity binds on-chain addresses to Telegram identities through
// signed challenges and drives the initial gating decision for new members.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// ChainVerifier is the chain surface the binder needs: signature recovery
// and a live balance read.
type ChainVerifier interface {
	RecoverSigner(message, signature string) (string, error)
	ReadBalance(ctx context.Context, subject, holder string) (uint64, error)
}

// Binder issues signing challenges and verifies the responses. Verification
// fails closed: whenever the wallet cannot be proven to hold shares the
// member is restricted.
type Binder struct {
	chains     map[string]ChainVerifier
	challenges domain.ChallengeStore
	identities domain.IdentityStore
	dispatcher *moderation.Dispatcher
	ttl        time.Duration
	logger     *slog.Logger
}

// NewBinder creates a Binder. chains maps chain name to its client.
func NewBinder(
	chains map[string]ChainVerifier,
	challenges domain.ChallengeStore,
	identities domain.IdentityStore,
	dispatcher *moderation.Dispatcher,
	ttl time.Duration,
	logger *slog.Logger,
) *Binder {
	return &Binder{
		chains:     chains,
		challenges: challenges,
		identities: identities,
		dispatcher: dispatcher,
		ttl:        ttl,
		logger:     logger.With(slog.String("component", "identity")),
	}
}

// IssueChallenge creates a short-lived signing challenge for a chat member.
// The challenge ID is the exact message the wallet must sign.
func (b *Binder) IssueChallenge(ctx context.Context, telegramID, subject, chainID string) (domain.Challenge, error) {
	ch := domain.Challenge{
		ID:         uuid.New().String(),
		TelegramID: telegramID,
		Subject:    domain.NormalizeAddress(subject),
		ChainID:    chainID,
	}
	if err := b.challenges.Put(ctx, ch, b.ttl); err != nil {
		return domain.Challenge{}, fmt.Errorf("identity: issue challenge: %w", err)
	}
	return ch, nil
}

// VerifyRequest carries one signature verification attempt.
type VerifyRequest struct {
	ChallengeID string
	Signature   string
	// Address is the wallet the caller claims to own, in any accepted form.
	Address string
}

// VerifyResult reports the outcome of a verification attempt.
type VerifyResult struct {
	// Verified is true when the signature proved ownership of Address.
	Verified bool
	// OwnsShares is true when the verified wallet holds subject shares.
	OwnsShares bool
	Balance    uint64
}

// Verify consumes the challenge, checks the signature, binds the address to
// the challenge's Telegram identity, and applies the resulting gating
// decision. The challenge is consumed regardless of outcome, a failed
// attempt cannot be replayed.
func (b *Binder) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	ch, err := b.challenges.Take(ctx, req.ChallengeID)
	if errors.Is(err, domain.ErrNotFound) {
		return VerifyResult{}, fmt.Errorf("identity: challenge absent or expired: %w", domain.ErrNotFound)
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("identity: take challenge: %w", err)
	}

	client, ok := b.chains[ch.ChainID]
	if !ok {
		return VerifyResult{}, fmt.Errorf("identity: %w: %q", domain.ErrUnknownChain, ch.ChainID)
	}

	claimed := domain.NormalizeAddress(req.Address)
	signer, err := client.RecoverSigner(ch.ID, req.Signature)
	if err != nil || signer != claimed {
		if err == nil {
			err = domain.ErrAddressMismatch
		}
		b.logger.WarnContext(ctx, "signature verification failed",
			slog.String("chain", ch.ChainID),
			slog.String("claimed", claimed),
			slog.String("telegram_id", ch.TelegramID),
			slog.String("error", err.Error()),
		)
		// Fail closed: the unproven member stays muted. The transient
		// binding carries the Telegram identity from the challenge; nothing
		// is persisted for an unverified wallet.
		b.restrict(ctx, ch, claimed)
		return VerifyResult{}, fmt.Errorf("identity: verify %s: %w", claimed, err)
	}

	// First successful verification wins; a later attempt against an already
	// bound address keeps the original Telegram identity. The banned flag is
	// seeded clear and only ever set by a confirmed dispatcher outcome; the
	// unconditional dispatch below establishes the real state either way.
	if err := b.identities.Bind(ctx, domain.IdentityBinding{
		Address:    claimed,
		ChainID:    ch.ChainID,
		TelegramID: ch.TelegramID,
	}); err != nil {
		return VerifyResult{}, fmt.Errorf("identity: bind: %w", err)
	}
	binding, err := b.identities.Get(ctx, claimed, ch.ChainID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("identity: reload binding: %w", err)
	}

	balance, err := client.ReadBalance(ctx, ch.Subject, claimed)
	if err != nil {
		b.logger.WarnContext(ctx, "balance read failed, failing closed",
			slog.String("chain", ch.ChainID),
			slog.String("address", claimed),
			slog.String("error", err.Error()),
		)
		if derr := b.dispatcher.Sync(ctx, ch.Subject, ch.ChainID, binding, domain.ActionRestrict); derr != nil {
			b.logger.ErrorContext(ctx, "restrict after balance failure failed",
				slog.String("error", derr.Error()))
		}
		return VerifyResult{Verified: true}, fmt.Errorf("identity: read balance: %w", err)
	}

	action := domain.ActionRestrict
	if balance > 0 {
		action = domain.ActionUnrestrict
	}
	if err := b.dispatcher.Sync(ctx, ch.Subject, ch.ChainID, binding, action); err != nil {
		return VerifyResult{Verified: true, OwnsShares: balance > 0, Balance: balance},
			fmt.Errorf("identity: apply gating: %w", err)
	}

	return VerifyResult{Verified: true, OwnsShares: balance > 0, Balance: balance}, nil
}

func (b *Binder) restrict(ctx context.Context, ch domain.Challenge, address string) {
	binding := domain.IdentityBinding{
		Address:    address,
		ChainID:    ch.ChainID,
		TelegramID: ch.TelegramID,
	}
	if err := b.dispatcher.Sync(ctx, ch.Subject, ch.ChainID, binding, domain.ActionRestrict); err != nil {
		b.logger.ErrorContext(ctx, "fail-closed restrict failed",
			slog.String("chain", ch.ChainID),
			slog.String("telegram_id", ch.TelegramID),
			slog.String("error", err.Error()),
		)
	}
}
