// Package chain provides per-chain clients for reading shares trade events,
// querying share balances, and verifying wallet signatures. A Client wraps
// exactly one backend, selected by the configured chain type: range-based
// EVM chains walk block spans, cursor-based Move chains walk event pages.
package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
)

// Client is a tagged-variant chain client. Exactly one of evm or move is set,
// matching kind; every method dispatches on the tag.
type Client struct {
	name string
	kind string

	evm  *EVMClient
	move *MoveClient
}

// New builds the client for one configured chain. EVM backends dial their RPC
// endpoint here; Move backends are plain HTTP and connect lazily.
func New(ctx context.Context, cfg config.ChainConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{name: cfg.Name, kind: cfg.Type}
	switch cfg.Type {
	case config.ChainTypeEVM:
		evm, err := NewEVMClient(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", cfg.Name, err)
		}
		c.evm = evm
	case config.ChainTypeMove:
		c.move = NewMoveClient(cfg, logger)
	default:
		return nil, fmt.Errorf("chain %s: %w: %q", cfg.Name, domain.ErrUnknownChain, cfg.Type)
	}
	return c, nil
}

// Name returns the chain identifier used in storage keys, e.g. "monad".
func (c *Client) Name() string { return c.name }

// Kind returns the chain type tag, "evm" or "move".
func (c *Client) Kind() string { return c.kind }

// StartPosition returns the position ingestion resumes from when no watermark
// exists yet for this chain.
func (c *Client) StartPosition() domain.Position {
	if c.evm != nil {
		return c.evm.StartPosition()
	}
	return domain.Position{}
}

// NextPage fetches the next batch of trade events after the given position.
// An empty page with HasMore false means the chain is caught up.
func (c *Client) NextPage(ctx context.Context, from domain.Position) (domain.EventPage, error) {
	if c.evm != nil {
		return c.evm.NextPage(ctx, from)
	}
	return c.move.NextPage(ctx, from)
}

// ReadBalance returns the holder's live share balance for the subject.
// Addresses are accepted in canonical or 0x-prefixed form.
func (c *Client) ReadBalance(ctx context.Context, subject, holder string) (uint64, error) {
	if c.evm != nil {
		return c.evm.ReadBalance(ctx, subject, holder)
	}
	return c.move.ReadBalance(ctx, subject, holder)
}

// RecoverSigner verifies the signature over message and returns the signing
// address in canonical form. EVM backends expect a hex-encoded 65-byte ECDSA
// signature; Move backends expect a base64 serialized signature.
func (c *Client) RecoverSigner(message, signature string) (string, error) {
	if c.evm != nil {
		return c.evm.RecoverSigner(message, signature)
	}
	return c.move.RecoverSigner(message, signature)
}

// Close releases the underlying RPC connection, if any.
func (c *Client) Close() {
	if c.evm != nil {
		c.evm.Close()
	}
}

// unreachable wraps a transport-level RPC failure so callers can classify it
// with errors.Is(err, domain.ErrChainUnreachable).
func unreachable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrChainUnreachable, fmt.Sprintf(format, args...))
}
