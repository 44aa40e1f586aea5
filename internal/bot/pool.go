// Package bot runs the greeter workers. Every subject chat is moderated by
// its own Telegram bot; the pool keeps one long-polling worker per stored
// subject-chat binding and restarts workers that crash.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// ChallengeIssuer creates signing challenges for new chat members. Satisfied
// by identity.Binder.
type ChallengeIssuer interface {
	IssueChallenge(ctx context.Context, telegramID, subject, chainID string) (domain.Challenge, error)
}

// Config holds the pool parameters.
type Config struct {
	// SignURL is the verification page the greeting links to.
	SignURL string
	// RestartDelay is the pause before a crashed worker is restarted.
	RestartDelay time.Duration
	// PollTimeout is the getUpdates long-poll window.
	PollTimeout time.Duration
}

// listPageSize bounds the subject-chat pages loaded at startup.
const listPageSize = 100

// Pool supervises one greeter worker per subject chat.
type Pool struct {
	telegram *moderation.TelegramClient
	subjects domain.SubjectChatStore
	issuer   ChallengeIssuer
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	wg      sync.WaitGroup
	running map[string]struct{}
}

// NewPool creates a Pool. Workers are started by Run.
func NewPool(
	telegram *moderation.TelegramClient,
	subjects domain.SubjectChatStore,
	issuer ChallengeIssuer,
	cfg Config,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		telegram: telegram,
		subjects: subjects,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "bot_pool")),
		running:  make(map[string]struct{}),
	}
}

// Run starts a worker for every stored subject chat and blocks until ctx is
// cancelled and all workers have stopped.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	for offset := 0; ; offset += listPageSize {
		chats, err := p.subjects.List(ctx, domain.ListOpts{Limit: listPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("bot: list subject chats: %w", err)
		}
		for _, sc := range chats {
			p.start(ctx, sc)
		}
		if len(chats) < listPageSize {
			break
		}
	}

	p.logger.InfoContext(ctx, "greeter pool started", slog.Int("workers", p.workerCount()))
	<-ctx.Done()
	p.wg.Wait()
	return nil
}

// Add spawns a worker for a newly registered subject chat. A second Add for
// the same agent is a no-op.
func (p *Pool) Add(sc domain.SubjectChat) error {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		return errors.New("bot: pool is not running")
	}
	p.start(ctx, sc)
	return nil
}

func (p *Pool) start(ctx context.Context, sc domain.SubjectChat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[sc.AgentName]; ok {
		return
	}
	p.running[sc.AgentName] = struct{}{}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.supervise(ctx, sc)
	}()
}

// supervise runs one greeter until ctx is cancelled, restarting it after
// RestartDelay whenever it fails. The greeter keeps its update offset across
// restarts so a crash does not replay greetings.
func (p *Pool) supervise(ctx context.Context, sc domain.SubjectChat) {
	g := newGreeter(sc, p.telegram, p.issuer, p.cfg, p.logger)
	for {
		err := g.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("worker returned early")
		}
		p.logger.WarnContext(ctx, "greeter worker stopped, restarting",
			slog.String("agent", sc.AgentName),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.RestartDelay):
		}
	}
}

func (p *Pool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}
