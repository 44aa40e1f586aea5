package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sharegate/internal/bot"
	"github.com/alanyoungcy/sharegate/internal/identity"
	"github.com/alanyoungcy/sharegate/internal/moderation"
	"github.com/alanyoungcy/sharegate/internal/pipeline"
	"github.com/alanyoungcy/sharegate/internal/server"
	"github.com/alanyoungcy/sharegate/internal/server/handler"
	"github.com/alanyoungcy/sharegate/internal/server/ws"
)

// SyncMode runs chain ingestion only: one sync engine per configured chain,
// plus the archiver when enabled. Trades still trigger moderation, so sold-out
// members are muted even with the API surface off.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	dispatcher := a.newDispatcher(deps)
	return a.newPipeline(deps, dispatcher).Run(ctx)
}

// ServerMode runs the HTTP/WebSocket API and the greeter bot pool without
// chain ingestion. Balances read during signature verification still hit the
// chain RPCs directly.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	dispatcher := a.newDispatcher(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startServing(ctx, g, deps, dispatcher)
	return g.Wait()
}

// FullMode runs everything: ingestion, archival, the API, and the bot pool.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	dispatcher := a.newDispatcher(deps)

	g, ctx := errgroup.WithContext(ctx)

	orchestrator := a.newPipeline(deps, dispatcher)
	g.Go(func() error {
		if err := orchestrator.Run(ctx); err != nil {
			return fmt.Errorf("full mode: pipeline: %w", err)
		}
		return nil
	})

	a.startServing(ctx, g, deps, dispatcher)
	return g.Wait()
}

// newDispatcher builds the moderation stack shared by the pipeline and the
// verification path.
func (a *App) newDispatcher(deps *Dependencies) *moderation.Dispatcher {
	return moderation.NewDispatcher(
		deps.Subjects,
		deps.Identities,
		moderation.NewTelegramClient(""),
		deps.Notifier,
		deps.Bus,
		a.logger,
	)
}

// newPipeline assembles one sync engine per configured chain and the optional
// archiver under a single orchestrator.
func (a *App) newPipeline(deps *Dependencies, dispatcher *moderation.Dispatcher) *pipeline.Orchestrator {
	processor := pipeline.NewTradeProcessor(deps.Ledger, deps.Identities, dispatcher, deps.Bus, a.logger)

	engines := make([]*pipeline.Engine, 0, len(a.cfg.Chains))
	for _, chainCfg := range a.cfg.Chains {
		client := deps.Chains[chainCfg.Name]
		engines = append(engines, pipeline.NewEngine(
			client,
			processor,
			deps.Watermarks,
			deps.Locks,
			a.cfg.Sync,
			deps.Notifier,
			a.logger,
		))
	}

	var archiver pipeline.Runner
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	return pipeline.NewOrchestrator(engines, archiver, a.logger)
}

// startServing registers the API server, websocket hub, and greeter bot pool
// on g. The HTTP server drains in-flight requests when ctx ends.
func (a *App) startServing(ctx context.Context, g *errgroup.Group, deps *Dependencies, dispatcher *moderation.Dispatcher) {
	verifiers := make(map[string]identity.ChainVerifier, len(deps.Chains))
	for name, client := range deps.Chains {
		verifiers[name] = client
	}
	binder := identity.NewBinder(
		verifiers,
		deps.Challenges,
		deps.Identities,
		dispatcher,
		a.cfg.Bot.ChallengeTTL.Duration,
		a.logger,
	)

	var pool *bot.Pool
	if a.cfg.Bot.Enabled {
		pool = bot.NewPool(
			moderation.NewTelegramClient(""),
			deps.Subjects,
			binder,
			bot.Config{
				SignURL:      a.cfg.Bot.SignURL,
				RestartDelay: a.cfg.Bot.RestartDelay.Duration,
				PollTimeout:  a.cfg.Bot.PollTimeout.Duration,
			},
			a.logger,
		)
		g.Go(func() error {
			if err := pool.Run(ctx); err != nil {
				return fmt.Errorf("bot pool: %w", err)
			}
			return nil
		})
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	checks := map[string]handler.Pinger{
		"postgres": deps.DB.Pool().Ping,
		"redis":    deps.Cache.Ping,
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob.Health
	}

	var workers handler.WorkerAdder
	if pool != nil {
		workers = pool
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Agents: handler.NewAgentHandler(deps.Subjects, workers, deps.Bus, a.logger),
		Users:  handler.NewUserHandler(deps.Ledger, a.logger),
		Verify: handler.NewVerifyHandler(binder, a.logger),
	}
	if deps.ArchiveReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
