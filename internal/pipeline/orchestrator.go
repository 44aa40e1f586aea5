package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-running pipeline component, one chain engine or the
// archiver.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs all sync engines plus the optional archiver as one
// errgroup: a fatal error in any engine stops the whole pipeline.
type Orchestrator struct {
	engines  []*Engine
	archiver Runner
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil when archival
// is disabled.
func NewOrchestrator(engines []*Engine, archiver Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		engines:  engines,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails fatally.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Int("engines", len(o.engines)),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, engine := range o.engines {
		eng := engine
		g.Go(func() error {
			err := eng.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("engine %s: %w", eng.source.Name(), err)
			}
			return nil
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("archiver: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped cleanly")
	return nil
}
