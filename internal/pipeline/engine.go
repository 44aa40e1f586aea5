package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/notify"
)

// EventSource is the chain surface the engine consumes. chain.Client
// implements it for both chain kinds.
type EventSource interface {
	Name() string
	StartPosition() domain.Position
	NextPage(ctx context.Context, from domain.Position) (domain.EventPage, error)
}

// EventProcessor handles one normalized trade event. Per-event failures are
// absorbed by the implementation; a returned error aborts the batch and the
// page is refetched.
type EventProcessor interface {
	Process(ctx context.Context, ev domain.TradeEvent) error
}

// failureAlertThreshold is the consecutive-failure count at which the engine
// raises a sync_error notification.
const failureAlertThreshold = 5

// Engine is the resumable sync loop for one chain. It holds a distributed
// lock while running so at most one replica ingests the chain, fetches event
// pages after the persisted watermark, feeds them to the processor, and
// advances the watermark only after a fully processed batch.
type Engine struct {
	source     EventSource
	processor  EventProcessor
	watermarks domain.WatermarkStore
	locks      domain.LockManager
	cfg        config.SyncConfig
	notifier   *notify.Notifier
	logger     *slog.Logger
}

// NewEngine creates an Engine for one chain. notifier may be nil.
func NewEngine(
	source EventSource,
	processor EventProcessor,
	watermarks domain.WatermarkStore,
	locks domain.LockManager,
	cfg config.SyncConfig,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		source:     source,
		processor:  processor,
		watermarks: watermarks,
		locks:      locks,
		cfg:        cfg,
		notifier:   notifier,
		logger: logger.With(
			slog.String("component", "sync_engine"),
			slog.String("chain", source.Name()),
		),
	}
}

// Run syncs the chain until ctx is cancelled. When the chain lock is held
// elsewhere or lost mid-run, the engine waits and re-acquires rather than
// giving up.
func (e *Engine) Run(ctx context.Context) error {
	for {
		lock, err := e.acquireLock(ctx)
		if err != nil {
			return err
		}

		err = e.syncLoop(ctx, lock)
		lock.Release()
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return err
		}
		e.logger.WarnContext(ctx, "sync lock lost, re-acquiring")
	}
}

// acquireLock blocks until the per-chain lock is obtained or ctx ends.
func (e *Engine) acquireLock(ctx context.Context) (domain.Lock, error) {
	key := "sync:" + e.source.Name()
	for {
		lock, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL.Duration)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("pipeline: acquire lock %s: %w", key, err)
		}

		e.logger.InfoContext(ctx, "sync lock held elsewhere, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.LockTTL.Duration / 2):
		}
	}
}

// syncLoop runs iterations until ctx ends or the lock is lost. A returned
// domain.ErrLockHeld signals the caller to re-acquire.
func (e *Engine) syncLoop(ctx context.Context, lock domain.Lock) error {
	pos, err := e.resume(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "sync starting",
		slog.Uint64("position", pos.Block),
		slog.String("cursor", pos.Cursor),
	)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := lock.Refresh(ctx, e.cfg.LockTTL.Duration); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return domain.ErrLockHeld
		}

		page, err := e.source.NextPage(ctx, pos)
		if err != nil {
			failures++
			e.logger.ErrorContext(ctx, "fetch events failed",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()),
			)
			if failures == failureAlertThreshold {
				e.notifyError(ctx, err)
			}
			if !e.sleep(ctx, e.cfg.ErrorBackoff.Duration) {
				return nil
			}
			continue
		}

		next, perr := e.processPage(ctx, pos, page)
		if perr != nil {
			failures++
			e.logger.ErrorContext(ctx, "process batch failed",
				slog.Int("consecutive", failures),
				slog.String("error", perr.Error()),
			)
			if failures == failureAlertThreshold {
				e.notifyError(ctx, perr)
			}
			if !e.sleep(ctx, e.cfg.ErrorBackoff.Duration) {
				return nil
			}
			continue
		}
		failures = 0
		pos = next

		// Caught up: wait for new events before polling again.
		delay := e.cfg.PollDelay.Duration
		if len(page.Events) == 0 && !page.HasMore {
			delay = e.cfg.IdleInterval.Duration
		}
		if !e.sleep(ctx, delay) {
			return nil
		}
	}
}

// resume loads the persisted watermark, falling back to the chain's start
// position on first run.
func (e *Engine) resume(ctx context.Context) (domain.Position, error) {
	wm, err := e.watermarks.Get(ctx, e.source.Name())
	if errors.Is(err, domain.ErrNotFound) {
		return e.source.StartPosition(), nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("pipeline: load watermark %s: %w", e.source.Name(), err)
	}
	return wm.Position, nil
}

// processPage feeds the batch to the processor and persists the new
// watermark. On any failure the current position is returned unchanged, so
// the next iteration refetches the same page; already-applied events are
// absorbed by their idempotency keys.
func (e *Engine) processPage(ctx context.Context, pos domain.Position, page domain.EventPage) (domain.Position, error) {
	for _, ev := range page.Events {
		if err := e.processor.Process(ctx, ev); err != nil {
			return pos, err
		}
	}
	if page.Next == pos {
		return pos, nil
	}
	err := e.watermarks.Save(ctx, domain.Watermark{
		ChainID:  e.source.Name(),
		Position: page.Next,
	})
	if err != nil {
		return pos, fmt.Errorf("pipeline: save watermark: %w", err)
	}
	return page.Next, nil
}

// sleep waits for d or ctx cancellation; false means the context ended.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Engine) notifyError(ctx context.Context, err error) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Notify(ctx, notify.EventSyncError,
		"Chain sync failing",
		fmt.Sprintf("%s: %d consecutive failures, last: %v", e.source.Name(), failureAlertThreshold, err))
}
