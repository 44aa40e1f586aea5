package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// fakeSource serves scripted pages and cancels the run context once the
// script is exhausted, terminating the engine loop.
type fakeSource struct {
	name   string
	start  domain.Position
	pages  []pageOrErr
	calls  []domain.Position
	cancel context.CancelFunc
}

type pageOrErr struct {
	page domain.EventPage
	err  error
}

func (f *fakeSource) Name() string                  { return f.name }
func (f *fakeSource) StartPosition() domain.Position { return f.start }

func (f *fakeSource) NextPage(ctx context.Context, from domain.Position) (domain.EventPage, error) {
	if len(f.pages) == 0 {
		f.cancel()
		return domain.EventPage{Next: from}, nil
	}
	f.calls = append(f.calls, from)
	next := f.pages[0]
	f.pages = f.pages[1:]
	return next.page, next.err
}

type fakeProcessor struct {
	processed []domain.TradeEvent
	failKeys  map[string]error
}

func (f *fakeProcessor) Process(ctx context.Context, ev domain.TradeEvent) error {
	if err, ok := f.failKeys[ev.Key()]; ok {
		return err
	}
	f.processed = append(f.processed, ev)
	return nil
}

type fakeWatermarks struct {
	mu      sync.Mutex
	byChain map[string]domain.Watermark
	saves   []domain.Watermark
	saveErr error
}

func (f *fakeWatermarks) Get(ctx context.Context, chainID string) (domain.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wm, ok := f.byChain[chainID]
	if !ok {
		return domain.Watermark{}, domain.ErrNotFound
	}
	return wm, nil
}

func (f *fakeWatermarks) Save(ctx context.Context, wm domain.Watermark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.byChain == nil {
		f.byChain = map[string]domain.Watermark{}
	}
	f.byChain[wm.ChainID] = wm
	f.saves = append(f.saves, wm)
	return nil
}

type fakeLock struct{}

func (fakeLock) Refresh(ctx context.Context, ttl time.Duration) error { return nil }
func (fakeLock) Release()                                             {}

type fakeLocks struct {
	heldErr error
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	if f.heldErr != nil {
		return nil, f.heldErr
	}
	return fakeLock{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastSyncConfig() config.SyncConfig {
	cfg := config.Defaults().Sync
	cfg.IdleInterval.Duration = time.Millisecond
	cfg.ErrorBackoff.Duration = time.Millisecond
	cfg.PollDelay.Duration = 0
	cfg.LockTTL.Duration = 50 * time.Millisecond
	return cfg
}

func event(chain, tx string, idx uint64, trader string, isBuy bool, amount uint64) domain.TradeEvent {
	return domain.TradeEvent{
		ChainID:     chain,
		Trader:      trader,
		Subject:     "subj1",
		IsBuy:       isBuy,
		ShareAmount: amount,
		TxID:        tx,
		EventIndex:  idx,
	}
}

func runEngine(t *testing.T, src *fakeSource, proc EventProcessor, wms *fakeWatermarks, locks domain.LockManager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	src.cancel = cancel

	eng := NewEngine(src, proc, wms, locks, fastSyncConfig(), nil, discardLogger())
	return eng.Run(ctx)
}

func TestEngine_FirstRunStartsFromStartPosition(t *testing.T) {
	src := &fakeSource{
		name:  "monad",
		start: domain.Position{Block: 1200},
		pages: []pageOrErr{{page: domain.EventPage{
			Events: []domain.TradeEvent{event("monad", "0xaa", 0, "t1", true, 2)},
			Next:   domain.Position{Block: 1300},
		}}},
	}
	proc := &fakeProcessor{}
	wms := &fakeWatermarks{}

	require.NoError(t, runEngine(t, src, proc, wms, &fakeLocks{}))

	require.Len(t, src.calls, 1)
	assert.Equal(t, domain.Position{Block: 1200}, src.calls[0])
	assert.Len(t, proc.processed, 1)

	wm, err := wms.Get(context.Background(), "monad")
	require.NoError(t, err)
	assert.Equal(t, uint64(1300), wm.Position.Block)
}

func TestEngine_ResumesFromWatermark(t *testing.T) {
	src := &fakeSource{
		name:  "sui",
		pages: []pageOrErr{{page: domain.EventPage{Next: domain.Position{Block: 9, Cursor: `{"txDigest":"d","eventSeq":"1"}`}}}},
	}
	wms := &fakeWatermarks{byChain: map[string]domain.Watermark{
		"sui": {ChainID: "sui", Position: domain.Position{Block: 7, Cursor: `{"txDigest":"c","eventSeq":"0"}`}},
	}}

	require.NoError(t, runEngine(t, src, &fakeProcessor{}, wms, &fakeLocks{}))

	require.Len(t, src.calls, 1)
	assert.Equal(t, `{"txDigest":"c","eventSeq":"0"}`, src.calls[0].Cursor)

	// The cursor page carried no events but still advanced the cursor.
	wm, err := wms.Get(context.Background(), "sui")
	require.NoError(t, err)
	assert.Equal(t, `{"txDigest":"d","eventSeq":"1"}`, wm.Position.Cursor)
}

func TestEngine_AdvancesPastPoisonEvent(t *testing.T) {
	good := event("monad", "0xaa", 0, "t1", true, 1)
	bad := event("monad", "0xbb", 0, "t2", true, 1)
	page := domain.EventPage{
		Events: []domain.TradeEvent{good, bad},
		Next:   domain.Position{Block: 1300},
	}
	src := &fakeSource{
		name:  "monad",
		start: domain.Position{Block: 1200},
		pages: []pageOrErr{{page: page}},
	}

	// Real processor: the poison event's ledger failure must not surface to
	// the engine, or the chain would refetch this range forever.
	ledger := newFakeLedger()
	ledger.failKeys = map[string]error{bad.Key(): errors.New("bigint overflow")}
	ids := &fakeIdentities{bindings: map[string]domain.IdentityBinding{}}
	dispatcher := moderation.NewDispatcher(&fakeSubjects{}, ids, moderation.NewTelegramClient(""), nil, nil, discardLogger())
	proc := NewTradeProcessor(ledger, ids, dispatcher, nil, discardLogger())
	wms := &fakeWatermarks{}

	require.NoError(t, runEngine(t, src, proc, wms, &fakeLocks{}))

	// One fetch, no refetch of the poisoned range.
	require.Len(t, src.calls, 1)
	assert.Equal(t, domain.Position{Block: 1200}, src.calls[0])

	// The watermark advanced past the skipped event.
	wm, err := wms.Get(context.Background(), "monad")
	require.NoError(t, err)
	assert.Equal(t, uint64(1300), wm.Position.Block)

	// The good neighbour was applied; the poison event was not.
	bal, _ := ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Equal(t, uint64(1), bal)
	badBal, _ := ledger.GetBalance(context.Background(), "t2", "subj1", "monad")
	assert.Zero(t, badBal)
}

func TestEngine_FetchErrorRetriesSamePosition(t *testing.T) {
	src := &fakeSource{
		name:  "monad",
		start: domain.Position{Block: 10},
		pages: []pageOrErr{
			{err: domain.ErrChainUnreachable},
			{page: domain.EventPage{
				Events: []domain.TradeEvent{event("monad", "0xaa", 0, "t1", true, 1)},
				Next:   domain.Position{Block: 20},
			}},
		},
	}
	proc := &fakeProcessor{}
	wms := &fakeWatermarks{}

	require.NoError(t, runEngine(t, src, proc, wms, &fakeLocks{}))

	require.Len(t, src.calls, 2)
	assert.Equal(t, src.calls[0], src.calls[1])
	assert.Len(t, proc.processed, 1)
}

func TestEngine_SaveFailureRefetchesPage(t *testing.T) {
	page := domain.EventPage{
		Events: []domain.TradeEvent{event("monad", "0xaa", 0, "t1", true, 1)},
		Next:   domain.Position{Block: 1300},
	}
	src := &fakeSource{
		name:  "monad",
		start: domain.Position{Block: 1200},
		pages: []pageOrErr{{page: page}, {page: page}},
	}
	wms := &fakeWatermarks{saveErr: errors.New("db down")}

	require.NoError(t, runEngine(t, src, &fakeProcessor{}, wms, &fakeLocks{}))

	// The position never advanced locally while saves were failing.
	require.Len(t, src.calls, 2)
	assert.Equal(t, domain.Position{Block: 1200}, src.calls[1])
}

func TestEngine_CaughtUpPageSavesNothing(t *testing.T) {
	pos := domain.Position{Block: 500}
	src := &fakeSource{
		name:  "monad",
		start: pos,
		pages: []pageOrErr{{page: domain.EventPage{Next: pos}}},
	}
	wms := &fakeWatermarks{}

	require.NoError(t, runEngine(t, src, &fakeProcessor{}, wms, &fakeLocks{}))
	assert.Empty(t, wms.saves)
}
