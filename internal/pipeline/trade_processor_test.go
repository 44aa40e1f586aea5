package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// fakeLedger implements the idempotent apply semantics in memory.
type fakeLedger struct {
	balances map[string]uint64 // trader:subject:chain
	applied  map[string]bool   // chain:key
	applyErr error
	failKeys map[string]error // per-event failures by ev.Key()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]uint64{}, applied: map[string]bool{}}
}

func ledgerKey(trader, subject, chain string) string {
	return trader + ":" + subject + ":" + chain
}

func (f *fakeLedger) ApplyTrade(ctx context.Context, ev domain.TradeEvent) (domain.TradeResult, error) {
	if f.applyErr != nil {
		return domain.TradeResult{}, f.applyErr
	}
	if err, ok := f.failKeys[ev.Key()]; ok {
		return domain.TradeResult{}, err
	}
	key := ledgerKey(ev.Trader, ev.Subject, ev.ChainID)
	bal, ledgered := f.balances[key]

	idemKey := ev.ChainID + ":" + ev.Key()
	if f.applied[idemKey] {
		return domain.TradeResult{Balance: bal, Duplicate: true, Ledgered: ledgered}, nil
	}
	f.applied[idemKey] = true

	if ev.IsBuy {
		bal += ev.ShareAmount
		f.balances[key] = bal
		return domain.TradeResult{Balance: bal, Ledgered: true}, nil
	}
	if !ledgered {
		return domain.TradeResult{}, nil
	}
	bal -= ev.ShareAmount
	f.balances[key] = bal
	return domain.TradeResult{Balance: bal, Ledgered: true}, nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, trader, subject, chainID string) (uint64, error) {
	return f.balances[ledgerKey(trader, subject, chainID)], nil
}

func (f *fakeLedger) ListByTrader(ctx context.Context, trader string) ([]domain.LedgerEntry, error) {
	return nil, nil
}

type fakeIdentities struct {
	bindings map[string]domain.IdentityBinding // address:chain
}

func (f *fakeIdentities) Bind(ctx context.Context, b domain.IdentityBinding) error { return nil }
func (f *fakeIdentities) Get(ctx context.Context, address, chainID string) (domain.IdentityBinding, error) {
	b, ok := f.bindings[address+":"+chainID]
	if !ok {
		return domain.IdentityBinding{}, domain.ErrNotFound
	}
	return b, nil
}
func (f *fakeIdentities) SetBanned(ctx context.Context, address, chainID string, banned bool) error {
	if b, ok := f.bindings[address+":"+chainID]; ok {
		b.IsBanned = banned
		f.bindings[address+":"+chainID] = b
	}
	return nil
}

type fakeSubjects struct {
	chats map[string]domain.SubjectChat // subject:chain
}

func (f *fakeSubjects) Create(ctx context.Context, sc domain.SubjectChat) error { return nil }
func (f *fakeSubjects) GetBySubject(ctx context.Context, subject, chainID string) (domain.SubjectChat, error) {
	sc, ok := f.chats[subject+":"+chainID]
	if !ok {
		return domain.SubjectChat{}, domain.ErrNotFound
	}
	return sc, nil
}
func (f *fakeSubjects) GetByAgentName(ctx context.Context, name string) (domain.SubjectChat, error) {
	return domain.SubjectChat{}, domain.ErrNotFound
}
func (f *fakeSubjects) List(ctx context.Context, opts domain.ListOpts) ([]domain.SubjectChat, error) {
	return nil, nil
}
func (f *fakeSubjects) Count(ctx context.Context) (int64, error) { return 0, nil }

type processorFixture struct {
	processor  *TradeProcessor
	ledger     *fakeLedger
	identities *fakeIdentities
	restricts  []map[string]any
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	fx := &processorFixture{
		ledger: newFakeLedger(),
		identities: &fakeIdentities{bindings: map[string]domain.IdentityBinding{
			// t1 verified without shares and was restricted; t2 never verified.
			"t1:monad": {Address: "t1", ChainID: "monad", TelegramID: "555", IsBanned: true},
		}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fx.restricts = append(fx.restricts, body)
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(srv.Close)

	subjects := &fakeSubjects{chats: map[string]domain.SubjectChat{
		"subj1:monad": {AgentName: "alpha", BotToken: "tok", ChatGroupID: "-100111"},
	}}
	dispatcher := moderation.NewDispatcher(subjects, fx.identities, moderation.NewTelegramClient(srv.URL), nil, nil, discardLogger())
	fx.processor = NewTradeProcessor(fx.ledger, fx.identities, dispatcher, nil, discardLogger())
	return fx
}

func (fx *processorFixture) lastPermissions(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, fx.restricts)
	perms, ok := fx.restricts[len(fx.restricts)-1]["permissions"].(map[string]any)
	require.True(t, ok)
	return perms
}

func TestProcess_BuyUnmutesBoundTrader(t *testing.T) {
	fx := newProcessorFixture(t)

	err := fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t1", true, 2))
	require.NoError(t, err)

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Equal(t, uint64(2), bal)

	require.Len(t, fx.restricts, 1)
	assert.Equal(t, true, fx.lastPermissions(t)["can_send_messages"])
	assert.False(t, fx.identities.bindings["t1:monad"].IsBanned)
}

func TestProcess_SellToZeroMutes(t *testing.T) {
	fx := newProcessorFixture(t)

	require.NoError(t, fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t1", true, 2)))
	require.NoError(t, fx.processor.Process(context.Background(), event("monad", "0xbb", 0, "t1", false, 2)))

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Zero(t, bal)

	// One unmute for the buy, one mute for the sell-out.
	require.Len(t, fx.restricts, 2)
	assert.Equal(t, false, fx.lastPermissions(t)["can_send_messages"])
	assert.True(t, fx.identities.bindings["t1:monad"].IsBanned)
}

func TestProcess_PartialSellKeepsAccess(t *testing.T) {
	fx := newProcessorFixture(t)

	require.NoError(t, fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t1", true, 3)))
	require.NoError(t, fx.processor.Process(context.Background(), event("monad", "0xbb", 0, "t1", false, 1)))

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Equal(t, uint64(2), bal)

	// The sell left a positive balance; the trader stays unmuted and no
	// second Telegram call is made.
	assert.Len(t, fx.restricts, 1)
	assert.False(t, fx.identities.bindings["t1:monad"].IsBanned)
}

func TestProcess_DuplicateEventIsInert(t *testing.T) {
	fx := newProcessorFixture(t)

	ev := event("monad", "0xaa", 0, "t1", true, 2)
	require.NoError(t, fx.processor.Process(context.Background(), ev))
	require.NoError(t, fx.processor.Process(context.Background(), ev))

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Equal(t, uint64(2), bal)

	// The replay re-evaluated gating against the unchanged balance; the
	// state already matched, so Telegram saw exactly one call.
	assert.Len(t, fx.restricts, 1)
}

func TestProcess_UnboundTraderSkipsModeration(t *testing.T) {
	fx := newProcessorFixture(t)

	err := fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t2", true, 1))
	require.NoError(t, err)

	bal, _ := fx.ledger.GetBalance(context.Background(), "t2", "subj1", "monad")
	assert.Equal(t, uint64(1), bal)
	assert.Empty(t, fx.restricts)
}

func TestProcess_SellForUnknownPairIsNoOp(t *testing.T) {
	fx := newProcessorFixture(t)

	err := fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t2", false, 5))
	require.NoError(t, err)

	bal, _ := fx.ledger.GetBalance(context.Background(), "t2", "subj1", "monad")
	assert.Zero(t, bal)

	// Replaying the same event later still mutates nothing.
	require.NoError(t, fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t2", false, 5)))
	assert.Zero(t, bal)
}

func TestProcess_LedgerFailureSkipsEvent(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.ledger.applyErr = errors.New("db down")

	// The failed write is logged and skipped; returning an error here would
	// pin the sync loop on one poison event forever.
	err := fx.processor.Process(context.Background(), event("monad", "0xaa", 0, "t1", true, 1))
	require.NoError(t, err)
	assert.Empty(t, fx.restricts)

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Zero(t, bal)
}

func TestProcess_ModerationFailureDoesNotAbort(t *testing.T) {
	fx := newProcessorFixture(t)

	// Replace the dispatcher's Telegram endpoint with one that always fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`)
	}))
	t.Cleanup(srv.Close)

	subjects := &fakeSubjects{chats: map[string]domain.SubjectChat{
		"subj1:monad": {AgentName: "alpha", BotToken: "tok", ChatGroupID: "-100111"},
	}}
	dispatcher := moderation.NewDispatcher(subjects, fx.identities, moderation.NewTelegramClient(srv.URL), nil, nil, discardLogger())
	proc := NewTradeProcessor(fx.ledger, fx.identities, dispatcher, nil, discardLogger())

	// The ledger write succeeded, so the event must not be retried even
	// though Telegram rejected the permission change.
	err := proc.Process(context.Background(), event("monad", "0xaa", 0, "t1", true, 1))
	require.NoError(t, err)

	bal, _ := fx.ledger.GetBalance(context.Background(), "t1", "subj1", "monad")
	assert.Equal(t, uint64(1), bal)
	// The recorded state is untouched; the next event retries the unmute.
	assert.True(t, fx.identities.bindings["t1:monad"].IsBanned)
}
