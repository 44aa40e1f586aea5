package moderation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

type fakeSubjectStore struct {
	chats map[string]domain.SubjectChat // key subject:chain
}

func (f *fakeSubjectStore) Create(ctx context.Context, sc domain.SubjectChat) error { return nil }
func (f *fakeSubjectStore) GetBySubject(ctx context.Context, subject, chainID string) (domain.SubjectChat, error) {
	sc, ok := f.chats[subject+":"+chainID]
	if !ok {
		return domain.SubjectChat{}, domain.ErrNotFound
	}
	return sc, nil
}
func (f *fakeSubjectStore) GetByAgentName(ctx context.Context, name string) (domain.SubjectChat, error) {
	return domain.SubjectChat{}, domain.ErrNotFound
}
func (f *fakeSubjectStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SubjectChat, error) {
	return nil, nil
}
func (f *fakeSubjectStore) Count(ctx context.Context) (int64, error) { return 0, nil }

type fakeIdentityStore struct {
	banned map[string]bool // key address:chain
}

func (f *fakeIdentityStore) Bind(ctx context.Context, b domain.IdentityBinding) error { return nil }
func (f *fakeIdentityStore) Get(ctx context.Context, address, chainID string) (domain.IdentityBinding, error) {
	return domain.IdentityBinding{}, domain.ErrNotFound
}
func (f *fakeIdentityStore) SetBanned(ctx context.Context, address, chainID string, banned bool) error {
	if f.banned == nil {
		f.banned = map[string]bool{}
	}
	f.banned[address+":"+chainID] = banned
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDispatcher(t *testing.T) (*Dispatcher, *fakeIdentityStore, *botAPIStub) {
	t.Helper()
	stub, client := newBotAPIStub(t)
	subjects := &fakeSubjectStore{chats: map[string]domain.SubjectChat{
		"subj1:monad": {
			AgentName:   "alpha",
			BotToken:    "tok-alpha",
			ChatGroupID: "-100111",
		},
	}}
	identities := &fakeIdentityStore{}
	return NewDispatcher(subjects, identities, client, nil, nil, discardLogger()), identities, stub
}

func TestDispatcherApply_Restrict(t *testing.T) {
	d, identities, stub := testDispatcher(t)

	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555"}
	err := d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionRestrict)
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-alpha/restrictChatMember"}, stub.calls)
	assert.True(t, identities.banned["addr1:monad"])
}

func TestDispatcherApply_SkipsWhenStateMatches(t *testing.T) {
	d, identities, stub := testDispatcher(t)

	// Already banned; a second restrict must not reach Telegram.
	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555", IsBanned: true}
	err := d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionRestrict)
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
	assert.Empty(t, identities.banned)

	// Not banned; unrestrict is equally a no-op.
	binding.IsBanned = false
	err = d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionUnrestrict)
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
}

func TestDispatcherSync_DispatchesEvenWhenStateMatches(t *testing.T) {
	d, identities, stub := testDispatcher(t)

	// Sync trusts the caller, not the recorded flag. A fresh binding's zero
	// value says unbanned even though the greeter muted the member on join.
	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555", IsBanned: true}
	err := d.Sync(context.Background(), "subj1", "monad", binding, domain.ActionRestrict)
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-alpha/restrictChatMember"}, stub.calls)
	assert.True(t, identities.banned["addr1:monad"])
}

func TestDispatcherApply_UnboundSubjectIsNoOp(t *testing.T) {
	d, identities, stub := testDispatcher(t)

	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555"}
	err := d.Apply(context.Background(), "unknown-subject", "monad", binding, domain.ActionRestrict)
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
	assert.Empty(t, identities.banned)
}

func TestDispatcherApply_TelegramFailureLeavesStateUntouched(t *testing.T) {
	d, identities, stub := testDispatcher(t)
	stub.fail["restrictChatMember"] = "not enough rights"

	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555"}
	err := d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionRestrict)
	require.Error(t, err)

	// The recorded state only changes after Telegram confirms, so the next
	// event retries the restriction.
	assert.Empty(t, identities.banned)
}

type fakeBus struct {
	published [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func TestDispatcherApply_PublishesBusEvent(t *testing.T) {
	stub, client := newBotAPIStub(t)
	subjects := &fakeSubjectStore{chats: map[string]domain.SubjectChat{
		"subj1:monad": {AgentName: "alpha", BotToken: "tok-alpha", ChatGroupID: "-100111"},
	}}
	bus := &fakeBus{}
	d := NewDispatcher(subjects, &fakeIdentityStore{}, client, nil, bus, discardLogger())

	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555"}
	require.NoError(t, d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionRestrict))

	require.Len(t, stub.calls, 1)
	require.Len(t, bus.published, 1)
	assert.Contains(t, string(bus.published[0]), `"type":"moderation_applied"`)
	assert.Contains(t, string(bus.published[0]), `"agent":"alpha"`)
}

func TestDispatcherApply_Unrestrict(t *testing.T) {
	d, identities, stub := testDispatcher(t)

	binding := domain.IdentityBinding{Address: "addr1", ChainID: "monad", TelegramID: "555", IsBanned: true}
	err := d.Apply(context.Background(), "subj1", "monad", binding, domain.ActionUnrestrict)
	require.NoError(t, err)

	require.Len(t, stub.calls, 1)
	assert.False(t, identities.banned["addr1:monad"])

	perms := stub.bodies["restrictChatMember"]["permissions"].(map[string]any)
	assert.Equal(t, true, perms["can_send_messages"])
}
