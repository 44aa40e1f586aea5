package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

type fakeSubjectStore struct {
	chats   map[string]domain.SubjectChat // key agent name
	listErr error
}

func newFakeSubjectStore() *fakeSubjectStore {
	return &fakeSubjectStore{chats: make(map[string]domain.SubjectChat)}
}

func (f *fakeSubjectStore) Create(_ context.Context, sc domain.SubjectChat) error {
	if _, ok := f.chats[sc.AgentName]; ok {
		return domain.ErrAlreadyExists
	}
	sc.CreatedAt = time.Now().UTC()
	f.chats[sc.AgentName] = sc
	return nil
}

func (f *fakeSubjectStore) GetBySubject(_ context.Context, subject, chainID string) (domain.SubjectChat, error) {
	for _, sc := range f.chats {
		if sc.SubjectAddress == subject && sc.ChainID == chainID {
			return sc, nil
		}
	}
	return domain.SubjectChat{}, domain.ErrNotFound
}

func (f *fakeSubjectStore) GetByAgentName(_ context.Context, name string) (domain.SubjectChat, error) {
	sc, ok := f.chats[name]
	if !ok {
		return domain.SubjectChat{}, domain.ErrNotFound
	}
	return sc, nil
}

func (f *fakeSubjectStore) List(_ context.Context, opts domain.ListOpts) ([]domain.SubjectChat, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var all []domain.SubjectChat
	for _, sc := range f.chats {
		all = append(all, sc)
	}
	if opts.Offset >= len(all) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[opts.Offset:end], nil
}

func (f *fakeSubjectStore) Count(context.Context) (int64, error) {
	return int64(len(f.chats)), nil
}

type fakeWorkerAdder struct {
	added []domain.SubjectChat
	err   error
}

func (f *fakeWorkerAdder) Add(sc domain.SubjectChat) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, sc)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createAgentBody(t *testing.T, overrides map[string]any) *bytes.Reader {
	t.Helper()
	body := map[string]any{
		"agent_name":      "alpha",
		"subject_address": "0xAaBbCcDdEeFf00112233445566778899AaBbCcDd",
		"chain_id":        "monad",
		"bot_token":       "tok-alpha",
		"chat_group_id":   "-100111",
		"invite_url":      "https://t.me/+abc",
		"bio":             "alpha agent",
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestCreateAgent(t *testing.T) {
	subjects := newFakeSubjectStore()
	workers := &fakeWorkerAdder{}
	h := NewAgentHandler(subjects, workers, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, nil))
	rec := httptest.NewRecorder()
	h.CreateAgent(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	// Subject address is canonicalized before storage.
	sc := subjects.chats["alpha"]
	assert.Equal(t, "aabbccddeeff00112233445566778899aabbccdd", sc.SubjectAddress)
	require.Len(t, workers.added, 1)
	assert.Equal(t, "alpha", workers.added[0].AgentName)

	// The bot token must not appear in the response.
	assert.NotContains(t, rec.Body.String(), "tok-alpha")
	assert.Contains(t, rec.Body.String(), `"agent_name":"alpha"`)
}

func TestCreateAgent_DuplicateName(t *testing.T) {
	subjects := newFakeSubjectStore()
	h := NewAgentHandler(subjects, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, nil)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, nil)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateAgent_MissingFields(t *testing.T) {
	h := NewAgentHandler(newFakeSubjectStore(), nil, nil, testLogger())

	for _, field := range []string{"agent_name", "subject_address", "chain_id", "bot_token", "chat_group_id"} {
		rec := httptest.NewRecorder()
		h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents",
			createAgentBody(t, map[string]any{field: ""})))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "field %s", field)
	}
}

func TestCreateAgent_WorkerFailureStillPersists(t *testing.T) {
	subjects := newFakeSubjectStore()
	workers := &fakeWorkerAdder{err: context.Canceled}
	h := NewAgentHandler(subjects, workers, nil, testLogger())

	rec := httptest.NewRecorder()
	h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, nil)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, subjects.chats, "alpha")
}

func TestListAgents(t *testing.T) {
	subjects := newFakeSubjectStore()
	h := NewAgentHandler(subjects, nil, nil, testLogger())

	for _, body := range []map[string]any{
		{"agent_name": "alpha"},
		{"agent_name": "beta", "subject_address": "0x1111111111111111111111111111111111111111"},
	} {
		rec := httptest.NewRecorder()
		h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, body)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ListAgents(rec, httptest.NewRequest(http.MethodGet, "/api/agents?page=1&page_size=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents   []agentSummary `json:"agents"`
		Total    int64          `json:"total"`
		Page     int            `json:"page"`
		PageSize int            `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Agents, 2)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 10, resp.PageSize)
}

func TestGetAgent_NotFound(t *testing.T) {
	h := NewAgentHandler(newFakeSubjectStore(), nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/agents/ghost", nil)
	req.SetPathValue("name", "ghost")
	rec := httptest.NewRecorder()
	h.GetAgent(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAgentDetail(t *testing.T) {
	subjects := newFakeSubjectStore()
	h := NewAgentHandler(subjects, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.CreateAgent(rec, httptest.NewRequest(http.MethodPost, "/api/agents", createAgentBody(t, nil)))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/alpha/detail", nil)
	req.SetPathValue("name", "alpha")
	rec = httptest.NewRecorder()
	h.GetAgentDetail(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"invite_url":"https://t.me/+abc"`)
	assert.Contains(t, rec.Body.String(), `"bio":"alpha agent"`)
	assert.NotContains(t, rec.Body.String(), "tok-alpha")
}
