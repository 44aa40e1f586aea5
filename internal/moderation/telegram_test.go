package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// botAPIStub records Bot API calls and serves canned envelopes.
type botAPIStub struct {
	t       *testing.T
	calls   []string          // "token/method"
	bodies  map[string]map[string]any
	results map[string]string // method -> result JSON
	fail    map[string]string // method -> error description
}

func newBotAPIStub(t *testing.T) (*botAPIStub, *TelegramClient) {
	s := &botAPIStub{
		t:       t,
		bodies:  map[string]map[string]any{},
		results: map[string]string{},
		fail:    map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Paths look like /bot{token}/{method}.
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/bot"), "/", 2)
		require.Len(t, parts, 2)
		token, method := parts[0], parts[1]
		s.calls = append(s.calls, token+"/"+method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.bodies[method] = body

		if desc, ok := s.fail[method]; ok {
			fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, desc)
			return
		}
		result, ok := s.results[method]
		if !ok {
			result = "true"
		}
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
	}))
	t.Cleanup(srv.Close)

	return s, NewTelegramClient(srv.URL)
}

func TestRestrictChatMember_Restrict(t *testing.T) {
	stub, client := newBotAPIStub(t)

	err := client.RestrictChatMember(context.Background(), "tok123", "-100987", "555", domain.ActionRestrict)
	require.NoError(t, err)

	require.Equal(t, []string{"tok123/restrictChatMember"}, stub.calls)
	body := stub.bodies["restrictChatMember"]
	assert.Equal(t, "-100987", body["chat_id"])
	assert.Equal(t, float64(555), body["user_id"])

	perms, ok := body["permissions"].(map[string]any)
	require.True(t, ok)
	// Restrict revokes everything.
	for field, v := range perms {
		assert.Equal(t, false, v, field)
	}
}

func TestRestrictChatMember_Unrestrict(t *testing.T) {
	stub, client := newBotAPIStub(t)

	err := client.RestrictChatMember(context.Background(), "tok123", "-100987", "555", domain.ActionUnrestrict)
	require.NoError(t, err)

	perms := stub.bodies["restrictChatMember"]["permissions"].(map[string]any)
	assert.Equal(t, true, perms["can_send_messages"])
	assert.Equal(t, true, perms["can_send_polls"])
	assert.Equal(t, true, perms["can_add_web_page_previews"])
}

func TestRestrictChatMember_BadUserID(t *testing.T) {
	_, client := newBotAPIStub(t)
	err := client.RestrictChatMember(context.Background(), "tok", "-1", "not-a-number", domain.ActionRestrict)
	assert.Error(t, err)
}

func TestRestrictChatMember_APIError(t *testing.T) {
	stub, client := newBotAPIStub(t)
	stub.fail["restrictChatMember"] = "user is an administrator of the chat"

	err := client.RestrictChatMember(context.Background(), "tok", "-1", "555", domain.ActionRestrict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user is an administrator")
}

func TestSendMessage_WithButtons(t *testing.T) {
	stub, client := newBotAPIStub(t)

	err := client.SendMessage(context.Background(), "tok", "-100987", "welcome",
		[]InlineButton{{Text: "Verify wallet", URL: "https://gate.example.com/sign?c=abc"}})
	require.NoError(t, err)

	body := stub.bodies["sendMessage"]
	assert.Equal(t, "welcome", body["text"])
	markup, ok := body["reply_markup"].(map[string]any)
	require.True(t, ok)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 1)
	btn := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Verify wallet", btn["text"])
}

func TestGetUpdates(t *testing.T) {
	stub, client := newBotAPIStub(t)
	stub.results["getUpdates"] = `[
		{
			"update_id": 42,
			"message": {
				"message_id": 7,
				"chat": {"id": -100987, "type": "supergroup"},
				"new_chat_members": [{"id": 555, "is_bot": false, "username": "alice"}]
			}
		}
	]`

	updates, err := client.GetUpdates(context.Background(), "tok", 41, 25*time.Second)
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, int64(42), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	require.Len(t, updates[0].Message.NewChatMembers, 1)
	assert.Equal(t, "alice", updates[0].Message.NewChatMembers[0].Username)

	body := stub.bodies["getUpdates"]
	assert.Equal(t, float64(41), body["offset"])
	assert.Equal(t, float64(25), body["timeout"])
}
