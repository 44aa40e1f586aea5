// Package moderation applies share-gating decisions to Telegram groups:
// members who hold subject shares may speak, members who sold out are muted.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramClient is a minimal Telegram Bot API client. The bot token is
// passed per call because every subject chat is moderated by its own bot.
type TelegramClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTelegramClient creates a client. An empty baseURL selects the public
// Bot API endpoint.
func NewTelegramClient(baseURL string) *TelegramClient {
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Above the long-poll window used by getUpdates.
			Timeout: 35 * time.Second,
		},
	}
}

// chatPermissions mirrors the Bot API ChatPermissions object. Omitted fields
// default to false on the Telegram side.
type chatPermissions struct {
	CanSendMessages      bool `json:"can_send_messages"`
	CanSendAudios        bool `json:"can_send_audios"`
	CanSendDocuments     bool `json:"can_send_documents"`
	CanSendPhotos        bool `json:"can_send_photos"`
	CanSendVideos        bool `json:"can_send_videos"`
	CanSendVideoNotes    bool `json:"can_send_video_notes"`
	CanSendVoiceNotes    bool `json:"can_send_voice_notes"`
	CanSendPolls         bool `json:"can_send_polls"`
	CanSendOtherMessages bool `json:"can_send_other_messages"`
	CanAddWebPagePreview bool `json:"can_add_web_page_previews"`
}

// permissionsFor maps a moderation action to the permission set sent to
// restrictChatMember: restrict revokes everything, unrestrict restores the
// full send set.
func permissionsFor(action domain.Action) chatPermissions {
	if action == domain.ActionRestrict {
		return chatPermissions{}
	}
	return chatPermissions{
		CanSendMessages:      true,
		CanSendAudios:        true,
		CanSendDocuments:     true,
		CanSendPhotos:        true,
		CanSendVideos:        true,
		CanSendVideoNotes:    true,
		CanSendVoiceNotes:    true,
		CanSendPolls:         true,
		CanSendOtherMessages: true,
		CanAddWebPagePreview: true,
	}
}

// RestrictChatMember applies the action's permission set to a group member.
// chatID may be a numeric id or an @channelname; userID must be numeric.
func (c *TelegramClient) RestrictChatMember(ctx context.Context, token, chatID, userID string, action domain.Action) error {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: restrict: bad user id %q: %w", userID, err)
	}
	payload := map[string]any{
		"chat_id":     chatID,
		"user_id":     uid,
		"permissions": permissionsFor(action),
	}
	return c.call(ctx, token, "restrictChatMember", payload, nil)
}

// InlineButton is one button of an inline keyboard.
type InlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SendMessage posts a text message to a chat, optionally with a single row
// of inline URL buttons.
func (c *TelegramClient) SendMessage(ctx context.Context, token, chatID, text string, buttons []InlineButton) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(buttons) > 0 {
		payload["reply_markup"] = map[string]any{
			"inline_keyboard": [][]InlineButton{buttons},
		}
	}
	return c.call(ctx, token, "sendMessage", payload, nil)
}

// User is a Telegram user as seen in updates.
type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

// Chat identifies the chat a message arrived in.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is the subset of the Bot API Message the greeter cares about.
type Message struct {
	MessageID      int64  `json:"message_id"`
	From           *User  `json:"from"`
	Chat           Chat   `json:"chat"`
	Text           string `json:"text"`
	NewChatMembers []User `json:"new_chat_members"`
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// GetUpdates long-polls for updates after offset, waiting up to timeout
// server-side before returning an empty batch.
func (c *TelegramClient) GetUpdates(ctx context.Context, token string, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, token, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// apiResponse is the standard Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

// call posts one Bot API method and decodes the result into out when it is
// non-nil.
func (c *TelegramClient) call(ctx context.Context, token, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: %s: read response: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("telegram: %s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram: %s: api error %d: %s", method, apiResp.ErrorCode, apiResp.Description)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: decode result: %w", method, err)
		}
	}
	return nil
}
