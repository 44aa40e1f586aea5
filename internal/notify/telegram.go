package notify

import (
	"context"
	"fmt"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers operator alerts to a Telegram chat. This is the
// operator channel and is independent of the per-agent greeter bots.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	poster  *jsonPoster
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		poster:  newJSONPoster(),
	}
}

// Send posts the alert via the sendMessage API with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := t.poster.post(ctx, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
