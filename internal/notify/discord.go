package notify

import (
	"context"
	"fmt"
)

// DiscordSender delivers operator alerts through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	poster     *jsonPoster
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		poster:     newJSONPoster(),
	}
}

// Send posts the alert to the webhook with the title in bold. Discord
// answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	if err := d.poster.post(ctx, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string {
	return "discord"
}
