package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/moderation"
)

// greeter handles one subject chat: it long-polls the chat's bot for updates,
// mutes joining members, and sends them the signing link that unlocks the
// chat once share ownership is proven.
type greeter struct {
	chat        domain.SubjectChat
	telegram    *moderation.TelegramClient
	issuer      ChallengeIssuer
	signURL     string
	pollTimeout time.Duration
	logger      *slog.Logger

	// offset is the next update id to request. It survives restarts of the
	// same worker so greetings are not replayed after a crash.
	offset int64
}

func newGreeter(sc domain.SubjectChat, telegram *moderation.TelegramClient, issuer ChallengeIssuer, cfg Config, logger *slog.Logger) *greeter {
	return &greeter{
		chat:        sc,
		telegram:    telegram,
		issuer:      issuer,
		signURL:     cfg.SignURL,
		pollTimeout: cfg.PollTimeout,
		logger: logger.With(
			slog.String("agent", sc.AgentName),
			slog.String("chain", sc.ChainID),
		),
	}
}

// run polls until ctx is cancelled. Any poll failure is returned to the
// supervisor, which restarts the worker after the configured delay.
func (g *greeter) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := g.telegram.GetUpdates(ctx, g.chat.BotToken, g.offset, g.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bot: poll updates: %w", err)
		}
		for _, u := range updates {
			if u.UpdateID >= g.offset {
				g.offset = u.UpdateID + 1
			}
			g.handle(ctx, u)
		}
	}
}

func (g *greeter) handle(ctx context.Context, u moderation.Update) {
	if u.Message == nil {
		return
	}
	for _, member := range u.Message.NewChatMembers {
		if member.IsBot {
			continue
		}
		g.greet(ctx, member)
	}
}

// greet mutes the joining member and sends the signing link. The mute comes
// first: until the wallet is verified the member must not be able to speak,
// even if the greeting itself fails to send.
func (g *greeter) greet(ctx context.Context, member moderation.User) {
	telegramID := strconv.FormatInt(member.ID, 10)

	if err := g.telegram.RestrictChatMember(ctx, g.chat.BotToken, g.chat.ChatGroupID, telegramID, domain.ActionRestrict); err != nil {
		g.logger.WarnContext(ctx, "mute on join failed",
			slog.String("telegram_id", telegramID),
			slog.String("error", err.Error()),
		)
	}

	ch, err := g.issuer.IssueChallenge(ctx, telegramID, g.chat.SubjectAddress, g.chat.ChainID)
	if err != nil {
		g.logger.ErrorContext(ctx, "issue challenge failed",
			slog.String("telegram_id", telegramID),
			slog.String("error", err.Error()),
		)
		return
	}

	buttons := []moderation.InlineButton{{Text: "ClickToSign", URL: g.signLink(ch)}}
	if err := g.telegram.SendMessage(ctx, g.chat.BotToken, g.chat.ChatGroupID,
		"Please sign to verify wallet ownership:", buttons); err != nil {
		g.logger.WarnContext(ctx, "greeting failed",
			slog.String("telegram_id", telegramID),
			slog.String("error", err.Error()),
		)
		return
	}

	g.logger.InfoContext(ctx, "greeted new member",
		slog.String("telegram_id", telegramID),
		slog.String("username", member.Username),
	)
}

// signLink builds the verification URL with the challenge bound to the
// member and subject.
func (g *greeter) signLink(ch domain.Challenge) string {
	u, err := url.Parse(g.signURL)
	if err != nil {
		// Validated at startup; fall back to raw concatenation.
		return g.signURL + "?challenge=" + url.QueryEscape(ch.ID)
	}
	q := u.Query()
	q.Set("challenge", ch.ID)
	q.Set("subject", ch.Subject)
	q.Set("chain", ch.ChainID)
	u.RawQuery = q.Encode()
	return u.String()
}
