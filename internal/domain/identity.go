package domain

import "time"

// IdentityBinding associates an on-chain address with a Telegram identity.
// The binding is created once per (address, chain) on first successful
// signature verification; there is no rebinding path. IsBanned reflects the
// last confirmed moderation outcome and is set only by the dispatcher.
type IdentityBinding struct {
	Address    string
	ChainID    string
	TelegramID string
	IsBanned   bool
	CreatedAt  time.Time
}

// SubjectChat binds a subject address to the Telegram group gated by its
// shares, together with the bot credential used to moderate that group.
// Rows are operator-provided and read-only to the sync path.
type SubjectChat struct {
	AgentName      string
	SubjectAddress string
	ChainID        string
	BotToken       string
	ChatGroupID    string
	InviteURL      string
	Bio            string
	CreatedAt      time.Time
}

// Challenge is a short-lived signing challenge issued to a chat member and
// consumed by signature verification. ID doubles as the message the wallet
// signs.
type Challenge struct {
	ID         string
	TelegramID string
	Subject    string
	ChainID    string
}

// Action is a moderation action against a chat member.
type Action string

const (
	// ActionRestrict demotes a member to read-only.
	ActionRestrict Action = "restrict"
	// ActionUnrestrict restores a member's send permissions.
	ActionUnrestrict Action = "unrestrict"
)
