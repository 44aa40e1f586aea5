package notify

// Event types emitted by the service. The configured notify.events list
// selects which of these reach operators.
const (
	// EventSyncError fires when a chain sync loop hits repeated failures.
	EventSyncError = "sync_error"
	// EventModerationApplied fires on every confirmed restrict/unrestrict.
	EventModerationApplied = "moderation_applied"
	// EventModerationFailed fires when a Telegram moderation call fails.
	EventModerationFailed = "moderation_failed"
)
