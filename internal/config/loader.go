package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SHAREGATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SHAREGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Chain entries are file-only; they carry no secrets.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SHAREGATE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SHAREGATE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SHAREGATE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SHAREGATE_DATABASE_NAME")
	setStr(&cfg.Database.User, "SHAREGATE_DATABASE_USER")
	setStr(&cfg.Database.Password, "SHAREGATE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SHAREGATE_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "SHAREGATE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SHAREGATE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SHAREGATE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SHAREGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SHAREGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHAREGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SHAREGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SHAREGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SHAREGATE_REDIS_TLS_ENABLED")

	// ── Sync ──
	setDuration(&cfg.Sync.IdleInterval, "SHAREGATE_SYNC_IDLE_INTERVAL")
	setDuration(&cfg.Sync.ErrorBackoff, "SHAREGATE_SYNC_ERROR_BACKOFF")
	setDuration(&cfg.Sync.PollDelay, "SHAREGATE_SYNC_POLL_DELAY")
	setDuration(&cfg.Sync.LockTTL, "SHAREGATE_SYNC_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SHAREGATE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SHAREGATE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SHAREGATE_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Endpoint, "SHAREGATE_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "SHAREGATE_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "SHAREGATE_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "SHAREGATE_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "SHAREGATE_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "SHAREGATE_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "SHAREGATE_ARCHIVE_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SHAREGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SHAREGATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SHAREGATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SHAREGATE_SERVER_API_KEY")

	// ── Bot ──
	setBool(&cfg.Bot.Enabled, "SHAREGATE_BOT_ENABLED")
	setStr(&cfg.Bot.SignURL, "SHAREGATE_BOT_SIGN_URL")
	setDuration(&cfg.Bot.RestartDelay, "SHAREGATE_BOT_RESTART_DELAY")
	setDuration(&cfg.Bot.ChallengeTTL, "SHAREGATE_BOT_CHALLENGE_TTL")
	setDuration(&cfg.Bot.PollTimeout, "SHAREGATE_BOT_POLL_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SHAREGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SHAREGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SHAREGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SHAREGATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SHAREGATE_MODE")
	setStr(&cfg.LogLevel, "SHAREGATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
