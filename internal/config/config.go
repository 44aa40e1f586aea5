// Package config defines the top-level configuration for sharegate and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Chain type tags. Each configured chain is either range-based (EVM style)
// or cursor-based (Move style); everything downstream dispatches on this tag.
const (
	ChainTypeEVM  = "evm"
	ChainTypeMove = "move"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SHAREGATE_* environment
// variables.
type Config struct {
	Chains   []ChainConfig  `toml:"chains"`
	Sync     SyncConfig     `toml:"sync"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Bot      BotConfig      `toml:"bot"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes one chain to ingest trade events from.
type ChainConfig struct {
	// Type selects the backend: "evm" or "move".
	Type string `toml:"type"`
	// Name is the chain identifier used in storage keys, e.g. "monad", "sui".
	Name   string `toml:"name"`
	RPCURL string `toml:"rpc_url"`

	// Contract is the shares-trading contract address (EVM) or the package
	// id publishing the Trade event (Move).
	Contract string `toml:"contract"`

	// StartBlock is the last block considered already processed on first
	// run; ingestion begins at StartBlock+1. EVM chains only.
	StartBlock uint64 `toml:"start_block"`
	// BatchSize is the block span fetched per iteration. EVM chains only.
	BatchSize uint64 `toml:"batch_size"`

	// SharesObjectID is the shared object holding the shares-trading state,
	// passed to the read-only balance call. Move chains only.
	SharesObjectID string `toml:"shares_object_id"`
	// PageSize is the event page size per query. Move chains only.
	PageSize int `toml:"page_size"`
}

// SyncConfig holds the sync-loop timing parameters shared by all chains.
type SyncConfig struct {
	// IdleInterval is the sleep when a chain is caught up to its head.
	IdleInterval duration `toml:"idle_interval"`
	// ErrorBackoff is the sleep after a transient RPC or storage failure.
	ErrorBackoff duration `toml:"error_backoff"`
	// PollDelay is the pause between iterations, bounding the RPC rate.
	PollDelay duration `toml:"poll_delay"`
	// LockTTL is the lifetime of the per-chain sync lock; it is refreshed
	// every iteration.
	LockTTL duration `toml:"lock_ttl"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig controls cold-storage archival of processed-event keys.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// RetentionDays is how long idempotency keys stay in Postgres before
	// being moved to object storage. It must cover the deepest plausible
	// replay window.
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`

	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// BotConfig holds the greeter bot pool parameters.
type BotConfig struct {
	Enabled bool `toml:"enabled"`
	// SignURL is the page members are sent to for wallet verification; the
	// challenge, subject, and chain are appended as query parameters.
	SignURL      string   `toml:"sign_url"`
	RestartDelay duration `toml:"restart_delay"`
	ChallengeTTL duration `toml:"challenge_ttl"`
	PollTimeout  duration `toml:"poll_timeout"`
}

// NotifyConfig holds operational alerting credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Sync: SyncConfig{
			IdleInterval: duration{60 * time.Second},
			ErrorBackoff: duration{10 * time.Second},
			PollDelay:    duration{1 * time.Second},
			LockTTL:      duration{5 * time.Minute},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sharegate",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			RetentionDays:  90,
			Interval:       duration{24 * time.Hour},
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8088,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Bot: BotConfig{
			Enabled:      true,
			RestartDelay: duration{5 * time.Second},
			ChallengeTTL: duration{15 * time.Minute},
			PollTimeout:  duration{25 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"sync_error", "moderation_applied", "moderation_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"sync":   true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, sync, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chains — at least one is required for modes that run the pipeline.
	needsChains := mode == "full" || mode == "sync"
	if needsChains && len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured for mode "+c.Mode)
	}
	seen := map[string]bool{}
	for i, ch := range c.Chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if ch.Name == "" {
			errs = append(errs, prefix+": name must not be empty")
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain name %q", prefix, ch.Name))
		}
		seen[ch.Name] = true
		if ch.RPCURL == "" {
			errs = append(errs, prefix+": rpc_url must not be empty")
		}
		switch ch.Type {
		case ChainTypeEVM:
			if ch.Contract == "" {
				errs = append(errs, prefix+": contract must not be empty")
			}
			if ch.BatchSize == 0 {
				errs = append(errs, prefix+": batch_size must be > 0")
			}
		case ChainTypeMove:
			if ch.Contract == "" {
				errs = append(errs, prefix+": contract (package id) must not be empty")
			}
			if ch.SharesObjectID == "" {
				errs = append(errs, prefix+": shares_object_id must not be empty")
			}
			if ch.PageSize <= 0 {
				errs = append(errs, prefix+": page_size must be > 0")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown type %q (valid: evm, move)", prefix, ch.Type))
		}
	}

	// Sync intervals.
	if c.Sync.IdleInterval.Duration <= 0 {
		errs = append(errs, "sync: idle_interval must be > 0")
	}
	if c.Sync.ErrorBackoff.Duration <= 0 {
		errs = append(errs, "sync: error_backoff must be > 0")
	}
	if c.Sync.PollDelay.Duration < 0 {
		errs = append(errs, "sync: poll_delay must be >= 0")
	}
	if c.Sync.LockTTL.Duration <= 0 {
		errs = append(errs, "sync: lock_ttl must be > 0")
	}

	// Database.
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive.
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server.
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Bot.
	if c.Bot.Enabled && mode != "sync" {
		if c.Bot.SignURL == "" {
			errs = append(errs, "bot: sign_url must not be empty when the bot pool is enabled")
		}
		if c.Bot.ChallengeTTL.Duration <= 0 {
			errs = append(errs, "bot: challenge_ttl must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Chain returns the chain config with the given name, or false.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
