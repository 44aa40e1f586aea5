package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[[chains]]
type = "evm"
name = "monad"
rpc_url = "http://localhost:8545"
contract = "0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9"
start_block = 1200
batch_size = 100

[[chains]]
type = "move"
name = "sui"
rpc_url = "https://fullnode.mainnet.sui.io:443"
contract = "0xabc"
shares_object_id = "0xdef"
page_size = 100

[sync]
idle_interval = "30s"
error_backoff = "5s"

[database]
host = "db.internal"
database = "sharegate"

[bot]
sign_url = "https://gate.example.com/web3-sign"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, ChainTypeEVM, cfg.Chains[0].Type)
	assert.Equal(t, uint64(1200), cfg.Chains[0].StartBlock)
	assert.Equal(t, ChainTypeMove, cfg.Chains[1].Type)
	assert.Equal(t, 100, cfg.Chains[1].PageSize)

	// File values override defaults.
	assert.Equal(t, 30*time.Second, cfg.Sync.IdleInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Sync.ErrorBackoff.Duration)
	assert.Equal(t, "db.internal", cfg.Database.Host)

	// Untouched values keep their defaults.
	assert.Equal(t, time.Second, cfg.Sync.PollDelay.Duration)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.True(t, cfg.Database.RunMigrations)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHAREGATE_DATABASE_PASSWORD", "hunter2")
	t.Setenv("SHAREGATE_SYNC_IDLE_INTERVAL", "2m")
	t.Setenv("SHAREGATE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SHAREGATE_MODE", "sync")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, 2*time.Minute, cfg.Sync.IdleInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sync", cfg.Mode)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "banana"
	cfg.Chains = []ChainConfig{
		{Type: "evm", Name: "monad"},          // missing rpc_url, contract, batch_size
		{Type: "tendermint", Name: "unknown"}, // bad type, missing rpc_url
	}
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "chains[0]: rpc_url must not be empty")
	assert.Contains(t, msg, "chains[0]: contract must not be empty")
	assert.Contains(t, msg, "chains[0]: batch_size must be > 0")
	assert.Contains(t, msg, `chains[1]: unknown type "tendermint"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
}

func TestValidate_RequiresChainsForSyncModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sync"
	cfg.Bot.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one chain must be configured")

	cfg.Mode = "server"
	cfg.Bot.SignURL = "https://gate.example.com/web3-sign"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_DuplicateChainNames(t *testing.T) {
	cfg := Defaults()
	cfg.Bot.SignURL = "https://gate.example.com/web3-sign"
	cfg.Chains = []ChainConfig{
		{Type: "evm", Name: "monad", RPCURL: "http://a", Contract: "0x1", BatchSize: 100},
		{Type: "evm", Name: "monad", RPCURL: "http://b", Contract: "0x2", BatchSize: 100},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate chain name "monad"`)
}
