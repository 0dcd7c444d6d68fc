package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Depth)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 5, cfg.MismatchReconnectThreshold)
	assert.Equal(t, "./recordings", cfg.RecordingDir)
	assert.Equal(t, "./incidents", cfg.IncidentDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exchange_url: "wss://example.test/ws"
symbols: ["BTC-USDT", "ETH-USDT"]
depth: 100
mismatch_reconnect_threshold: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/ws", cfg.ExchangeURL)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Symbols)
	assert.Equal(t, 100, cfg.Depth)
	assert.Equal(t, 3, cfg.MismatchReconnectThreshold)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("BLACKBOX_DEPTH", "10")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Depth)
}
