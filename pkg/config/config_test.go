package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
broker:
  name: kite
  kite:
    api_key: k
    access_token: t
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "clickhouse", cfg.Ingest.Backend)
	assert.Equal(t, 1000, cfg.Ingest.BufferSize)
	assert.Equal(t, time.Second, cfg.Ingest.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.Backfill.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Backfill.Window)
	assert.Equal(t, 6*time.Hour, cfg.Backfill.MaxAge)
	assert.Equal(t, time.Hour, cfg.Backfill.Freshness)
	assert.Equal(t, 60*time.Second, cfg.Streaming.InitialBackoff)
	assert.Equal(t, 600*time.Second, cfg.Streaming.MaxBackoff)
	assert.Equal(t, 0.1, cfg.Streaming.ChangeThreshold)
	assert.Equal(t, 500, cfg.Streaming.MaxInstruments)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
ingest:
  buffer_size: 50
  max_buffered: 500
backfill:
  interval: 5m
  window: 48h
`))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Ingest.BufferSize)
	assert.Equal(t, "5m", cfg.Backfill.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Backfill.Window)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("TICKVAULT_SERVER_PORT", "9100")
	t.Setenv("TICKVAULT_BROKER_KITE_ACCESS_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Broker.Kite.AccessToken)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown interval":      minimalYAML + "backfill:\n  interval: 2m\n",
		"kafka without brokers": minimalYAML + "ingest:\n  backend: kafka\n",
		"missing credentials":   "broker:\n  name: fyers\n",
		"backoff inverted":      minimalYAML + "streaming:\n  initial_backoff: 10m\n  max_backoff: 1m\n",
		"buffer cap too small":  minimalYAML + "ingest:\n  buffer_size: 100\n  max_buffered: 10\n",
		"bad timezone":          minimalYAML + "aggregate:\n  day_timezone: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
