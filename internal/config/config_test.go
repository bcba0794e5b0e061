package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/2beens/trainmate/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigContent = `
[development]
host = "localhost"
port = 9000
log_level = "trace"
log_to_stdout = true
data_dir = "/tmp/trainmate"
backend_base_url = "http://localhost:8080"
sync_cooldown_minutes = 1

[production]
host = ""
port = 9000
log_level = "debug"
logs_path = "/var/log/trainmate/service.log"
data_dir = "/var/lib/trainmate"
backend_base_url = "https://coaching.example.com"
sync_cooldown_minutes = 30
sentry_enabled = true
honeycomb_tracing = true
prometheus_metrics_port = 9001
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigContent), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := config.Load("development", path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.True(t, cfg.LogToStdout)
	assert.Equal(t, 1, cfg.SyncCooldownMinutes)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.SentryEnabled)

	cfg, err = config.Load("prod", path)
	require.NoError(t, err)
	assert.Equal(t, "https://coaching.example.com", cfg.BackendBaseURL)
	assert.Equal(t, 30, cfg.SyncCooldownMinutes)
	assert.True(t, cfg.SentryEnabled)
	assert.True(t, cfg.HoneycombTracing)
	assert.Equal(t, 9001, cfg.PrometheusMetricsPort)
	assert.Equal(t, "prod", cfg.Environment)
}

func TestLoad_UnknownEnv(t *testing.T) {
	path := writeTestConfig(t)
	_, err := config.Load("staging", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown env")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("dev", "/nonexistent/config.toml")
	require.Error(t, err)
}
