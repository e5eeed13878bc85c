// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
}

func TestLoadDefaultsWithBackendURL(t *testing.T) {
	t.Setenv("COMANDA_BACKEND_URL", "https://pos.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.com", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Backend.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.RetryBaseDelay)
	assert.True(t, cfg.Queue.SyncWrites)
	assert.Equal(t, []string{"create_payment"}, cfg.Queue.OfflineGuarded)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ItemInterval)
	assert.Equal(t, "127.0.0.1:8099", cfg.Status.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFailsWithoutBackendURL(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")
}

func TestLoadFromYAMLFile(t *testing.T) {
	writeConfigFile(t, `
backend:
  url: https://pos.internal
  timeout: 10s
  max_retries: 5
queue:
  path: /tmp/comanda-test-queue
  offline_guarded:
    - create_payment
    - create_bill
sync:
  retry_delay: 1s
logging:
  level: debug
  format: console
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pos.internal", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5, cfg.Backend.MaxRetries)
	assert.Equal(t, "/tmp/comanda-test-queue", cfg.Queue.Path)
	assert.Equal(t, []string{"create_payment", "create_bill"}, cfg.Queue.OfflineGuarded)
	assert.Equal(t, time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, "127.0.0.1:8099", cfg.Status.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	writeConfigFile(t, `
backend:
  url: https://pos.internal
logging:
  level: debug
`)
	t.Setenv("COMANDA_LOGGING_LEVEL", "warn")
	t.Setenv("COMANDA_STATUS_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level, "environment wins over the file")
	assert.Equal(t, "127.0.0.1:9000", cfg.Status.Addr)
}

func TestOfflineGuardedFromEnvCommaList(t *testing.T) {
	t.Setenv("COMANDA_BACKEND_URL", "https://pos.example.com")
	t.Setenv("COMANDA_QUEUE_OFFLINE_GUARDED", "create_payment, create_bill")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"create_payment", "create_bill"}, cfg.Queue.OfflineGuarded)
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "backend.url", envTransformFunc("COMANDA_BACKEND_URL"))
	assert.Equal(t, "backend.retry_base_delay", envTransformFunc("COMANDA_BACKEND_RETRY_BASE_DELAY"))
	assert.Equal(t, "queue.sync_writes", envTransformFunc("COMANDA_QUEUE_SYNC_WRITES"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.Backend.URL = "" }, "backend.url"},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, "backend.timeout"},
		{"negative retries", func(c *Config) { c.Backend.MaxRetries = -1 }, "backend.max_retries"},
		{"missing queue path", func(c *Config) { c.Queue.Path = "" }, "queue.path"},
		{"zero queue retries", func(c *Config) { c.Queue.MaxRetries = 0 }, "queue.max_retries"},
		{"zero retry delay", func(c *Config) { c.Sync.RetryDelay = 0 }, "sync.retry_delay"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Backend.URL = "https://pos.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
