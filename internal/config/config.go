// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package config loads the client configuration with Koanf v2 from
// layered sources: built-in defaults, an optional YAML file, then
// environment variables. ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the complete client configuration.
type Config struct {
	Backend Backend `koanf:"backend"`
	Device  Device  `koanf:"device"`
	Queue   Queue   `koanf:"queue"`
	Sync    Sync    `koanf:"sync"`
	Events  Events  `koanf:"events"`
	Status  Status  `koanf:"status"`
	Logging Logging `koanf:"logging"`
}

// Backend holds the ordering backend connection settings.
type Backend struct {
	// URL is the backend base URL, e.g. https://pos.example.com.
	URL string `koanf:"url"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the in-request retry bound for transient failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay seeds the exponential backoff between retries.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// ProbeInterval is how often backend reachability is checked.
	ProbeInterval time.Duration `koanf:"probe_interval"`

	// ProbeTimeout bounds a single reachability probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// Device identifies this terminal to the backend.
type Device struct {
	ID       string `koanf:"id"`
	Type     string `koanf:"type"`
	Platform string `koanf:"platform"`
	Name     string `koanf:"name"`
}

// Queue holds durable mutation queue settings.
type Queue struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// SyncWrites forces fsync per commit.
	SyncWrites bool `koanf:"sync_writes"`

	// MaxRetries bounds delivery attempts per queued mutation.
	MaxRetries int `koanf:"max_retries"`

	// OfflineGuarded lists mutation types that must not queue.
	OfflineGuarded []string `koanf:"offline_guarded"`
}

// Sync holds drain pacing settings.
type Sync struct {
	// RetryDelay is the pause after a failed delivery.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// ItemInterval paces successive deliveries.
	ItemInterval time.Duration `koanf:"item_interval"`
}

// Events holds realtime event stream settings.
type Events struct {
	// Enabled toggles the WebSocket listener.
	Enabled bool `koanf:"enabled"`

	// URL is the event stream endpoint. Derived from backend.url when
	// empty.
	URL string `koanf:"url"`
}

// Status holds the local ops server settings.
type Status struct {
	// Enabled toggles the local status HTTP server.
	Enabled bool `koanf:"enabled"`

	// Addr is the listen address.
	Addr string `koanf:"addr"`
}

// Logging holds log output settings.
type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults. Applied first, then
// overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Backend: Backend{
			URL:            "",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			ProbeInterval:  15 * time.Second,
			ProbeTimeout:   5 * time.Second,
		},
		Device: Device{
			ID:       "",
			Type:     "handheld",
			Platform: "linux",
			Name:     "",
		},
		Queue: Queue{
			Path:           "/data/comanda/queue",
			SyncWrites:     true,
			MaxRetries:     3,
			OfflineGuarded: []string{"create_payment"},
		},
		Sync: Sync{
			RetryDelay:   2 * time.Second,
			ItemInterval: 500 * time.Millisecond,
		},
		Events: Events{
			Enabled: true,
			URL:     "",
		},
		Status: Status{
			Enabled: true,
			Addr:    "127.0.0.1:8099",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must not be negative")
	}
	if c.Queue.Path == "" {
		return fmt.Errorf("queue.path is required")
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive")
	}
	if c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("sync.retry_delay must be positive")
	}
	if c.Sync.ItemInterval <= 0 {
		return fmt.Errorf("sync.item_interval must be positive")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when the status server is enabled")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not valid", c.Logging.Format)
	}
	return nil
}
