package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the agent's on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "20s", "7m").
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	// Worker controls the background delivery unit and its registration.
	Worker WorkerConfig `json:"worker"`

	// Poller controls the foreground fallback channel.
	Poller PollerConfig `json:"poller"`

	Notifier NotifierConfig `json:"notifier"`

	// Storage is optional; when omitted the notification log is memory-only.
	Storage *StorageConfig `json:"storage,omitempty"`

	Connectivity ConnectivityConfig `json:"connectivity"`
}

// ServerConfig holds the dashboard API credentials.
// Changing these at runtime triggers a reconnect.
type ServerConfig struct {
	APIURL string `json:"api_url"`
	APIKey string `json:"api_key"`

	// Timeout bounds a single API call. Default "10s".
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // default true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// WorkerConfig controls registration retries and health checking.
//
// Defaults (when fields are omitted/zero):
//   - supported: true
//   - scope: "/"
//   - max_attempts: 5
//   - retry_base: "5s"
//   - retry_growth: 1.5
//   - health_interval: "7m"
//   - probe_timeout: "5s"
type WorkerConfig struct {
	// Supported reports whether the platform can host a background unit at
	// all. False short-circuits registration (no retries).
	Supported *bool `json:"supported,omitempty"`

	Scope string `json:"scope,omitempty"`

	MaxAttempts int     `json:"max_attempts,omitempty"`
	RetryBase   string  `json:"retry_base,omitempty"`
	RetryGrowth float64 `json:"retry_growth,omitempty"`

	HealthInterval string `json:"health_interval,omitempty"`
	ProbeTimeout   string `json:"probe_timeout,omitempty"`
}

// PollerConfig controls the fallback polling channel.
type PollerConfig struct {
	// Interval between polls. Default "20s".
	Interval string `json:"interval,omitempty"`
}

// NotifierConfig controls the dispatcher's side effects.
type NotifierConfig struct {
	Sounds          bool `json:"sounds"`
	OSNotifications bool `json:"os_notifications"`

	// AlertsPerSec rate-limits sound/OS-level alerts. Default 2.
	AlertsPerSec int `json:"alerts_per_sec,omitempty"`

	// HistoryLimit caps the in-memory notification log. Default 500.
	HistoryLimit int `json:"history_limit,omitempty"`
}

// StorageConfig controls the persistent notification log.
//
// Driver values: "sqlite", "file", "none"/"" (disabled).
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
	RetentionDays int    `json:"retention_days,omitempty"`
}

type ConnectivityConfig struct {
	// ProbeInterval between reachability checks. Default "30s".
	ProbeInterval string `json:"probe_interval,omitempty"`
}

// Validate rejects configs that would misbehave at runtime.
// It is installed as the manager's validator hook, so a bad edit on disk is
// refused instead of committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Server.APIURL) == "" {
		return errors.New("server.api_url is required")
	}
	if c.Worker.MaxAttempts < 0 {
		return errors.New("worker.max_attempts must be >= 0")
	}
	if g := c.Worker.RetryGrowth; g != 0 && (g < 1.0 || g > 3.0) {
		return fmt.Errorf("worker.retry_growth %v out of range [1.0, 3.0]", g)
	}
	for _, f := range []struct{ path, raw string }{
		{"server.timeout", c.Server.Timeout},
		{"worker.retry_base", c.Worker.RetryBase},
		{"worker.health_interval", c.Worker.HealthInterval},
		{"worker.probe_timeout", c.Worker.ProbeTimeout},
		{"poller.interval", c.Poller.Interval},
		{"connectivity.probe_interval", c.Connectivity.ProbeInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "sqlite", "sqlite3", "file":
		default:
			return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
