// Package config provides configuration loading and validation for the
// benchmark harness.
//
// Configuration is value-based: Load returns a Config by value and the
// caller owns it. Anything not set in the YAML file keeps its default,
// so an empty (or absent) file runs the full matrix against cargo and
// dx with the standard deadlines. Run state (timings, results) never
// lives here; that belongs to the results database.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the per-run settings of the harness.
//
//nolint:govet // Field order mirrors the documented file layout, not alignment.
type Config struct {
	// BuildCommand is the synchronous build invocation timed twice per
	// scenario.
	BuildCommand []string `yaml:"build_command"`

	// ServeCommand launches the dev server for hot-patch sessions.
	ServeCommand []string `yaml:"serve_command"`

	PollIntervalMS      int `yaml:"poll_interval_ms"`
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds"`
	PatchTimeoutSeconds int `yaml:"patch_timeout_seconds"`
	KillGraceSeconds    int `yaml:"kill_grace_seconds"`

	// ResultsDB is the sqlite file recording run history. Empty disables
	// persistence.
	ResultsDB string `yaml:"results_db"`

	// MetricsFile, when set, receives a Prometheus text exposition of
	// the completed run for textfile collection.
	MetricsFile string `yaml:"metrics_file"`

	// EventLogDir, when set, receives one JSONL transcript per run.
	EventLogDir string `yaml:"event_log_dir"`

	// Only restricts the matrix to scenarios whose slug contains this
	// substring. Empty runs everything.
	Only string `yaml:"only"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		BuildCommand:        []string{"cargo", "build"},
		ServeCommand:        []string{"dx", "serve", "--hot-patch", "--features", "bevy/hotpatching"},
		PollIntervalMS:      200,
		ReadyTimeoutSeconds: 180,
		PatchTimeoutSeconds: 180,
		KillGraceSeconds:    5,
		ResultsDB:           "buildbench.db",
	}
}

// Load reads a YAML config file on top of the defaults and validates
// the result. An empty path means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values a run cannot work with.
func (c *Config) Validate() error {
	if len(c.BuildCommand) == 0 {
		return fmt.Errorf("build_command cannot be empty")
	}
	if len(c.ServeCommand) == 0 {
		return fmt.Errorf("serve_command cannot be empty")
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	if c.ReadyTimeoutSeconds <= 0 {
		return fmt.Errorf("ready_timeout_seconds must be positive, got %d", c.ReadyTimeoutSeconds)
	}
	if c.PatchTimeoutSeconds <= 0 {
		return fmt.Errorf("patch_timeout_seconds must be positive, got %d", c.PatchTimeoutSeconds)
	}
	if c.KillGraceSeconds <= 0 {
		return fmt.Errorf("kill_grace_seconds must be positive, got %d", c.KillGraceSeconds)
	}
	if c.PollInterval() >= c.ReadyTimeout() {
		return fmt.Errorf("poll_interval_ms (%d) must be shorter than ready_timeout_seconds (%d)",
			c.PollIntervalMS, c.ReadyTimeoutSeconds)
	}
	return nil
}

// PollInterval returns how often session deadlines are checked.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ReadyTimeout returns how long a session waits for the ready marker.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSeconds) * time.Second
}

// PatchTimeout returns how long a session waits for the patched payload
// after the source mutation.
func (c *Config) PatchTimeout() time.Duration {
	return time.Duration(c.PatchTimeoutSeconds) * time.Second
}

// KillGrace returns how long teardown waits for a killed dev server to
// be reaped before giving up on it.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}
