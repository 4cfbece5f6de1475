package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if got := strings.Join(cfg.BuildCommand, " "); got != "cargo build" {
		t.Errorf("build command = %q, want %q", got, "cargo build")
	}
	if got := strings.Join(cfg.ServeCommand, " "); got != "dx serve --hot-patch --features bevy/hotpatching" {
		t.Errorf("serve command = %q", got)
	}
	if cfg.PollInterval() != 200*time.Millisecond {
		t.Errorf("poll interval = %v, want 200ms", cfg.PollInterval())
	}
	if cfg.ReadyTimeout() != 180*time.Second {
		t.Errorf("ready timeout = %v, want 180s", cfg.ReadyTimeout())
	}
	if cfg.PatchTimeout() != 180*time.Second {
		t.Errorf("patch timeout = %v, want 180s", cfg.PatchTimeout())
	}
	if cfg.KillGrace() != 5*time.Second {
		t.Errorf("kill grace = %v, want 5s", cfg.KillGrace())
	}
	if cfg.ResultsDB != "buildbench.db" {
		t.Errorf("results db = %q, want buildbench.db", cfg.ResultsDB)
	}
	if cfg.MetricsFile != "" || cfg.EventLogDir != "" {
		t.Error("metrics and event log sinks should be disabled by default")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.PollIntervalMS != Default().PollIntervalMS {
		t.Error("empty path should return defaults")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
build_command: ["cargo", "build", "--release"]
ready_timeout_seconds: 300
only: sscache
event_log_dir: /tmp/bench-events
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := strings.Join(cfg.BuildCommand, " "); got != "cargo build --release" {
		t.Errorf("build command = %q", got)
	}
	if cfg.ReadyTimeout() != 300*time.Second {
		t.Errorf("ready timeout = %v, want 300s", cfg.ReadyTimeout())
	}
	if cfg.Only != "sscache" {
		t.Errorf("only = %q, want sscache", cfg.Only)
	}
	if cfg.EventLogDir != "/tmp/bench-events" {
		t.Errorf("event log dir = %q", cfg.EventLogDir)
	}

	// Untouched fields keep their defaults.
	if got := strings.Join(cfg.ServeCommand, " "); got != "dx serve --hot-patch --features bevy/hotpatching" {
		t.Errorf("serve command lost its default: %q", got)
	}
	if cfg.PollInterval() != 200*time.Millisecond {
		t.Errorf("poll interval lost its default: %v", cfg.PollInterval())
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "build_command: [unclosed\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty build command",
			mutate:  func(c *Config) { c.BuildCommand = nil },
			wantMsg: "build_command",
		},
		{
			name:    "empty serve command",
			mutate:  func(c *Config) { c.ServeCommand = []string{} },
			wantMsg: "serve_command",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.PollIntervalMS = 0 },
			wantMsg: "poll_interval_ms",
		},
		{
			name:    "negative ready timeout",
			mutate:  func(c *Config) { c.ReadyTimeoutSeconds = -1 },
			wantMsg: "ready_timeout_seconds",
		},
		{
			name:    "zero patch timeout",
			mutate:  func(c *Config) { c.PatchTimeoutSeconds = 0 },
			wantMsg: "patch_timeout_seconds",
		},
		{
			name:    "zero kill grace",
			mutate:  func(c *Config) { c.KillGraceSeconds = 0 },
			wantMsg: "kill_grace_seconds",
		},
		{
			name: "poll interval dwarfs ready timeout",
			mutate: func(c *Config) {
				c.PollIntervalMS = 2000
				c.ReadyTimeoutSeconds = 1
			},
			wantMsg: "shorter than",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "poll_interval_ms: -5\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("unexpected error: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}
