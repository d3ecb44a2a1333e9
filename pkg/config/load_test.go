package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: "60s"

keys:
  - id: primary
    credential: "cred-1"
    weight: 200
    max_requests_per_minute: 30
  - id: backup
    credential: "cred-2"
    weight: 0
  - id: spare
    credential: "cred-3"
    enabled: false

optimizer:
  default_strategy: minimize-latency
  schedule: "*/15 * * * *"

audit:
  backend: memory

telemetry:
  logging:
    level: "debug"
    format: "text"
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9090", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %v", cfg.Server.ReadTimeout)
	}
	if len(cfg.Keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(cfg.Keys))
	}

	primary := cfg.Keys[0]
	if primary.EffectiveWeight() != 200 || primary.MaxRequestsPerMinute != 30 || !primary.IsEnabled() {
		t.Errorf("unexpected primary key %+v", primary)
	}

	// An explicit zero weight must survive defaulting
	if w := cfg.Keys[1].EffectiveWeight(); w != 0 {
		t.Errorf("expected backup weight 0, got %d", w)
	}
	if rpm := cfg.Keys[1].MaxRequestsPerMinute; rpm != DefaultKeyMaxRPM {
		t.Errorf("expected default rpm %d, got %d", DefaultKeyMaxRPM, rpm)
	}

	if cfg.Keys[2].IsEnabled() {
		t.Error("expected spare key to be disabled")
	}
	if w := cfg.Keys[2].EffectiveWeight(); w != DefaultKeyWeight {
		t.Errorf("expected default weight %d, got %d", DefaultKeyWeight, w)
	}

	if cfg.Optimizer.DefaultStrategy != "minimize-latency" {
		t.Errorf("expected strategy minimize-latency, got %q", cfg.Optimizer.DefaultStrategy)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics to stay disabled")
	}
	if !cfg.Audit.SQLite.WALMode {
		t.Error("expected WAL mode default to be true")
	}
	if cfg.Snapshot.Backend != DefaultSnapshotBackend {
		t.Errorf("expected snapshot backend %q, got %q", DefaultSnapshotBackend, cfg.Snapshot.Backend)
	}
}

func TestLoadConfig_MinimalFile(t *testing.T) {
	path := writeConfig(t, `
keys:
  - id: only
    credential: "cred"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected default listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Usage.Window != DefaultUsageWindow || cfg.Usage.BucketSize != DefaultUsageBucketSize {
		t.Errorf("unexpected usage window %v/%v", cfg.Usage.Window, cfg.Usage.BucketSize)
	}
	if cfg.RateLimit.ReleaseOnFailure {
		t.Error("expected release_on_failure default false")
	}
	if !cfg.Monitor.IsEnabled() {
		t.Error("expected monitor enabled by default")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "keys: [\n  - id: broken")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
keys:
  - id: dup
    credential: "a"
  - id: dup
    credential: "b"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !strings.Contains(verr.Error(), "duplicate key id") {
		t.Errorf("expected duplicate id error, got %v", verr)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
keys:
  - id: primary-key
  - id: backup
    credential: "file-cred"
`)

	t.Setenv("KEYWEAVE_KEY_PRIMARY_KEY_CREDENTIAL", "env-cred")
	t.Setenv("KEYWEAVE_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("KEYWEAVE_RATE_LIMIT_RELEASE_ON_FAILURE", "true")
	t.Setenv("KEYWEAVE_SELECTOR_SEED", "42")
	t.Setenv("KEYWEAVE_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Keys[0].Credential != "env-cred" {
		t.Errorf("expected env credential, got %q", cfg.Keys[0].Credential)
	}
	if cfg.Keys[1].Credential != "file-cred" {
		t.Errorf("expected file credential, got %q", cfg.Keys[1].Credential)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("expected overridden listen address, got %q", cfg.Server.ListenAddress)
	}
	if !cfg.RateLimit.ReleaseOnFailure {
		t.Error("expected release_on_failure override")
	}
	if cfg.Selector.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Selector.Seed)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfig(t, `
keys:
  - id: only
    credential: "cred"
`)
	t.Setenv("KEYWEAVE_RATE_LIMIT_BACKEND", "memcached")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("expected validation error for invalid backend override")
	}
}

func TestEnvKeyName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"primary", "PRIMARY"},
		{"key-1", "KEY_1"},
		{"gemini.pro", "GEMINI_PRO"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := EnvKeyName(tt.id); got != tt.want {
				t.Errorf("EnvKeyName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
