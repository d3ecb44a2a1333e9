package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults without validating.
// Fields whose default is true are seeded before decoding so that an
// explicit false in the document is preserved.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Audit.SQLite.WALMode = true

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention KEYWEAVE_SECTION_FIELD (e.g., KEYWEAVE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	// Overrides are applied before validation so credentials may come
	// from the environment alone.
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("KEYWEAVE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("KEYWEAVE_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("KEYWEAVE_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Key credentials are usually injected rather than committed
	applyKeyEnvOverrides(cfg)

	// Rate limit overrides
	if val := os.Getenv("KEYWEAVE_RATE_LIMIT_BACKEND"); val != "" {
		cfg.RateLimit.Backend = val
	}
	if val := os.Getenv("KEYWEAVE_RATE_LIMIT_RELEASE_ON_FAILURE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.RateLimit.ReleaseOnFailure = b
		}
	}
	if val := os.Getenv("KEYWEAVE_RATE_LIMIT_REDIS_ADDRESS"); val != "" {
		cfg.RateLimit.Redis.Address = val
	}
	if val := os.Getenv("KEYWEAVE_RATE_LIMIT_REDIS_PASSWORD"); val != "" {
		cfg.RateLimit.Redis.Password = val
	}

	// Selector overrides
	if val := os.Getenv("KEYWEAVE_SELECTOR_SEED"); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			cfg.Selector.Seed = u
		}
	}

	// Optimizer overrides
	if val := os.Getenv("KEYWEAVE_OPTIMIZER_DEFAULT_STRATEGY"); val != "" {
		cfg.Optimizer.DefaultStrategy = val
	}
	if val := os.Getenv("KEYWEAVE_OPTIMIZER_SCHEDULE"); val != "" {
		cfg.Optimizer.Schedule = val
	}

	// Storage overrides
	if val := os.Getenv("KEYWEAVE_AUDIT_BACKEND"); val != "" {
		cfg.Audit.Backend = val
	}
	if val := os.Getenv("KEYWEAVE_AUDIT_SQLITE_PATH"); val != "" {
		cfg.Audit.SQLite.Path = val
	}
	if val := os.Getenv("KEYWEAVE_SNAPSHOT_BACKEND"); val != "" {
		cfg.Snapshot.Backend = val
	}
	if val := os.Getenv("KEYWEAVE_SNAPSHOT_SQLITE_PATH"); val != "" {
		cfg.Snapshot.SQLite.Path = val
	}

	// Telemetry overrides
	if val := os.Getenv("KEYWEAVE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("KEYWEAVE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("KEYWEAVE_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("KEYWEAVE_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("KEYWEAVE_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
	if val := os.Getenv("KEYWEAVE_TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

// applyKeyEnvOverrides sets key credentials from KEYWEAVE_KEY_<ID>_CREDENTIAL
// where ID is the uppercase key id with dashes and dots replaced by underscores.
func applyKeyEnvOverrides(cfg *Config) {
	for i := range cfg.Keys {
		name := EnvKeyName(cfg.Keys[i].ID)
		if val := os.Getenv("KEYWEAVE_KEY_" + name + "_CREDENTIAL"); val != "" {
			cfg.Keys[i].Credential = val
		}
	}
}

// EnvKeyName converts a key id into its environment variable form.
func EnvKeyName(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return strings.ToUpper(r.Replace(id))
}
