package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with two enabled keys.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	cfg := NewDefaultConfig()
	cfg.Audit.Backend = "memory"
	cfg.Snapshot.Backend = "memory"
	cfg.Keys = []KeyConfig{
		testKey("key-a", 100, 60),
		testKey("key-b", 100, 60),
	}
	ApplyDefaults(cfg)
	return &ConfigBuilder{cfg: *cfg}
}

func testKey(id string, weight, rpm int) KeyConfig {
	enabled := true
	return KeyConfig{
		ID:                   id,
		Credential:           "cred-" + id,
		Weight:               &weight,
		MaxRequestsPerMinute: rpm,
		Enabled:              &enabled,
	}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithReadTimeout sets the server read timeout.
func (b *ConfigBuilder) WithReadTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Server.ReadTimeout = d
	return b
}

// WithKeys replaces the key list.
func (b *ConfigBuilder) WithKeys(keys ...KeyConfig) *ConfigBuilder {
	b.cfg.Keys = keys
	return b
}

// WithRateLimitBackend sets the limiter backend.
func (b *ConfigBuilder) WithRateLimitBackend(backend string) *ConfigBuilder {
	b.cfg.RateLimit.Backend = backend
	return b
}

// WithOptimizerWeights sets the balanced score component weights.
func (b *ConfigBuilder) WithOptimizerWeights(rt, sr, thr float64) *ConfigBuilder {
	b.cfg.Optimizer.ResponseTimeWeight = rt
	b.cfg.Optimizer.SuccessRateWeight = sr
	b.cfg.Optimizer.ThroughputWeight = thr
	return b
}

// WithOptimizerSchedule sets the rebalance cron schedule.
func (b *ConfigBuilder) WithOptimizerSchedule(expr string) *ConfigBuilder {
	b.cfg.Optimizer.Schedule = expr
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

// WithTracing enables tracing with the given sampler.
func (b *ConfigBuilder) WithTracing(sampler string, ratio float64) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = true
	b.cfg.Telemetry.Tracing.Sampler = sampler
	b.cfg.Telemetry.Tracing.SampleRatio = ratio
	return b
}
