package config

import "time"

// Config is the root configuration structure for the keyweave gateway.
// It contains the key pool definition and the tunables for selection,
// admission control, usage tracking, optimization, audit and snapshots.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and CORS settings.
	Server ServerConfig `yaml:"server"`

	// Upstream describes the generative-AI API fronted by the gateway.
	// The core does not call it; the values are surfaced through GET /api/config.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Keys is the list of upstream credentials managed by the key pool.
	Keys []KeyConfig `yaml:"keys"`

	// Selector contains configuration for weighted key selection.
	Selector SelectorConfig `yaml:"selector"`

	// RateLimit contains configuration for per-key admission control.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Usage contains configuration for per-key outcome statistics.
	Usage UsageConfig `yaml:"usage"`

	// Optimizer contains configuration for weight recommendations.
	Optimizer OptimizerConfig `yaml:"optimizer"`

	// Audit contains configuration for the weight change ledger.
	Audit AuditConfig `yaml:"audit"`

	// Snapshot contains configuration for point-in-time weight captures.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Presets contains configuration for named weight presets.
	Presets PresetsConfig `yaml:"presets"`

	// Monitor contains configuration for the failing-key monitor.
	Monitor MonitorConfig `yaml:"monitor"`

	// Watch contains configuration for configuration file hot reload.
	Watch WatchConfig `yaml:"watch"`

	// Telemetry contains configuration for observability including logging,
	// metrics, tracing, and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration for the
	// management dashboard.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "PUT", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Content-Type", "X-Request-ID", "X-Operator", "X-Change-Source"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// UpstreamConfig describes the upstream API.
type UpstreamConfig struct {
	// BaseURL is the upstream API base URL.
	// Default: "https://generativelanguage.googleapis.com"
	BaseURL string `yaml:"base_url"`

	// Timeout is the upstream request timeout used by the proxy collaborator.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`
}

// KeyConfig defines a single upstream credential.
type KeyConfig struct {
	// ID is the unique, immutable identifier of the key.
	ID string `yaml:"id"`

	// Credential is the opaque upstream credential. It is never logged.
	Credential string `yaml:"credential"`

	// Weight is the relative traffic share. Zero removes the key from selection.
	// Default: 100
	Weight *int `yaml:"weight"`

	// MaxRequestsPerMinute is the rolling 60-second admission ceiling.
	// Default: 60
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`

	// Enabled controls whether the key is eligible for selection.
	// Default: true
	Enabled *bool `yaml:"enabled"`
}

// EffectiveWeight returns the configured weight or the default.
func (k KeyConfig) EffectiveWeight() int {
	if k.Weight == nil {
		return DefaultKeyWeight
	}
	return *k.Weight
}

// IsEnabled returns the configured enabled flag or the default.
func (k KeyConfig) IsEnabled() bool {
	if k.Enabled == nil {
		return true
	}
	return *k.Enabled
}

// SelectorConfig contains configuration for weighted selection.
type SelectorConfig struct {
	// Seed seeds the selection random source. Zero selects a random seed.
	// Fixed seeds make selection sequences reproducible.
	// Default: 0
	Seed uint64 `yaml:"seed"`

	// MaxRetries bounds reservation retries after a lost race. Zero means
	// the number of eligible keys, which is also the upper bound.
	// Default: 0
	MaxRetries int `yaml:"max_retries"`
}

// RateLimitConfig contains configuration for per-key admission control.
type RateLimitConfig struct {
	// Backend selects the limiter implementation.
	// Options: "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Window is the rolling admission window.
	// Default: 60s
	Window time.Duration `yaml:"window"`

	// ReleaseOnFailure returns a reservation to the key's budget when the
	// upstream call fails. Upstream quotas usually count failed calls, so
	// this is off by default.
	// Default: false
	ReleaseOnFailure bool `yaml:"release_on_failure"`

	// Redis contains Redis backend configuration.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains configuration for the Redis limiter backend.
type RedisConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the Redis password (optional).
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every Redis key written by the limiter.
	// Default: "keyweave:ratelimit:"
	KeyPrefix string `yaml:"key_prefix"`

	// Timeout bounds each limiter round trip.
	// Default: 50ms
	Timeout time.Duration `yaml:"timeout"`
}

// UsageConfig contains configuration for the usage recorder.
type UsageConfig struct {
	// Window is the rolling statistics window.
	// Default: 10m
	Window time.Duration `yaml:"window"`

	// BucketSize is the granularity of the statistics ring.
	// Default: 1m
	BucketSize time.Duration `yaml:"bucket_size"`

	// AsyncBuffer is the size of the outcome queue. Outcomes are dropped
	// when it is full.
	// Default: 4096
	AsyncBuffer int `yaml:"async_buffer"`

	// FailureThreshold is the number of consecutive failures after which the
	// monitor disables a key.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`
}

// OptimizerConfig contains configuration for weight recommendations.
type OptimizerConfig struct {
	// DefaultStrategy is used by rebalance when no strategy is given.
	// Default: "balanced"
	DefaultStrategy string `yaml:"default_strategy"`

	// MinSamples is the sample count at which confidence reaches 1.
	// Default: 100
	MinSamples int `yaml:"min_samples"`

	// MinSamplesFloor is the sample count below which a key keeps its weight
	// and its confidence is forced to zero.
	// Default: 10
	MinSamplesFloor int `yaml:"min_samples_floor"`

	// ResponseTimeWeight is the latency share of the balanced score.
	// Default: 0.4
	ResponseTimeWeight float64 `yaml:"response_time_weight"`

	// SuccessRateWeight is the success rate share of the balanced score.
	// Default: 0.4
	SuccessRateWeight float64 `yaml:"success_rate_weight"`

	// ThroughputWeight is the throughput share of the balanced score.
	// Default: 0.2
	ThroughputWeight float64 `yaml:"throughput_weight"`

	// MaxAdjustmentPercent bounds the per-run change of a single weight.
	// Default: 50
	MaxAdjustmentPercent float64 `yaml:"max_adjustment_percent"`

	// Sensitivity scales the expected improvement estimate.
	// Default: 0.7
	Sensitivity float64 `yaml:"sensitivity"`

	// MinWeight is the lowest weight a decrease can produce.
	// Default: 10
	MinWeight int `yaml:"min_weight"`

	// RunTimeout bounds a single optimizer run.
	// Default: 10s
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Schedule is a cron expression for automatic rebalancing.
	// Empty disables scheduled runs.
	Schedule string `yaml:"schedule"`

	// AutoApply filters recommendations applied by rebalance.
	AutoApply AutoApplyConfig `yaml:"auto_apply"`
}

// AutoApplyConfig controls which recommendations rebalance applies.
type AutoApplyConfig struct {
	// MaxRisk is the highest risk level applied automatically.
	// Options: "low", "medium", "high"
	// Default: "medium"
	MaxRisk string `yaml:"max_risk"`

	// MinConfidence is the lowest confidence applied automatically.
	// Default: 0.5
	MinConfidence float64 `yaml:"min_confidence"`

	// TopN limits the number of applied recommendations. Zero applies all.
	// Default: 0
	TopN int `yaml:"top_n"`
}

// AuditConfig contains configuration for the audit ledger.
type AuditConfig struct {
	// Backend selects the storage backend.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Query contains query limits.
	Query QueryConfig `yaml:"query"`

	// Archive contains scheduled export configuration.
	Archive ArchiveConfig `yaml:"archive"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// QueryConfig contains audit query limits.
type QueryConfig struct {
	// DefaultLimit is the page size when none is requested.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the largest page size accepted.
	// Default: 10000
	MaxLimit int `yaml:"max_limit"`
}

// ArchiveConfig contains configuration for scheduled audit exports.
type ArchiveConfig struct {
	// Schedule is a cron expression. Empty disables archiving.
	Schedule string `yaml:"schedule"`

	// Path is the directory archives are written to.
	// Default: "data/archives/"
	Path string `yaml:"path"`

	// Format is the archive format.
	// Options: "json", "csv"
	// Default: "json"
	Format string `yaml:"format"`
}

// SnapshotConfig contains configuration for snapshot storage.
type SnapshotConfig struct {
	// Backend selects the storage backend.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SnapshotSQLiteConfig `yaml:"sqlite"`

	// AutoRiskThreshold is the lowest change risk that triggers an automatic
	// snapshot before batch, optimizer and rollback mutations.
	// Options: "low", "medium", "high"
	// Default: "medium"
	AutoRiskThreshold string `yaml:"auto_risk_threshold"`
}

// SnapshotSQLiteConfig contains snapshot SQLite configuration.
type SnapshotSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/snapshots.db"
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PresetsConfig contains configuration for weight presets.
type PresetsConfig struct {
	// Path is the YAML file presets are persisted to. Empty keeps presets in memory.
	Path string `yaml:"path"`
}

// MonitorConfig contains configuration for the failing-key monitor.
type MonitorConfig struct {
	// Enabled controls whether the monitor runs.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Schedule is the cron expression for monitor sweeps.
	// Default: "@every 30s"
	Schedule string `yaml:"schedule"`
}

// IsEnabled returns whether the monitor runs.
func (m MonitorConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// WatchConfig contains configuration for configuration file hot reload.
type WatchConfig struct {
	// Enabled reloads the key list when the configuration file changes.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period before a change is applied.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes source file and line in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "keyweave"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "gateway"
	Subsystem string `yaml:"subsystem"`

	// LatencyBuckets defines histogram buckets for upstream latency (seconds).
	// Default: [0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0]
	LatencyBuckets []float64 `yaml:"latency_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "keyweave"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
