package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultCORSMaxAge      = 3600    // 1 hour

	// Upstream defaults
	DefaultUpstreamBaseURL = "https://generativelanguage.googleapis.com"
	DefaultUpstreamTimeout = 60 * time.Second

	// Key defaults
	DefaultKeyWeight = 100
	DefaultKeyMaxRPM = 60

	// Rate limit defaults
	DefaultRateLimitBackend   = "memory"
	DefaultRateLimitWindow    = 60 * time.Second
	DefaultRedisAddress       = "localhost:6379"
	DefaultRedisKeyPrefix     = "keyweave:ratelimit:"
	DefaultRedisTimeout       = 50 * time.Millisecond

	// Usage defaults
	DefaultUsageWindow           = 10 * time.Minute
	DefaultUsageBucketSize       = time.Minute
	DefaultUsageAsyncBuffer      = 4096
	DefaultUsageFailureThreshold = 5

	// Optimizer defaults
	DefaultOptimizerStrategy        = "balanced"
	DefaultOptimizerMinSamples      = 100
	DefaultOptimizerMinSamplesFloor = 10
	DefaultResponseTimeWeight       = 0.4
	DefaultSuccessRateWeight        = 0.4
	DefaultThroughputWeight         = 0.2
	DefaultMaxAdjustmentPercent     = 50.0
	DefaultSensitivity              = 0.7
	DefaultMinWeight                = 10
	DefaultOptimizerRunTimeout      = 10 * time.Second
	DefaultAutoApplyMaxRisk         = "medium"
	DefaultAutoApplyMinConfidence   = 0.5

	// Audit defaults
	DefaultAuditBackend            = "sqlite"
	DefaultAuditSQLitePath         = "data/audit.db"
	DefaultAuditSQLiteMaxOpenConns = 10
	DefaultAuditSQLiteMaxIdleConns = 5
	DefaultAuditSQLiteBusyTimeout  = 5 * time.Second
	DefaultAuditQueryDefaultLimit  = 100
	DefaultAuditQueryMaxLimit      = 10000
	DefaultAuditArchivePath        = "data/archives/"
	DefaultAuditArchiveFormat      = "json"

	// Snapshot defaults
	DefaultSnapshotBackend           = "sqlite"
	DefaultSnapshotSQLitePath        = "data/snapshots.db"
	DefaultSnapshotSQLiteBusyTimeout = 5 * time.Second
	DefaultSnapshotAutoRiskThreshold = "medium"

	// Monitor defaults
	DefaultMonitorSchedule = "@every 30s"

	// Watch defaults
	DefaultWatchDebounce = 250 * time.Millisecond

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "keyweave"
	DefaultMetricsSubsystem   = "gateway"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "keyweave"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultLatencyBuckets are the upstream latency histogram buckets in seconds.
var DefaultLatencyBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	// Key defaults - applied to each key
	for i := range cfg.Keys {
		if cfg.Keys[i].Weight == nil {
			w := DefaultKeyWeight
			cfg.Keys[i].Weight = &w
		}
		if cfg.Keys[i].MaxRequestsPerMinute == 0 {
			cfg.Keys[i].MaxRequestsPerMinute = DefaultKeyMaxRPM
		}
		if cfg.Keys[i].Enabled == nil {
			enabled := true
			cfg.Keys[i].Enabled = &enabled
		}
	}

	// Rate limit defaults
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = DefaultRateLimitBackend
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateLimitWindow
	}
	if cfg.RateLimit.Redis.Address == "" {
		cfg.RateLimit.Redis.Address = DefaultRedisAddress
	}
	if cfg.RateLimit.Redis.KeyPrefix == "" {
		cfg.RateLimit.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.RateLimit.Redis.Timeout == 0 {
		cfg.RateLimit.Redis.Timeout = DefaultRedisTimeout
	}

	// Usage defaults
	if cfg.Usage.Window == 0 {
		cfg.Usage.Window = DefaultUsageWindow
	}
	if cfg.Usage.BucketSize == 0 {
		cfg.Usage.BucketSize = DefaultUsageBucketSize
	}
	if cfg.Usage.AsyncBuffer == 0 {
		cfg.Usage.AsyncBuffer = DefaultUsageAsyncBuffer
	}
	if cfg.Usage.FailureThreshold == 0 {
		cfg.Usage.FailureThreshold = DefaultUsageFailureThreshold
	}

	applyOptimizerDefaults(&cfg.Optimizer)

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.MaxOpenConns == 0 {
		cfg.Audit.SQLite.MaxOpenConns = DefaultAuditSQLiteMaxOpenConns
	}
	if cfg.Audit.SQLite.MaxIdleConns == 0 {
		cfg.Audit.SQLite.MaxIdleConns = DefaultAuditSQLiteMaxIdleConns
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultAuditSQLiteBusyTimeout
	}
	if cfg.Audit.Query.DefaultLimit == 0 {
		cfg.Audit.Query.DefaultLimit = DefaultAuditQueryDefaultLimit
	}
	if cfg.Audit.Query.MaxLimit == 0 {
		cfg.Audit.Query.MaxLimit = DefaultAuditQueryMaxLimit
	}
	if cfg.Audit.Archive.Path == "" {
		cfg.Audit.Archive.Path = DefaultAuditArchivePath
	}
	if cfg.Audit.Archive.Format == "" {
		cfg.Audit.Archive.Format = DefaultAuditArchiveFormat
	}

	// Snapshot defaults
	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = DefaultSnapshotBackend
	}
	if cfg.Snapshot.SQLite.Path == "" {
		cfg.Snapshot.SQLite.Path = DefaultSnapshotSQLitePath
	}
	if cfg.Snapshot.SQLite.BusyTimeout == 0 {
		cfg.Snapshot.SQLite.BusyTimeout = DefaultSnapshotSQLiteBusyTimeout
	}
	if cfg.Snapshot.AutoRiskThreshold == "" {
		cfg.Snapshot.AutoRiskThreshold = DefaultSnapshotAutoRiskThreshold
	}

	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = DefaultMonitorSchedule
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if len(s.CORS.AllowedOrigins) == 0 {
		s.CORS.AllowedOrigins = []string{"*"}
	}
	if len(s.CORS.AllowedMethods) == 0 {
		s.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(s.CORS.AllowedHeaders) == 0 {
		s.CORS.AllowedHeaders = []string{"Content-Type", "X-Request-ID", "X-Operator", "X-Change-Source"}
	}
	if s.CORS.MaxAge == 0 {
		s.CORS.MaxAge = DefaultCORSMaxAge
	}
}

func applyOptimizerDefaults(o *OptimizerConfig) {
	if o.DefaultStrategy == "" {
		o.DefaultStrategy = DefaultOptimizerStrategy
	}
	if o.MinSamples == 0 {
		o.MinSamples = DefaultOptimizerMinSamples
	}
	if o.MinSamplesFloor == 0 {
		o.MinSamplesFloor = DefaultOptimizerMinSamplesFloor
	}
	// The three component weights are applied together so a partial
	// override is not silently mixed with defaults.
	if o.ResponseTimeWeight == 0 && o.SuccessRateWeight == 0 && o.ThroughputWeight == 0 {
		o.ResponseTimeWeight = DefaultResponseTimeWeight
		o.SuccessRateWeight = DefaultSuccessRateWeight
		o.ThroughputWeight = DefaultThroughputWeight
	}
	if o.MaxAdjustmentPercent == 0 {
		o.MaxAdjustmentPercent = DefaultMaxAdjustmentPercent
	}
	if o.Sensitivity == 0 {
		o.Sensitivity = DefaultSensitivity
	}
	if o.MinWeight == 0 {
		o.MinWeight = DefaultMinWeight
	}
	if o.RunTimeout == 0 {
		o.RunTimeout = DefaultOptimizerRunTimeout
	}
	if o.AutoApply.MaxRisk == "" {
		o.AutoApply.MaxRisk = DefaultAutoApplyMaxRisk
	}
	if o.AutoApply.MinConfidence == 0 {
		o.AutoApply.MinConfidence = DefaultAutoApplyMinConfidence
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.LatencyBuckets) == 0 {
		t.Metrics.LatencyBuckets = append([]float64(nil), DefaultLatencyBuckets...)
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingService
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// NewDefaultConfig returns a configuration with every default applied.
// Metrics are enabled, WAL mode is on, and no keys are defined.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Audit.SQLite.WALMode = true
	ApplyDefaults(cfg)
	return cfg
}
