package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "keys[0].weight").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, ValidateKeys(cfg.Keys)...)
	errs = append(errs, validateSelector(&cfg.Selector)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateOptimizer(&cfg.Optimizer)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateSnapshot(&cfg.Snapshot)...)
	errs = append(errs, validateMonitor(&cfg.Monitor)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.CORS.MaxAge < 0 {
		errs = append(errs, FieldError{
			Field:   "server.cors.max_age",
			Message: "max age must be non-negative",
		})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "upstream.base_url",
				Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL),
			})
		}
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "upstream.timeout",
			Message: "timeout must be positive",
		})
	}

	return errs
}

// ValidateKeys validates a key list. It is exported so configuration
// replacement through the management API applies the same rules as loading.
func ValidateKeys(keys []KeyConfig) []FieldError {
	var errs []FieldError

	if len(keys) == 0 {
		errs = append(errs, FieldError{
			Field:   "keys",
			Message: "at least one key must be configured",
		})
		return errs
	}

	seen := make(map[string]int, len(keys))
	enabled := 0
	for i, key := range keys {
		prefix := fmt.Sprintf("keys[%d]", i)

		if strings.TrimSpace(key.ID) == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".id",
				Message: "key id is required",
			})
		} else if first, dup := seen[key.ID]; dup {
			errs = append(errs, FieldError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate key id %q (first defined at keys[%d])", key.ID, first),
			})
		} else {
			seen[key.ID] = i
		}

		if key.Credential == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".credential",
				Message: "credential is required",
			})
		}

		if key.EffectiveWeight() < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".weight",
				Message: "weight must be non-negative",
			})
		}

		// Zero means unset during defaulting; anything explicit must be positive.
		if key.MaxRequestsPerMinute < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_requests_per_minute",
				Message: "max requests per minute must be positive",
			})
		}

		if key.IsEnabled() {
			enabled++
		}
	}

	if enabled == 0 {
		errs = append(errs, FieldError{
			Field:   "keys",
			Message: "at least one key must be enabled",
		})
	}

	return errs
}

func validateSelector(cfg *SelectorConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{
			Field:   "selector.max_retries",
			Message: "max retries must be non-negative",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "rate_limit.backend",
			Message: fmt.Sprintf("invalid backend %q (must be 'memory' or 'redis')", cfg.Backend),
		})
	}
	if cfg.Window <= 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limit.window",
			Message: "window must be positive",
		})
	}
	if cfg.Backend == "redis" {
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{
				Field:   "rate_limit.redis.address",
				Message: "redis address is required when backend is 'redis'",
			})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{
				Field:   "rate_limit.redis.db",
				Message: "redis db must be non-negative",
			})
		}
		if cfg.Redis.Timeout < 0 {
			errs = append(errs, FieldError{
				Field:   "rate_limit.redis.timeout",
				Message: "timeout must be positive",
			})
		}
	}

	return errs
}

func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	if cfg.Window <= 0 {
		errs = append(errs, FieldError{
			Field:   "usage.window",
			Message: "window must be positive",
		})
	}
	if cfg.BucketSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "usage.bucket_size",
			Message: "bucket size must be positive",
		})
	} else if cfg.Window > 0 && cfg.Window%cfg.BucketSize != 0 {
		errs = append(errs, FieldError{
			Field:   "usage.bucket_size",
			Message: fmt.Sprintf("window %s must be a multiple of bucket size %s", cfg.Window, cfg.BucketSize),
		})
	}
	if cfg.AsyncBuffer < 0 {
		errs = append(errs, FieldError{
			Field:   "usage.async_buffer",
			Message: "async buffer must be non-negative",
		})
	}
	if cfg.FailureThreshold < 0 {
		errs = append(errs, FieldError{
			Field:   "usage.failure_threshold",
			Message: "failure threshold must be non-negative",
		})
	}

	return errs
}

func validateOptimizer(cfg *OptimizerConfig) []FieldError {
	var errs []FieldError

	if cfg.MinSamples <= 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.min_samples",
			Message: "min samples must be positive",
		})
	}
	if cfg.MinSamplesFloor < 0 || (cfg.MinSamples > 0 && cfg.MinSamplesFloor > cfg.MinSamples) {
		errs = append(errs, FieldError{
			Field:   "optimizer.min_samples_floor",
			Message: "min samples floor must be between 0 and min_samples",
		})
	}

	// Each component weight must be within [0, 1] and together they must sum to 1.
	sum := cfg.ResponseTimeWeight + cfg.SuccessRateWeight + cfg.ThroughputWeight
	for name, w := range map[string]float64{
		"response_time_weight": cfg.ResponseTimeWeight,
		"success_rate_weight":  cfg.SuccessRateWeight,
		"throughput_weight":    cfg.ThroughputWeight,
	} {
		if w < 0 || w > 1 {
			errs = append(errs, FieldError{
				Field:   "optimizer." + name,
				Message: "weight must be between 0.0 and 1.0",
			})
		}
	}
	if sum < 0.999 || sum > 1.001 {
		errs = append(errs, FieldError{
			Field:   "optimizer",
			Message: fmt.Sprintf("score weights must sum to 1.0 (got %.3f)", sum),
		})
	}

	if cfg.MaxAdjustmentPercent <= 0 || cfg.MaxAdjustmentPercent > 100 {
		errs = append(errs, FieldError{
			Field:   "optimizer.max_adjustment_percent",
			Message: "max adjustment percent must be in (0, 100]",
		})
	}
	if cfg.Sensitivity < 0 || cfg.Sensitivity > 1 {
		errs = append(errs, FieldError{
			Field:   "optimizer.sensitivity",
			Message: "sensitivity must be between 0.0 and 1.0",
		})
	}
	if cfg.MinWeight < 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.min_weight",
			Message: "min weight must be non-negative",
		})
	}
	if cfg.RunTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.run_timeout",
			Message: "run timeout must be positive",
		})
	}
	if cfg.Schedule != "" {
		if err := validateCron(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "optimizer.schedule",
				Message: err.Error(),
			})
		}
	}

	if !validRisk(cfg.AutoApply.MaxRisk) {
		errs = append(errs, FieldError{
			Field:   "optimizer.auto_apply.max_risk",
			Message: fmt.Sprintf("invalid risk level %q (must be 'low', 'medium', or 'high')", cfg.AutoApply.MaxRisk),
		})
	}
	if cfg.AutoApply.MinConfidence < 0 || cfg.AutoApply.MinConfidence > 1 {
		errs = append(errs, FieldError{
			Field:   "optimizer.auto_apply.min_confidence",
			Message: "min confidence must be between 0.0 and 1.0",
		})
	}
	if cfg.AutoApply.TopN < 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.auto_apply.top_n",
			Message: "top n must be non-negative",
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "sqlite": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q (must be 'memory' or 'sqlite')", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" {
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.path",
				Message: "path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_idle_conns",
				Message: "max idle connections cannot exceed max open connections",
			})
		}
	}
	if cfg.Query.DefaultLimit <= 0 {
		errs = append(errs, FieldError{
			Field:   "audit.query.default_limit",
			Message: "default limit must be positive",
		})
	}
	if cfg.Query.MaxLimit < cfg.Query.DefaultLimit {
		errs = append(errs, FieldError{
			Field:   "audit.query.max_limit",
			Message: "max limit cannot be less than default limit",
		})
	}
	if cfg.Archive.Schedule != "" {
		if err := validateCron(cfg.Archive.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "audit.archive.schedule",
				Message: err.Error(),
			})
		}
	}
	validFormats := map[string]bool{"json": true, "csv": true}
	if !validFormats[cfg.Archive.Format] {
		errs = append(errs, FieldError{
			Field:   "audit.archive.format",
			Message: fmt.Sprintf("invalid format %q (must be 'json' or 'csv')", cfg.Archive.Format),
		})
	}

	return errs
}

func validateSnapshot(cfg *SnapshotConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "sqlite": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "snapshot.backend",
			Message: fmt.Sprintf("invalid backend %q (must be 'memory' or 'sqlite')", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{
			Field:   "snapshot.sqlite.path",
			Message: "path is required when backend is 'sqlite'",
		})
	}
	if !validRisk(cfg.AutoRiskThreshold) {
		errs = append(errs, FieldError{
			Field:   "snapshot.auto_risk_threshold",
			Message: fmt.Sprintf("invalid risk level %q (must be 'low', 'medium', or 'high')", cfg.AutoRiskThreshold),
		})
	}

	return errs
}

func validateMonitor(cfg *MonitorConfig) []FieldError {
	var errs []FieldError

	if cfg.IsEnabled() {
		if err := validateCron(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "monitor.schedule",
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be 'debug', 'info', 'warn', or 'error')", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be 'json' or 'text')", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}
	for i := 1; i < len(cfg.Metrics.LatencyBuckets); i++ {
		if cfg.Metrics.LatencyBuckets[i] <= cfg.Metrics.LatencyBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.latency_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if cfg.Tracing.Enabled {
		validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
		if !validSamplers[cfg.Tracing.Sampler] {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be 'always', 'never', or 'ratio')", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}

func validRisk(level string) bool {
	switch level {
	case "low", "medium", "high":
		return true
	}
	return false
}

func validateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %v", expr, err)
	}
	return nil
}
