package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_DefaultTestConfig(t *testing.T) {
	cfg := NewTestConfig().Build()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty listen address",
			mutate:    func(c *Config) { c.Server.ListenAddress = "" },
			wantField: "server.listen_address",
		},
		{
			name:      "no keys",
			mutate:    func(c *Config) { c.Keys = nil },
			wantField: "keys",
		},
		{
			name: "negative weight",
			mutate: func(c *Config) {
				w := -1
				c.Keys[0].Weight = &w
			},
			wantField: "keys[0].weight",
		},
		{
			name:      "missing credential",
			mutate:    func(c *Config) { c.Keys[1].Credential = "" },
			wantField: "keys[1].credential",
		},
		{
			name:      "negative rpm",
			mutate:    func(c *Config) { c.Keys[0].MaxRequestsPerMinute = -5 },
			wantField: "keys[0].max_requests_per_minute",
		},
		{
			name: "all keys disabled",
			mutate: func(c *Config) {
				off := false
				for i := range c.Keys {
					c.Keys[i].Enabled = &off
				}
			},
			wantField: "keys",
		},
		{
			name:      "unknown limiter backend",
			mutate:    func(c *Config) { c.RateLimit.Backend = "memcached" },
			wantField: "rate_limit.backend",
		},
		{
			name:      "window not multiple of bucket",
			mutate:    func(c *Config) { c.Usage.BucketSize = 7 * time.Second },
			wantField: "usage.bucket_size",
		},
		{
			name:      "score weights do not sum to one",
			mutate:    func(c *Config) { c.Optimizer.ThroughputWeight = 0.5 },
			wantField: "optimizer",
		},
		{
			name:      "adjustment percent out of range",
			mutate:    func(c *Config) { c.Optimizer.MaxAdjustmentPercent = 150 },
			wantField: "optimizer.max_adjustment_percent",
		},
		{
			name:      "invalid schedule",
			mutate:    func(c *Config) { c.Optimizer.Schedule = "every now and then" },
			wantField: "optimizer.schedule",
		},
		{
			name:      "invalid max risk",
			mutate:    func(c *Config) { c.Optimizer.AutoApply.MaxRisk = "extreme" },
			wantField: "optimizer.auto_apply.max_risk",
		},
		{
			name:      "floor above min samples",
			mutate:    func(c *Config) { c.Optimizer.MinSamplesFloor = 500 },
			wantField: "optimizer.min_samples_floor",
		},
		{
			name:      "unknown audit backend",
			mutate:    func(c *Config) { c.Audit.Backend = "postgres" },
			wantField: "audit.backend",
		},
		{
			name:      "unknown archive format",
			mutate:    func(c *Config) { c.Audit.Archive.Format = "xml" },
			wantField: "audit.archive.format",
		},
		{
			name:      "invalid snapshot threshold",
			mutate:    func(c *Config) { c.Snapshot.AutoRiskThreshold = "none" },
			wantField: "snapshot.auto_risk_threshold",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name: "tracing ratio out of range",
			mutate: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
				c.Telemetry.Tracing.SampleRatio = 2
			},
			wantField: "telemetry.tracing.sample_ratio",
		},
		{
			name:      "unsorted latency buckets",
			mutate:    func(c *Config) { c.Telemetry.Metrics.LatencyBuckets = []float64{1, 0.5} },
			wantField: "telemetry.metrics.latency_buckets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig().Build()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.wantField, verr)
			}
		})
	}
}

func TestValidate_DuplicateKeyIDs(t *testing.T) {
	cfg := NewTestConfig().
		WithKeys(testKey("same", 10, 10), testKey("same", 20, 10)).
		Build()

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if !strings.Contains(err.Error(), `duplicate key id "same"`) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewTestConfig().WithListenAddress("").WithLogLevel("loud").Build()
	cfg.Audit.Backend = "nope"

	err := Validate(cfg)

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verr.Errors), verr)
	}
	if !strings.Contains(verr.Error(), "with 3 errors") {
		t.Errorf("expected multi-error message, got %q", verr.Error())
	}
}

func TestValidateKeys_ZeroWeightAllowed(t *testing.T) {
	keys := []KeyConfig{testKey("a", 0, 60), testKey("b", 100, 60)}
	if errs := ValidateKeys(keys); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestFieldError_Error(t *testing.T) {
	fe := FieldError{Field: "keys[0].id", Message: "key id is required"}
	if got := fe.Error(); got != "keys[0].id: key id is required" {
		t.Errorf("unexpected message %q", got)
	}
}
