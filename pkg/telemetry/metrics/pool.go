package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
)

// PoolMetrics tracks the committed key pool.
//
// Metrics:
//   - keyweave_gateway_key_weight: configured weight by key
//   - keyweave_gateway_key_enabled: 1 for enabled keys, 0 otherwise
//   - keyweave_gateway_key_share: normalized traffic share by key
//   - keyweave_gateway_pool_version: version of the current view
//   - keyweave_gateway_weight_changes_total: audit records by operation and source
type PoolMetrics struct {
	weight  *prometheus.GaugeVec
	enabled *prometheus.GaugeVec
	share   *prometheus.GaugeVec
	version prometheus.Gauge
	changes *prometheus.CounterVec
}

// NewPoolMetrics creates and registers pool metrics.
func NewPoolMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *PoolMetrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      name,
				Help:      help,
			},
			[]string{"key_id"},
		)
	}

	pm := &PoolMetrics{
		weight:  gauge("key_weight", "Configured selection weight by key"),
		enabled: gauge("key_enabled", "Whether the key is enabled (1) or disabled (0)"),
		share:   gauge("key_share", "Normalized traffic share by key"),
		version: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_version",
				Help:      "Version of the committed key pool view",
			},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "weight_changes_total",
				Help:      "Total number of committed weight changes",
			},
			[]string{"operation_type", "source"},
		),
	}

	registry.MustRegister(pm.weight, pm.enabled, pm.share, pm.version, pm.changes)
	return pm
}

// Update replaces the per-key gauges with the values in v.
func (pm *PoolMetrics) Update(v *keypool.View) {
	pm.weight.Reset()
	pm.enabled.Reset()
	pm.share.Reset()

	shares := v.Shares()
	for _, k := range v.Keys {
		pm.weight.WithLabelValues(k.ID).Set(float64(k.Weight))
		enabled := 0.0
		if k.Enabled {
			enabled = 1
		}
		pm.enabled.WithLabelValues(k.ID).Set(enabled)
		pm.share.WithLabelValues(k.ID).Set(shares[k.ID])
	}
	pm.version.Set(float64(v.Version))
}
