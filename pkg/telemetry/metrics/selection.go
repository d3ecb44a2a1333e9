package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/keyweave/pkg/config"
)

// SelectionMetrics tracks key selection and upstream outcomes.
//
// Metrics:
//   - keyweave_gateway_selections_total: selections by key
//   - keyweave_gateway_selection_attempts: draws needed per selection
//   - keyweave_gateway_reservation_rejections_total: lost reservations by key
//   - keyweave_gateway_selections_exhausted_total: selections with no admissible key
//   - keyweave_gateway_outcomes_total: upstream outcomes by key
//   - keyweave_gateway_upstream_latency_seconds: upstream latency by key
type SelectionMetrics struct {
	selections *prometheus.CounterVec
	attempts   prometheus.Histogram
	rejections *prometheus.CounterVec
	exhausted  prometheus.Counter
	outcomes   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewSelectionMetrics creates and registers selection metrics.
func NewSelectionMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *SelectionMetrics {
	sm := &SelectionMetrics{
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selections_total",
				Help:      "Total number of successful key selections",
			},
			[]string{"key_id"},
		),

		attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selection_attempts",
				Help:      "Number of weighted draws needed per selection",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			},
		),

		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reservation_rejections_total",
				Help:      "Total number of draws whose reservation was refused",
			},
			[]string{"key_id"},
		),

		exhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selections_exhausted_total",
				Help:      "Total number of selections that found every key at its limit",
			},
		),

		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "outcomes_total",
				Help:      "Total number of upstream outcomes by key",
			},
			[]string{"key_id", "outcome"},
		),

		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_latency_seconds",
				Help:      "Upstream call latency in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"key_id"},
		),
	}

	registry.MustRegister(
		sm.selections,
		sm.attempts,
		sm.rejections,
		sm.exhausted,
		sm.outcomes,
		sm.latency,
	)

	return sm
}
