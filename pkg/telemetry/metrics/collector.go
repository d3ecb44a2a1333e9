package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/usage"
)

// Collector owns every keyweave metric. It implements selector.Observer so
// it can be passed to selector.WithObserver, and follows pool views through
// BindPool.
//
// A disabled collector still registers its metrics but records nothing.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	selection *SelectionMetrics
	pool      *PoolMetrics
	requests  *RequestMetrics
}

// NewCollector creates a collector registering into registry. A nil
// registry creates a fresh one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = append([]float64(nil), config.DefaultLatencyBuckets...)
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		selection: NewSelectionMetrics(cfg, registry),
		pool:      NewPoolMetrics(cfg, registry),
		requests:  NewRequestMetrics(cfg, registry),
	}
}

// ObserveSelection records a successful selection after attempts draws.
func (c *Collector) ObserveSelection(keyID string, attempts int) {
	if !c.config.Enabled {
		return
	}
	c.selection.selections.WithLabelValues(keyID).Inc()
	c.selection.attempts.Observe(float64(attempts))
}

// ObserveRejection records a draw that lost its reservation.
func (c *Collector) ObserveRejection(keyID string) {
	if !c.config.Enabled {
		return
	}
	c.selection.rejections.WithLabelValues(keyID).Inc()
}

// ObserveExhausted records a selection that found no admissible key.
func (c *Collector) ObserveExhausted() {
	if !c.config.Enabled {
		return
	}
	c.selection.exhausted.Inc()
}

// ObserveOutcome records the upstream result of a selection.
func (c *Collector) ObserveOutcome(keyID string, outcome usage.Outcome, latency time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.selection.outcomes.WithLabelValues(keyID, outcome.String()).Inc()
	c.selection.latency.WithLabelValues(keyID).Observe(latency.Seconds())
}

// ObserveChanges counts committed audit records by operation and source.
func (c *Collector) ObserveChanges(records []*audit.Record) {
	if !c.config.Enabled {
		return
	}
	for _, r := range records {
		c.pool.changes.WithLabelValues(string(r.OperationType), string(r.Source)).Inc()
	}
}

// ObserveHTTPRequest records a served management API request.
func (c *Collector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requests.RecordRequest(method, route, strconv.Itoa(status), duration)
}

// UpdatePool sets the per-key gauges from v. Keys no longer in the view
// are dropped.
func (c *Collector) UpdatePool(v *keypool.View) {
	if !c.config.Enabled || v == nil {
		return
	}
	c.pool.Update(v)
}

// BindPool publishes the current view of p and every view it commits from
// now on. The returned function stops following the pool.
func (c *Collector) BindPool(p *keypool.Pool) (unsubscribe func()) {
	c.UpdatePool(p.CurrentView())
	return p.Subscribe(c.UpdatePool)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WrapAppender returns an audit appender that counts records after next
// persists them. Pass it to keypool.New in place of the audit log.
func (c *Collector) WrapAppender(next keypool.Appender) keypool.Appender {
	return countingAppender{next: next, c: c}
}

type countingAppender struct {
	next keypool.Appender
	c    *Collector
}

func (a countingAppender) Append(ctx context.Context, records []*audit.Record) error {
	if err := a.next.Append(ctx, records); err != nil {
		return err
	}
	a.c.ObserveChanges(records)
	return nil
}
