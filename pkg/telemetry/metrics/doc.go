// Package metrics exposes keyweave state to Prometheus.
//
// A Collector is wired in three places:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	sel := selector.New(pool, limiter, selector.WithObserver(collector))
//	defer collector.BindPool(pool)()
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Key ids are used as label values. Pools are small and operator defined,
// so no cardinality limit is applied.
package metrics
