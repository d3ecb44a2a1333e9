// Package telemetry groups the observability packages used by keyweave.
//
// # Components
//
//   - logging: slog construction from config, credential masking, request
//     scoped loggers
//   - metrics: Prometheus collectors for selection, outcomes, pool state and
//     HTTP traffic
//   - tracing: OpenTelemetry spans for HTTP requests and weight mutations
//   - health: readiness checks for storage backends and the key pool
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, logging.Options{})
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	unbind := collector.BindPool(pool)
//	defer unbind()
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Credentials never leave the process through telemetry. The logging
// handler masks credential attributes, and metric labels carry key ids
// only.
package telemetry
