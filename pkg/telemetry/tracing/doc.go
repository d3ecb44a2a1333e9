// Package tracing sets up OpenTelemetry tracing for keyweave.
//
// New installs a tracer provider exporting over OTLP gRPC and the W3C
// trace context propagators as the otel globals. Packages that create
// spans, such as weights and optimizer, call otel.Tracer and pick the
// provider up without a direct dependency on this package.
//
// # Sampling
//
// The sampler is one of always, never or ratio (the default, using
// sample_ratio). Each is parent based, so a sampled incoming traceparent
// keeps its trace intact.
//
// # Usage
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, tracing.WithServiceVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
