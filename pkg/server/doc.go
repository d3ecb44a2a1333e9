// Package server exposes the key pool management API over HTTP.
//
// Routes are registered on a standard library ServeMux using method and
// wildcard patterns such as "PUT /api/weights/{id}". Every response body is
// JSON; failures use the envelope
//
//	{"error": {"message": "...", "type": "invalid_request_error", "code": "invalid_weight"}}
//
// Mutating routes attribute changes to the operator named by the
// X-Operator header (default "api") and to the source named by
// X-Change-Source, which must be "WebUI" or "API" (default "API").
//
// Basic usage:
//
//	srv := server.New(cfg.Server, server.Deps{
//	    Weights: svc,
//	    Audit:   auditLog,
//	    Health:  checker,
//	    Metrics: collector,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// listener fails, then shuts down gracefully within the configured
// shutdown timeout.
package server
