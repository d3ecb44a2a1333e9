// Package health serves keyweave's liveness and readiness endpoints.
//
//   - GET /health/live answers 200 while the process is up.
//   - GET /health runs the registered component checks and the key pool
//     health report, and answers 503 when either is degraded.
//   - GET /version reports build information.
//
// # Checks
//
// A check returns nil when healthy. Errors built with Warnf mark a warning
// that keeps the process in rotation; any other error or a timeout marks it
// degraded.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.SetPool(service)
//	checker.RegisterCheck("audit_storage", auditStore.Ping)
//	health.Register(mux, checker, version, commit, buildTime)
package health
