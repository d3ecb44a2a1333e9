// Package logging builds the keyweave process logger.
//
// The logger is a plain *slog.Logger installed with slog.SetDefault, so
// components keep using slog.Default().With("component", ...). Two things
// are added on top of the standard handlers:
//
//   - Attributes named credential, api_key or key are masked with
//     RedactAPIKey before they are written.
//   - Records logged with a context carry its request_id, operator and
//     trace ids.
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, logging.Options{})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "weights updated", "key_id", "primary")
package logging
