// Package logging configures structured logging on top of log/slog.
//
// # Usage
//
//	logger, err := logging.Setup(cfg.Telemetry.Logging)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "limit checked")  // includes request_id
//
// Records logged with a context also carry the trace and span IDs of the
// active OpenTelemetry span.
package logging
