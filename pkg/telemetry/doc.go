// Package telemetry groups the observability packages of ratekeeper.
//
//   - logging: slog setup with request and trace correlation
//   - metrics: the Prometheus registry and /metrics handler
//   - tracing: OpenTelemetry tracing over OTLP/gRPC
//   - health: liveness, readiness and version endpoints
package telemetry
