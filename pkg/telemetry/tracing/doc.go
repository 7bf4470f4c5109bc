// Package tracing configures OpenTelemetry distributed tracing.
//
// When enabled, spans are exported over OTLP/gRPC to the configured
// collector and W3C trace context is propagated from incoming HTTP
// requests. When disabled, every span is a noop.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
package tracing
