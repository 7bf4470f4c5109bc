package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"jdhub/ratekeeper/pkg/config"
)

// withRecorder installs an in-memory tracer provider for the test.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.TracingConfig
		wantErr bool
	}{
		{"nil config", nil, true},
		{"disabled", &config.TracingConfig{Enabled: false}, false},
		{"invalid ratio", &config.TracingConfig{Enabled: true, SampleRatio: 1.5, Endpoint: "localhost:4317"}, true},
		{"enabled", &config.TracingConfig{
			Enabled:     true,
			Endpoint:    "localhost:4317",
			ServiceName: "ratekeeper-test",
			SampleRatio: 1.0,
			Insecure:    true,
			Timeout:     time.Second,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			defer otel.SetTracerProvider(prev)

			tracer, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if tracer.Enabled() != tt.config.Enabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.config.Enabled)
			}

			_, span := tracer.Start(context.Background(), "op")
			span.End()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			tracer.Shutdown(ctx)
		})
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{0, false},
		{0.25, false},
		{1, false},
		{-0.1, true},
		{1.1, true},
	}

	for _, tt := range tests {
		sampler, err := createSampler(tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%v) error = %v, wantErr %v", tt.ratio, err, tt.wantErr)
		}
		if err == nil && sampler == nil {
			t.Errorf("createSampler(%v) returned nil sampler", tt.ratio)
		}
	}
}

func TestTraceID(t *testing.T) {
	if id := TraceID(context.Background()); id != "" {
		t.Errorf("Expected empty trace ID, got %q", id)
	}

	withRecorder(t)
	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	if id := TraceID(ctx); len(id) != 32 {
		t.Errorf("Expected 32-char trace ID, got %q", id)
	}
}

func TestSetError(t *testing.T) {
	recorder := withRecorder(t)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	SetError(span, nil)
	SetError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Description != "boom" {
		t.Errorf("Expected error status, got %+v", spans[0].Status())
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("Expected one recorded error event, got %d", len(spans[0].Events()))
	}
}

func TestHTTPMiddleware_PropagatesParent(t *testing.T) {
	recorder := withRecorder(t)

	var handlerTraceID string
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerTraceID = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/limits/openai", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if handlerTraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected propagated trace ID, got %q", handlerTraceID)
	}
	if rec.Header().Get("X-Trace-ID") != handlerTraceID {
		t.Errorf("Expected X-Trace-ID header %q, got %q", handlerTraceID, rec.Header().Get("X-Trace-ID"))
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "GET /v1/limits/openai" {
		t.Fatalf("Expected one server span, got %d", len(spans))
	}
	if spans[0].Parent().SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("Expected remote parent, got %s", spans[0].Parent().SpanID())
	}
}

func TestInjectExtract(t *testing.T) {
	withRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	headers := http.Header{}
	Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatal("Expected traceparent header")
	}

	got := Extract(context.Background(), headers)
	if TraceID(got) != TraceID(ctx) {
		t.Errorf("Expected round-tripped trace ID %s, got %s", TraceID(ctx), TraceID(got))
	}
}
