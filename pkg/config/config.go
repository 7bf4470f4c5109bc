package config

import (
	"fmt"
	"time"

	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

// Config is the root configuration structure for ratekeeper.
// It contains all configuration sections for the HTTP server, service
// limits, usage storage, analytics, pricing and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Limits contains the per-service rate limits.
	Limits LimitsConfig `yaml:"limits"`

	// Storage selects and configures the durable usage store.
	Storage StorageConfig `yaml:"storage"`

	// Recorder configures asynchronous usage persistence.
	Recorder RecorderConfig `yaml:"recorder"`

	// Analytics contains usage statistics and recommendation thresholds.
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Pricing contains model pricing used for cost calculation and
	// model-selection recommendations.
	Pricing PricingConfig `yaml:"pricing"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TLS configures HTTPS termination.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the HTTP server.
type TLSConfig struct {
	// Enabled serves HTTPS instead of HTTP.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version, "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`
}

// LimitsConfig contains the initial rate limits for every service.
type LimitsConfig struct {
	// Watch enables reloading service limits when the configuration file
	// changes. Reloads are partial updates; removed entries are kept.
	// Default: false
	Watch bool `yaml:"watch"`

	// Services maps a service name (e.g. "openai") to its limits.
	// Default: the "openai" limits in DefaultServiceLimits
	Services map[string]ServiceLimits `yaml:"services"`
}

// ServiceLimits maps a limit type name (e.g. "requests_per_minute") to a
// limit. Keys stay strings so validation can report unknown names.
type ServiceLimits map[string]ratelimit.RateLimit

// Typed converts the limits to their typed form.
func (s ServiceLimits) Typed() (map[ratelimit.RateLimitType]ratelimit.RateLimit, error) {
	typed := make(map[ratelimit.RateLimitType]ratelimit.RateLimit, len(s))
	for name, rl := range s {
		t, err := ratelimit.ParseRateLimitType(name)
		if err != nil {
			return nil, err
		}
		typed[t] = rl
	}
	return typed, nil
}

// TypedServices converts every service's limits to their typed form.
func (c *LimitsConfig) TypedServices() (map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit, error) {
	out := make(map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit, len(c.Services))
	for service, limits := range c.Services {
		typed, err := limits.Typed()
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", service, err)
		}
		out[service] = typed
	}
	return out, nil
}

// StorageConfig selects the durable usage store.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory configures the in-process store.
	Memory MemoryConfig `yaml:"memory"`

	// SQLite configures the SQLite store.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// MemoryConfig contains configuration for the in-process usage store.
type MemoryConfig struct {
	// MaxRecords bounds the number of kept records.
	// Default: 100000
	MaxRecords int `yaml:"max_records"`
}

// SQLiteConfig contains configuration for the SQLite usage store.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RecorderConfig contains configuration for asynchronous usage writes.
type RecorderConfig struct {
	// AsyncBuffer is the size of the write buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds buffer waits and store writes.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AnalyticsConfig contains usage statistics and recommendation settings.
type AnalyticsConfig struct {
	// DefaultPeriod is the trailing period for usage statistics.
	// Default: 24h
	DefaultPeriod time.Duration `yaml:"default_period"`

	// RecommendationLookback is how much history recommendations read.
	// Default: 168h (7 days)
	RecommendationLookback time.Duration `yaml:"recommendation_lookback"`

	// HighCostPerRequest is the average USD per request above which a cost
	// reduction is recommended.
	// Default: 0.05
	HighCostPerRequest float64 `yaml:"high_cost_per_request"`

	// FailureRateThreshold is the failure ratio above which a reliability
	// recommendation is emitted.
	// Default: 0.10
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`

	// SimpleOperationMaxTokens is the total token count at or below which a
	// call is considered simple.
	// Default: 500
	SimpleOperationMaxTokens int64 `yaml:"simple_operation_max_tokens"`

	// SmallRequestMaxTokens is the average token count at or below which
	// requests are batching candidates.
	// Default: 200
	SmallRequestMaxTokens int64 `yaml:"small_request_max_tokens"`

	// BatchingMinRequests is the minimum request count for a batching
	// recommendation.
	// Default: 100
	BatchingMinRequests int `yaml:"batching_min_requests"`

	// BudgetWarningRatio is the share of the daily cost limit spent in the
	// trailing 24h that triggers a budget recommendation.
	// Default: 0.8
	BudgetWarningRatio float64 `yaml:"budget_warning_ratio"`

	// Report configures the scheduled usage report.
	Report ReportConfig `yaml:"report"`
}

// ReportConfig configures the scheduled usage report.
type ReportConfig struct {
	// Enabled turns the scheduled report on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a standard 5-field cron expression.
	// Default: "0 * * * *" (hourly)
	Schedule string `yaml:"schedule"`
}

// PricingConfig contains model pricing.
type PricingConfig struct {
	// PremiumThresholdPer1K is the blended (input + output) price per 1K
	// tokens at or above which a model is considered premium.
	// Default: 0.01
	PremiumThresholdPer1K float64 `yaml:"premium_threshold_per_1k"`

	// Models maps model names (or name prefixes) to prices. The "default"
	// entry prices unknown models.
	// Default: DefaultModelPricing
	Models map[string]ModelPricingConfig `yaml:"models"`
}

// ModelPricingConfig is the USD price per 1K tokens for one model.
type ModelPricingConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json", "text" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "ratekeeper"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled turns on span export.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the resource service name.
	// Default: "ratekeeper"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces sampled (0.0-1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
