package config

import (
	"time"

	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultTLSMinVersion   = "1.3"

	// Storage defaults
	DefaultStorageBackend           = "memory"
	DefaultMemoryMaxRecords         = 100000
	DefaultSQLitePath               = "data/usage.db"
	DefaultSQLiteDriver             = "sqlite"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute

	// Recorder defaults
	DefaultRecorderAsyncBuffer  = 1000
	DefaultRecorderWriteTimeout = 5 * time.Second

	// Analytics defaults
	DefaultAnalyticsPeriod          = 24 * time.Hour
	DefaultRecommendationLookback   = 7 * 24 * time.Hour
	DefaultHighCostPerRequest       = 0.05
	DefaultFailureRateThreshold     = 0.10
	DefaultSimpleOperationMaxTokens = int64(500)
	DefaultSmallRequestMaxTokens    = int64(200)
	DefaultBatchingMinRequests      = 100
	DefaultBudgetWarningRatio       = 0.8
	DefaultReportSchedule           = "0 * * * *"

	// Pricing defaults
	DefaultPremiumThresholdPer1K = 0.01

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultMetricsEnabled      = true
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "ratekeeper"
	DefaultTracingEndpoint     = "localhost:4317"
	DefaultTracingServiceName  = "ratekeeper"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingTimeout      = 10 * time.Second
)

// DefaultServiceLimits returns the limits installed when no service is
// configured.
func DefaultServiceLimits() map[string]ServiceLimits {
	return map[string]ServiceLimits{
		"openai": {
			string(ratelimit.RequestsPerMinute): ratelimit.NewRateLimit(3000, 60),
			string(ratelimit.TokensPerMinute):   ratelimit.NewRateLimit(150000, 60),
			string(ratelimit.CostPerHour):       ratelimit.NewRateLimit(50, 3600),
			string(ratelimit.CostPerDay):        ratelimit.NewRateLimit(500, 86400),
		},
	}
}

// DefaultModelPricing returns the built-in model price table.
func DefaultModelPricing() map[string]ModelPricingConfig {
	return map[string]ModelPricingConfig{
		"gpt-4":          {InputPer1K: 0.03, OutputPer1K: 0.06},
		"gpt-4-turbo":    {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-4o":         {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":    {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-3.5-turbo":  {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"claude-3-opus":  {InputPer1K: 0.015, OutputPer1K: 0.075},
		"claude-3-haiku": {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"default":        {InputPer1K: 0.002, OutputPer1K: 0.002},
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}

	// Limits defaults
	if len(cfg.Limits.Services) == 0 {
		cfg.Limits.Services = DefaultServiceLimits()
	}
	applyBurstDefaults(cfg.Limits.Services)

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Memory.MaxRecords == 0 {
		cfg.Storage.Memory.MaxRecords = DefaultMemoryMaxRecords
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}

	// Recorder defaults
	if cfg.Recorder.AsyncBuffer == 0 {
		cfg.Recorder.AsyncBuffer = DefaultRecorderAsyncBuffer
	}
	if cfg.Recorder.WriteTimeout == 0 {
		cfg.Recorder.WriteTimeout = DefaultRecorderWriteTimeout
	}

	applyAnalyticsDefaults(&cfg.Analytics)

	// Pricing defaults
	if cfg.Pricing.PremiumThresholdPer1K == 0 {
		cfg.Pricing.PremiumThresholdPer1K = DefaultPremiumThresholdPer1K
	}
	if len(cfg.Pricing.Models) == 0 {
		cfg.Pricing.Models = DefaultModelPricing()
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

// applyBurstDefaults fills unset burst allowances.
func applyBurstDefaults(services map[string]ServiceLimits) {
	for _, limits := range services {
		for name, rl := range limits {
			limits[name] = rl.WithDefaults()
		}
	}
}

// applyAnalyticsDefaults fills unset analytics thresholds.
func applyAnalyticsDefaults(cfg *AnalyticsConfig) {
	if cfg.DefaultPeriod == 0 {
		cfg.DefaultPeriod = DefaultAnalyticsPeriod
	}
	if cfg.RecommendationLookback == 0 {
		cfg.RecommendationLookback = DefaultRecommendationLookback
	}
	if cfg.HighCostPerRequest == 0 {
		cfg.HighCostPerRequest = DefaultHighCostPerRequest
	}
	if cfg.FailureRateThreshold == 0 {
		cfg.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if cfg.SimpleOperationMaxTokens == 0 {
		cfg.SimpleOperationMaxTokens = DefaultSimpleOperationMaxTokens
	}
	if cfg.SmallRequestMaxTokens == 0 {
		cfg.SmallRequestMaxTokens = DefaultSmallRequestMaxTokens
	}
	if cfg.BatchingMinRequests == 0 {
		cfg.BatchingMinRequests = DefaultBatchingMinRequests
	}
	if cfg.BudgetWarningRatio == 0 {
		cfg.BudgetWarningRatio = DefaultBudgetWarningRatio
	}
	if cfg.Report.Schedule == "" {
		cfg.Report.Schedule = DefaultReportSchedule
	}
}

// Default returns a fully defaulted configuration without reading a file.
func Default() *Config {
	cfg := newBaseConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newBaseConfig returns a Config with the boolean defaults that cannot be
// told apart from their zero value. YAML decoding only overwrites keys
// present in the file, so these survive unless set explicitly.
func newBaseConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	return cfg
}
