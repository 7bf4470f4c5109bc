package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, ValidateLimits(&cfg.Limits)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRecorder(&cfg.Recorder)...)
	errs = append(errs, validateAnalytics(&cfg.Analytics)...)
	errs = append(errs, validatePricing(&cfg.Pricing)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must be positive"})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
	}
	switch cfg.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (valid: 1.2, 1.3)", cfg.TLS.MinVersion),
		})
	}

	return errs
}

// ValidateLimits validates the service limits. It is exported so limit
// reloads can be checked without validating the rest of a file.
func ValidateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	services := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		services = append(services, name)
	}
	sort.Strings(services)

	for _, service := range services {
		prefix := fmt.Sprintf("limits.services.%s", service)
		if strings.TrimSpace(service) == "" {
			errs = append(errs, FieldError{Field: "limits.services", Message: "service name must not be empty"})
			continue
		}

		limits := cfg.Services[service]
		names := make([]string, 0, len(limits))
		for name := range limits {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			field := prefix + "." + name
			if _, err := ratelimit.ParseRateLimitType(name); err != nil {
				errs = append(errs, FieldError{
					Field:   field,
					Message: fmt.Sprintf("unknown limit type: must be one of %s", limitTypeNames()),
				})
				continue
			}
			if err := limits[name].Validate(); err != nil {
				errs = append(errs, FieldError{Field: field, Message: err.Error()})
			}
		}
	}

	return errs
}

// validateStorage validates storage configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
		if cfg.Memory.MaxRecords < 0 {
			errs = append(errs, FieldError{Field: "storage.memory.max_records", Message: "must not be negative"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "path is required for sqlite backend"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: "storage.sqlite.busy_timeout", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	return errs
}

// validateRecorder validates recorder configuration.
func validateRecorder(cfg *RecorderConfig) []FieldError {
	var errs []FieldError

	if cfg.AsyncBuffer <= 0 {
		errs = append(errs, FieldError{Field: "recorder.async_buffer", Message: "must be positive"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "recorder.write_timeout", Message: "must be positive"})
	}

	return errs
}

// validateAnalytics validates analytics thresholds and the report schedule.
func validateAnalytics(cfg *AnalyticsConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultPeriod <= 0 {
		errs = append(errs, FieldError{Field: "analytics.default_period", Message: "must be positive"})
	}
	if cfg.RecommendationLookback <= 0 {
		errs = append(errs, FieldError{Field: "analytics.recommendation_lookback", Message: "must be positive"})
	}
	if cfg.HighCostPerRequest < 0 {
		errs = append(errs, FieldError{Field: "analytics.high_cost_per_request", Message: "must not be negative"})
	}
	if cfg.FailureRateThreshold < 0 || cfg.FailureRateThreshold > 1 {
		errs = append(errs, FieldError{Field: "analytics.failure_rate_threshold", Message: "must be between 0.0 and 1.0"})
	}
	if cfg.BudgetWarningRatio < 0 || cfg.BudgetWarningRatio > 1 {
		errs = append(errs, FieldError{Field: "analytics.budget_warning_ratio", Message: "must be between 0.0 and 1.0"})
	}
	if cfg.SimpleOperationMaxTokens < 0 || cfg.SmallRequestMaxTokens < 0 || cfg.BatchingMinRequests < 0 {
		errs = append(errs, FieldError{Field: "analytics", Message: "token and request thresholds must not be negative"})
	}

	if cfg.Report.Enabled {
		if _, err := cron.ParseStandard(cfg.Report.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "analytics.report.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Report.Schedule, err),
			})
		}
	}

	return errs
}

// validatePricing validates model pricing.
func validatePricing(cfg *PricingConfig) []FieldError {
	var errs []FieldError

	if cfg.PremiumThresholdPer1K < 0 {
		errs = append(errs, FieldError{Field: "pricing.premium_threshold_per_1k", Message: "must not be negative"})
	}
	for model, p := range cfg.Models {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("pricing.models.%s", model),
				Message: "prices must not be negative",
			})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

func limitTypeNames() string {
	names := make([]string, 0, len(ratelimit.Types()))
	for _, t := range ratelimit.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
