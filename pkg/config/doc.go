// Package config provides configuration management for ratekeeper.
//
// This package handles loading, validating, and watching configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// LoadEnvFiles loads .env.local and .env into the process environment first,
// so overrides can live in dotenv files.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RATEKEEPER_SECTION_FIELD.
// For example:
//
//   - RATEKEEPER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - RATEKEEPER_STORAGE_BACKEND overrides storage.backend
//   - RATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Service Limits
//
// Limits are keyed by service, then by limit type:
//
//	limits:
//	  services:
//	    openai:
//	      requests_per_minute: {limit: 3000, window_seconds: 60}
//	      cost_per_day: {limit: 500, window_seconds: 86400, burst_allowance: 1.0}
//
// With limits.watch enabled, LimitsWatcher re-reads this section whenever
// the file changes and the running service applies it as a partial update.
package config
