package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ============================================================================
// Loading Tests
// ============================================================================

func TestLoadConfig_Minimal(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: \"0.0.0.0:9090\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("Expected listen address from file, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Expected default read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if _, ok := cfg.Limits.Services["openai"]; !ok {
		t.Error("Expected default openai limits")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics enabled by default")
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadConfig_ServiceLimits(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    anthropic:
      requests_per_minute: {limit: 50, window_seconds: 60}
      cost_per_day: {limit: 20, window_seconds: 86400, burst_allowance: 1.0}
telemetry:
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if _, ok := cfg.Limits.Services["openai"]; ok {
		t.Error("Expected configured services to replace the defaults")
	}

	typed, err := cfg.Limits.TypedServices()
	if err != nil {
		t.Fatalf("TypedServices failed: %v", err)
	}
	rpm := typed["anthropic"][ratelimit.RequestsPerMinute]
	if rpm.Limit != 50 || rpm.BurstAllowance != ratelimit.DefaultBurstAllowance {
		t.Errorf("Unexpected requests limit: %+v", rpm)
	}
	if typed["anthropic"][ratelimit.CostPerDay].BurstAllowance != 1.0 {
		t.Error("Expected explicit burst allowance to be kept")
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics disabled by file")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")

	t.Setenv("RATEKEEPER_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("RATEKEEPER_STORAGE_BACKEND", "sqlite")
	t.Setenv("RATEKEEPER_STORAGE_SQLITE_PATH", "/tmp/usage.db")
	t.Setenv("RATEKEEPER_RECORDER_WRITE_TIMEOUT", "2s")
	t.Setenv("RATEKEEPER_TELEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("RATEKEEPER_LIMITS_WATCH", "true")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/usage.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Recorder.WriteTimeout != 2*time.Second {
		t.Errorf("write timeout = %v", cfg.Recorder.WriteTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Telemetry.Logging.Level)
	}
	if !cfg.Limits.Watch {
		t.Error("Expected limits watch enabled")
	}
}

func TestLoadConfigWithEnvOverrides_InvalidAfterOverride(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("RATEKEEPER_STORAGE_BACKEND", "postgres")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("Expected storage.backend validation error, got %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RATEKEEPER_SERVER_LISTEN_ADDRESS", "127.0.0.1:7100")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7100" {
		t.Errorf("Expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Expected default memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("RATEKEEPER_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("RATEKEEPER_TEST_DOTENV") })

	if err := LoadEnvFiles(filepath.Join(dir, ".env.local"), envFile); err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if got := os.Getenv("RATEKEEPER_TEST_DOTENV"); got != "loaded" {
		t.Errorf("Expected variable from .env, got %q", got)
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "unknown limit type",
			mutate: func(c *Config) {
				c.Limits.Services["openai"]["requests_per_week"] = ratelimit.NewRateLimit(1, 1)
			},
			wantField: "limits.services.openai.requests_per_week",
		},
		{
			name: "non-positive limit",
			mutate: func(c *Config) {
				c.Limits.Services["openai"]["cost_per_hour"] = ratelimit.RateLimit{Limit: 0, WindowSeconds: 3600}
			},
			wantField: "limits.services.openai.cost_per_hour",
		},
		{
			name: "burst below one",
			mutate: func(c *Config) {
				c.Limits.Services["openai"]["cost_per_hour"] = ratelimit.RateLimit{Limit: 5, WindowSeconds: 3600, BurstAllowance: 0.9}
			},
			wantField: "limits.services.openai.cost_per_hour",
		},
		{
			name:      "bad listen address",
			mutate:    func(c *Config) { c.Server.ListenAddress = "no-port" },
			wantField: "server.listen_address",
		},
		{
			name:      "tls without cert",
			mutate:    func(c *Config) { c.Server.TLS.Enabled = true; c.Server.TLS.KeyFile = "key.pem" },
			wantField: "server.tls.cert_file",
		},
		{
			name:      "unsupported tls version",
			mutate:    func(c *Config) { c.Server.TLS.MinVersion = "1.0" },
			wantField: "server.tls.min_version",
		},
		{
			name:      "bad sqlite driver",
			mutate:    func(c *Config) { c.Storage.Backend = "sqlite"; c.Storage.SQLite.Driver = "pg" },
			wantField: "storage.sqlite.driver",
		},
		{
			name:      "bad cron schedule",
			mutate:    func(c *Config) { c.Analytics.Report.Enabled = true; c.Analytics.Report.Schedule = "every hour" },
			wantField: "analytics.report.schedule",
		},
		{
			name:      "failure ratio out of range",
			mutate:    func(c *Config) { c.Analytics.FailureRateThreshold = 1.5 },
			wantField: "analytics.failure_rate_threshold",
		},
		{
			name:      "negative price",
			mutate:    func(c *Config) { c.Pricing.Models["gpt-4"] = ModelPricingConfig{InputPer1K: -1} },
			wantField: "pricing.models.gpt-4",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name:      "bad sample ratio",
			mutate:    func(c *Config) { c.Telemetry.Tracing.SampleRatio = 2 },
			wantField: "telemetry.tracing.sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on %s, got %v", tt.wantField, verr.Errors)
			}
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if single.Error() != "configuration validation failed: a: bad" {
		t.Errorf("Unexpected message: %q", single.Error())
	}

	multi := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if !strings.Contains(multi.Error(), "2 errors") {
		t.Errorf("Expected error count in message: %q", multi.Error())
	}
}

// ============================================================================
// Watcher Tests
// ============================================================================

func TestReadLimits(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    openai:
      tokens_per_minute: {limit: 1000, window_seconds: 60}
`)

	limits, err := ReadLimits(path)
	if err != nil {
		t.Fatalf("ReadLimits failed: %v", err)
	}
	rl := limits.Services["openai"]["tokens_per_minute"]
	if rl.Limit != 1000 || rl.BurstAllowance != ratelimit.DefaultBurstAllowance {
		t.Errorf("Unexpected limit: %+v", rl)
	}
}

func TestReadLimits_Invalid(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    openai:
      tokens_per_fortnight: {limit: 1000, window_seconds: 60}
`)

	var verr ValidationError
	if _, err := ReadLimits(path); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestLimitsWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    openai:
      requests_per_minute: {limit: 100, window_seconds: 60}
`)

	w, err := NewLimitsWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewLimitsWatcher failed: %v", err)
	}

	var (
		mu       sync.Mutex
		reloaded *LimitsConfig
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(l *LimitsConfig) error {
			mu.Lock()
			defer mu.Unlock()
			reloaded = l
			return nil
		})
	}()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	updated := `
limits:
  services:
    openai:
      requests_per_minute: {limit: 250, window_seconds: 60}
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := reloaded
		mu.Unlock()
		if got != nil {
			if got.Services["openai"]["requests_per_minute"].Limit != 250 {
				t.Errorf("Expected reloaded limit 250, got %+v", got.Services["openai"])
			}
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if reloaded == nil {
		t.Error("Expected limits to be reloaded after file write")
	}
}
