package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"jdhub/ratekeeper/pkg/cli"
	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits"
	"jdhub/ratekeeper/pkg/limits/analytics"
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

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// ============================================================================
// Version
// ============================================================================

func TestPrintVersion(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "1.2.3-test"
	GitCommit = "abc123"

	var buf bytes.Buffer
	printVersion(&buf)

	output := buf.String()
	for _, want := range []string{"Ratekeeper 1.2.3-test", "Git Commit: abc123", runtime.Version()} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got %q", want, output)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "validate", "stats", "recommend", "benchmark", "version", "completion"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected %s command to be registered", name)
		}
	}
}

// ============================================================================
// Validate
// ============================================================================

func TestValidateCommand_Valid(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    openai:
      requests_per_minute: {limit: 3000, window_seconds: 60}
`)

	out, err := execute(t, "validate", "--config", path, "--format", "csv")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "openai,requests_per_minute,3000,60,1.2") {
		t.Errorf("Expected limits row in output, got %q", out)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, `
limits:
  services:
    openai:
      requests_per_minute: {limit: 0, window_seconds: 60}
`)

	_, err := execute(t, "validate", "--config", path)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("Expected config exit code, got %d", cli.ExitCode(err))
	}
}

// ============================================================================
// Store and engine
// ============================================================================

func TestOpenStore(t *testing.T) {
	mem, err := openStore(&config.StorageConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	mem.Close()

	sqlite, err := openStore(&config.StorageConfig{
		Backend: "sqlite",
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "usage.db")},
	})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	sqlite.Close()

	if _, err := openStore(&config.StorageConfig{Backend: "postgres"}); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.Services = map[string]config.ServiceLimits{
		"openai": {"requests_per_minute": ratelimit.NewRateLimit(10, 60)},
	}

	eng, err := newEngine(cfg, nil, nil)
	if err != nil {
		t.Fatalf("newEngine failed: %v", err)
	}
	defer eng.Close()

	if got := eng.limits.Services(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("Expected openai only, got %v", got)
	}
	if eng.pricing == nil {
		t.Error("Expected pricing calculator")
	}
}

func TestNewEngine_InvalidLimitType(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.Services = map[string]config.ServiceLimits{
		"openai": {"requests_per_fortnight": ratelimit.NewRateLimit(10, 60)},
	}

	_, err := newEngine(cfg, nil, nil)
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("Expected config error, got %v", err)
	}
}

// ============================================================================
// Benchmark
// ============================================================================

func TestBenchmark(t *testing.T) {
	svc, err := limits.NewService(limits.Config{
		Limits: map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit{
			"openai": {ratelimit.RequestsPerMinute: {Limit: 50, WindowSeconds: 60, BurstAllowance: 1.0}},
		},
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer svc.Close()

	var buf bytes.Buffer
	result := benchmark(context.Background(), svc, "openai", 200, 4, 10, 0, cli.NewProgressReporter(&buf))

	if result.Requests != 200 {
		t.Errorf("Expected 200 requests, got %d", result.Requests)
	}
	if result.Allowed+result.Denied+result.Errors != 200 {
		t.Errorf("Expected outcomes to sum to 200, got %+v", result)
	}
	// Allowed checks reserve capacity, so concurrent workers cannot overshoot.
	if result.Allowed > 50 {
		t.Errorf("Expected at most 50 allowed, got %d", result.Allowed)
	}
	if result.Denied == 0 {
		t.Error("Expected some denied checks")
	}
	if result.LatencyMax < result.LatencyP50 {
		t.Errorf("Expected max >= p50, got %v < %v", result.LatencyMax, result.LatencyP50)
	}
}

func TestPercentile(t *testing.T) {
	if percentile(nil, 0.5) != 0 {
		t.Error("Expected 0 for empty input")
	}
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 0.5); got != 5 {
		t.Errorf("p50 = %v, want 5", got)
	}
	if got := percentile(sorted, 0.99); got != 9 {
		t.Errorf("p99 = %v, want 9", got)
	}
}

// ============================================================================
// Tables
// ============================================================================

func TestStatsTable(t *testing.T) {
	stats := &limits.UsageStats{
		Service:     "openai",
		PeriodHours: 24,
		Summary: analytics.Summary{
			TotalRequests: 3,
			TotalCostUSD:  0.5,
			ByModel:       map[string]*analytics.Breakdown{"gpt-4": {Requests: 3, Tokens: 300, CostUSD: 0.5}},
		},
		Statuses: []ratelimit.RateLimitStatus{{LimitType: ratelimit.RequestsPerMinute, CurrentUsage: 3, Limit: 2, IsExceeded: true}},
	}

	rows := statsTable{stats}.Rows()
	find := func(metric string) string {
		for _, r := range rows {
			if r[0] == metric {
				return r[1]
			}
		}
		return ""
	}

	if find("total_requests") != "3" {
		t.Errorf("total_requests = %q", find("total_requests"))
	}
	if find("model.gpt-4") == "" {
		t.Error("Expected per-model row")
	}
	if got := find("limit.requests_per_minute"); got != "3/2 (exceeded)" {
		t.Errorf("limit row = %q", got)
	}
	if find("avg_response_time_ms") != "" {
		t.Error("Expected no response time row when unavailable")
	}
}

func TestRecommendationsTable_JSON(t *testing.T) {
	result := &limits.RecommendationsResult{
		Service: "openai",
		Recommendations: []analytics.Recommendation{{
			Category: analytics.CategoryCostReduction, Priority: analytics.PriorityHigh, Title: "Reduce cost", EstimatedSavingsPercent: 30,
		}},
	}

	if rows := (recommendationsTable{result}).Rows(); len(rows) != 1 || rows[0][0] != "high" {
		t.Errorf("Unexpected rows %v", rows)
	}

	var buf bytes.Buffer
	if err := cli.NewFormatter(cli.FormatJSON).FormatTo(&buf, recommendationsTable{result}); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	var decoded limits.RecommendationsResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Service != "openai" || len(decoded.Recommendations) != 1 {
		t.Errorf("Unexpected JSON %q", buf.String())
	}
}
