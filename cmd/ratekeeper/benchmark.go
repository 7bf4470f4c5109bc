package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits"
)

var benchmarkFlags struct {
	service     string
	requests    int
	concurrency int
	tokens      int64
	cost        float64
	format      string
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure check and record throughput in-process",
	Long: `Run check-then-record cycles against an in-process limits service built
from the configured limits, and report throughput and check latency.

Usage is recorded to a memory store so the configured database is not
touched.

Examples:
  ratekeeper benchmark --service openai --requests 100000 --concurrency 8`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	benchmarkCmd.Flags().StringVar(&benchmarkFlags.service, "service", "openai", "service to exercise")
	benchmarkCmd.Flags().IntVar(&benchmarkFlags.requests, "requests", 10000, "total check-then-record cycles")
	benchmarkCmd.Flags().IntVar(&benchmarkFlags.concurrency, "concurrency", 4, "concurrent workers")
	benchmarkCmd.Flags().Int64Var(&benchmarkFlags.tokens, "tokens", 500, "tokens per call")
	benchmarkCmd.Flags().Float64Var(&benchmarkFlags.cost, "cost", 0.001, "USD cost per call")
	benchmarkCmd.Flags().StringVar(&benchmarkFlags.format, "format", "text", "output format: text, json, csv")
}

// benchmarkResult summarizes one benchmark run.
type benchmarkResult struct {
	Service     string        `json:"service"`
	Requests    int           `json:"requests"`
	Allowed     int64         `json:"allowed"`
	Denied      int64         `json:"denied"`
	Errors      int64         `json:"errors"`
	Duration    time.Duration `json:"duration_ns"`
	Throughput  float64       `json:"throughput_per_second"`
	LatencyP50  time.Duration `json:"latency_p50_ns"`
	LatencyP95  time.Duration `json:"latency_p95_ns"`
	LatencyP99  time.Duration `json:"latency_p99_ns"`
	LatencyMax  time.Duration `json:"latency_max_ns"`
	Concurrency int           `json:"concurrency"`
}

func (r *benchmarkResult) Headers() []string { return []string{"metric", "value"} }

func (r *benchmarkResult) Rows() [][]string {
	return [][]string{
		{"service", r.Service},
		{"requests", fmt.Sprint(r.Requests)},
		{"concurrency", fmt.Sprint(r.Concurrency)},
		{"allowed", fmt.Sprint(r.Allowed)},
		{"denied", fmt.Sprint(r.Denied)},
		{"errors", fmt.Sprint(r.Errors)},
		{"duration", r.Duration.String()},
		{"throughput_per_second", fmt.Sprintf("%.0f", r.Throughput)},
		{"check_latency_p50", r.LatencyP50.String()},
		{"check_latency_p95", r.LatencyP95.String()},
		{"check_latency_p99", r.LatencyP99.String()},
		{"check_latency_max", r.LatencyMax.String()},
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(benchmarkFlags.format)
	if err != nil {
		return err
	}
	if benchmarkFlags.requests <= 0 || benchmarkFlags.concurrency <= 0 {
		return fmt.Errorf("requests and concurrency must be positive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Storage = config.StorageConfig{Backend: "memory"}

	eng, err := newEngine(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return cli.NewCommandError("benchmark", err)
	}
	defer eng.Close()

	if _, ok := eng.limits.ServiceConfig(benchmarkFlags.service); !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: %s has no configured limits; every check is allowed\n", benchmarkFlags.service)
	}

	progress := cli.NewProgressReporterWithUnit(cmd.ErrOrStderr(), "checks")
	result := benchmark(cmd.Context(), eng.limits, benchmarkFlags.service, benchmarkFlags.requests,
		benchmarkFlags.concurrency, benchmarkFlags.tokens, benchmarkFlags.cost, progress)

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result)
}

// benchmark runs requests check-then-record cycles split across workers.
// progress may be nil.
func benchmark(ctx context.Context, svc *limits.Service, service string, requests, concurrency int, tokens int64, cost float64, progress cli.ProgressReporter) *benchmarkResult {
	var (
		next, done            atomic.Int64
		allowed, denied, errs atomic.Int64
		mu                    sync.Mutex
		latencies             = make([]time.Duration, 0, requests)
		wg                    sync.WaitGroup
	)

	if progress != nil {
		progress.Start(int64(requests))
	}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, requests/concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()

			for next.Add(1) <= int64(requests) {
				if ctx.Err() != nil {
					return
				}

				t0 := time.Now()
				res, err := svc.CheckRateLimit(ctx, service, "benchmark", tokens, cost, "")
				local = append(local, time.Since(t0))

				switch {
				case err != nil:
					errs.Add(1)
				case res.Allowed:
					allowed.Add(1)
					_ = svc.RecordUsage(ctx, limits.Usage{
						Service:       service,
						ReservationID: res.ReservationID,
						OperationType: "benchmark",
						TokensUsed:    tokens,
						CostUSD:       cost,
						Success:       true,
					})
				default:
					denied.Add(1)
				}

				if n := done.Add(1); progress != nil && n%100 == 0 {
					progress.Update(n)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if progress != nil {
		progress.Finish()
	}

	slices.Sort(latencies)
	completed := len(latencies)
	result := &benchmarkResult{
		Service:     service,
		Requests:    completed,
		Allowed:     allowed.Load(),
		Denied:      denied.Load(),
		Errors:      errs.Load(),
		Duration:    elapsed,
		Concurrency: concurrency,
		LatencyP50:  percentile(latencies, 0.50),
		LatencyP95:  percentile(latencies, 0.95),
		LatencyP99:  percentile(latencies, 0.99),
	}
	if completed > 0 {
		result.LatencyMax = latencies[completed-1]
	}
	if elapsed > 0 {
		result.Throughput = float64(completed) / elapsed.Seconds()
	}
	return result
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
