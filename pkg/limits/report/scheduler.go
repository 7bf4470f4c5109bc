package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"jdhub/ratekeeper/pkg/limits"
)

// Source provides the data a report summarizes. *limits.Service implements it.
type Source interface {
	Services() []string
	GetUsageStats(ctx context.Context, service string, period time.Duration) *limits.UsageStats
	GetCostOptimizationRecommendations(ctx context.Context, service string) *limits.RecommendationsResult
}

// Config contains configuration for the report scheduler.
type Config struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduling; RunOnce still works.
	Schedule string

	// Period is the usage period each report covers.
	// Default: 24 hours
	Period time.Duration
}

// ServiceReport is the report of one service.
type ServiceReport struct {
	Service         string
	Stats           *limits.UsageStats
	Recommendations *limits.RecommendationsResult
}

// Scheduler produces usage reports on a cron schedule. Each run logs a
// summary per configured service and updates the report gauges.
type Scheduler struct {
	source  Source
	config  Config
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool

	requests        *prometheus.GaugeVec
	costUSD         *prometheus.GaugeVec
	recommendations *prometheus.GaugeVec
	lastRun         prometheus.Gauge
}

// NewScheduler creates a report scheduler. Gauges are registered with reg,
// which may be nil.
func NewScheduler(source Source, config Config, reg prometheus.Registerer, namespace string) *Scheduler {
	if config.Period <= 0 {
		config.Period = 24 * time.Hour
	}
	factory := promauto.With(reg)

	return &Scheduler{
		source: source,
		config: config,
		cron:   cron.New(),
		logger: slog.Default().With("component", "limits.report"),

		requests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "requests",
			Help:      "Requests in the last report period",
		}, []string{"service"}),

		costUSD: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "cost_usd",
			Help:      "Cost in USD in the last report period",
		}, []string{"service"}),

		recommendations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "recommendations",
			Help:      "Open cost optimization recommendations",
		}, []string{"service"}),

		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed report",
		}),
	}
}

// Start schedules reports on the configured cron expression.
//
// Common cron expressions:
//   - "0 * * * *"    - Hourly
//   - "0 8 * * *"    - Daily at 8 AM
//   - "*/15 * * * *" - Every 15 minutes
//
// If Schedule is empty, the scheduler does nothing. The scheduler stops
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("report schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule report: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("report scheduler started",
		"schedule", s.config.Schedule,
		"period", s.config.Period,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce builds a report for every configured service, logs it and
// updates the gauges.
func (s *Scheduler) RunOnce(ctx context.Context) []ServiceReport {
	services := s.source.Services()
	reports := make([]ServiceReport, 0, len(services))

	for _, service := range services {
		if ctx.Err() != nil {
			break
		}

		stats := s.source.GetUsageStats(ctx, service, s.config.Period)
		recs := s.source.GetCostOptimizationRecommendations(ctx, service)
		reports = append(reports, ServiceReport{
			Service:         service,
			Stats:           stats,
			Recommendations: recs,
		})

		if stats.Error != "" && !stats.Partial {
			s.logger.Warn("usage report incomplete",
				"service", service,
				"error", stats.Error,
			)
		} else {
			s.requests.WithLabelValues(service).Set(float64(stats.TotalRequests))
			s.costUSD.WithLabelValues(service).Set(stats.TotalCostUSD)
		}
		if recs.Error == "" {
			s.recommendations.WithLabelValues(service).Set(float64(len(recs.Recommendations)))
		}

		s.logger.Info("usage report",
			"service", service,
			"period_hours", stats.PeriodHours,
			"requests", stats.TotalRequests,
			"failed", stats.FailedRequests,
			"tokens", stats.TotalTokens,
			"cost_usd", stats.TotalCostUSD,
			"cost_per_hour", stats.CostPerHour,
			"recommendations", len(recs.Recommendations),
		)
		for _, r := range recs.Recommendations {
			s.logger.Info("cost recommendation",
				"service", service,
				"category", r.Category,
				"priority", r.Priority,
				"title", r.Title,
				"estimated_savings_percent", r.EstimatedSavingsPercent,
			)
		}
	}

	s.lastRun.SetToCurrentTime()
	return reports
}

// Stop stops the scheduler and waits for a running report to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("report scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled report time, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
