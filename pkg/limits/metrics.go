package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"jdhub/ratekeeper/pkg/limits/recorder"
)

// Metrics contains Prometheus metrics for the limits service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	factory   promauto.Factory
	namespace string

	// Rate limit checks
	checks        *prometheus.CounterVec
	exceeded      *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	// Live usage against the nominal limit
	utilization *prometheus.GaugeVec

	// Recorded usage
	usageRecords *prometheus.CounterVec
	usageTokens  *prometheus.CounterVec
	usageCost    *prometheus.CounterVec

	// Analytics paths
	analyticsErrors *prometheus.CounterVec
}

// NewMetrics creates the limits collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		factory:   factory,
		namespace: namespace,

		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks performed",
			},
			[]string{"service", "result"},
		),

		exceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "exceeded_total",
				Help:      "Total number of checks that exceeded a limit, by limit type",
			},
			[]string{"service", "limit_type"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "operation_duration_seconds",
				Help:      "Duration of limits operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"operation"},
		),

		utilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "utilization_ratio",
				Help:      "Current usage divided by the nominal limit",
			},
			[]string{"service", "limit_type"},
		),

		usageRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "records_total",
				Help:      "Total number of usage records accepted",
			},
			[]string{"service", "success"},
		),

		usageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "tokens_total",
				Help:      "Total number of tokens recorded",
			},
			[]string{"service"},
		),

		usageCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "cost_usd_total",
				Help:      "Total recorded cost in USD",
			},
			[]string{"service"},
		),

		analyticsErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "errors_total",
				Help:      "Total number of storage failures on analytics paths",
			},
			[]string{"service", "operation"},
		),
	}
}

// RecordCheck records a rate limit check outcome.
func (m *Metrics) RecordCheck(service string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	m.checks.WithLabelValues(service, result).Inc()
}

// RecordExceeded records a limit type that blocked a check.
func (m *Metrics) RecordExceeded(service, limitType string) {
	if m == nil {
		return
	}
	m.exceeded.WithLabelValues(service, limitType).Inc()
}

// UpdateUtilization sets the usage ratio of one limit.
func (m *Metrics) UpdateUtilization(service, limitType string, ratio float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(service, limitType).Set(ratio)
}

// RecordUsage records accepted usage.
func (m *Metrics) RecordUsage(service string, success bool, tokens int64, cost float64) {
	if m == nil {
		return
	}
	ok := "true"
	if !success {
		ok = "false"
	}
	m.usageRecords.WithLabelValues(service, ok).Inc()
	m.usageTokens.WithLabelValues(service).Add(float64(tokens))
	m.usageCost.WithLabelValues(service).Add(cost)
}

// RecordAnalyticsError records a storage failure on an analytics path.
func (m *Metrics) RecordAnalyticsError(service, operation string) {
	if m == nil {
		return
	}
	m.analyticsErrors.WithLabelValues(service, operation).Inc()
}

// RecordDuration records the duration of a limits operation.
func (m *Metrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveRecorder exports the recorder's counters. Call it once per recorder.
func (m *Metrics) ObserveRecorder(rec *recorder.Recorder) {
	if m == nil || rec == nil {
		return
	}

	counter := func(name, help string, value func(recorder.Stats) uint64) {
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "recorder",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(rec.Stats())) })
	}

	counter("written_total", "Usage records written to the store",
		func(s recorder.Stats) uint64 { return s.Written })
	counter("failed_total", "Usage records whose store write failed",
		func(s recorder.Stats) uint64 { return s.Failed })
	counter("dropped_total", "Usage records dropped on a full buffer",
		func(s recorder.Stats) uint64 { return s.Dropped })

	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "recorder",
		Name:      "pending",
		Help:      "Usage records queued but not yet written",
	}, func() float64 { return float64(rec.Stats().Pending) })
}
