package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"jdhub/ratekeeper/pkg/config"
)

// Collector owns the process metrics registry. Components register their
// own collectors through Registerer; the collector itself records HTTP
// traffic and the Go runtime.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
}

// NewCollector creates a collector with a fresh registry. If registry is
// nil, a new one is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	svc, err := limits.NewService(limits.Config{
//	    Metrics: limits.NewMetrics(collector.Registerer(), collector.Namespace()),
//	})
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Collector{
		config:   cfg,
		registry: registry,

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"route", "method"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),

		buildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "build_info",
			Help:      "Build information, always 1",
		}, []string{"version", "commit"}),
	}
}

// Registerer returns the registerer components should register with.
func (c *Collector) Registerer() prometheus.Registerer {
	return c.registry
}

// Gatherer returns the registry for scraping or testing.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Namespace returns the configured metric namespace.
func (c *Collector) Namespace() string {
	return c.config.Namespace
}

// SetBuildInfo publishes the running version.
func (c *Collector) SetBuildInfo(version, commit string) {
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// RecordHTTPRequest records a completed HTTP request.
//
// Parameters:
//   - route: Route pattern, not the raw path, to bound cardinality
//   - method: HTTP method
//   - status: Response status code
//   - duration: Time spent serving the request
func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns a func that
// decrements it.
func (c *Collector) TrackInFlight() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}
