// Package server exposes the rate-limiting engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits"
	"jdhub/ratekeeper/pkg/pricing"
	"jdhub/ratekeeper/pkg/telemetry/health"
	"jdhub/ratekeeper/pkg/telemetry/metrics"
	"jdhub/ratekeeper/pkg/telemetry/tracing"
)

// Deps are the components the server routes requests to. Limits is
// required; the rest are optional.
type Deps struct {
	Limits  *limits.Service
	Pricing *pricing.Calculator
	Metrics *metrics.Collector
	Health  *health.Checker
	Logger  *slog.Logger

	// MetricsPath is where the Prometheus handler is mounted.
	// Default: "/metrics"
	MetricsPath string

	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP front end of the engine.
type Server struct {
	config     *config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// New creates a server. It does not start listening.
func New(cfg *config.ServerConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if deps.Limits == nil {
		return nil, errors.New("limits service is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	return &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
	}, nil
}

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails. Cancellation triggers a graceful
// shutdown bounded by ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	tlsConfig, err := buildTLSConfig(&s.config.TLS)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		TLSConfig:      tlsConfig,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"address", ln.Addr().String(),
			"tls_enabled", tlsConfig != nil,
		)

		var err error
		if tlsConfig != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully stops the server. Only the first call has effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the router with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Recovery is outermost so panics in other middleware are caught.
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(RequestIDMiddleware)
	r.Use(tracing.HTTPMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(MetricsMiddleware(s.deps.Metrics))

	// Set before mounting so subrouters inherit them.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, ErrorTypeNotFound, "", "", "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorDetail{
			Message: "method " + r.Method + " not allowed",
			Type:    ErrorTypeInvalidRequest,
		}})
	})

	h := &handlers{
		limits:  s.deps.Limits,
		pricing: s.deps.Pricing,
		logger:  s.logger,
	}

	r.Route("/v1/limits", func(r chi.Router) {
		r.Get("/", h.listServices)
		r.Post("/check", h.check)
		r.Post("/usage", h.recordUsage)

		r.Route("/{service}", func(r chi.Router) {
			r.Get("/", h.getService)
			r.Put("/", h.updateService)
			r.Get("/stats", h.stats)
			r.Get("/recommendations", h.recommendations)
			r.Get("/delay", h.delay)
			r.Delete("/reservations/{id}", h.releaseReservation)
		})
	})

	r.Get("/health", s.deps.Health.LivenessHandler())
	r.Get("/ready", s.deps.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.deps.Version, s.deps.Commit, s.deps.BuildTime))

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.deps.MetricsPath, s.deps.Metrics.Handler())
	}

	return r
}
