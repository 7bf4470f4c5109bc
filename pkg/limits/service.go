package limits

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jdhub/ratekeeper/pkg/limits/analytics"
	"jdhub/ratekeeper/pkg/limits/ratelimit"
	"jdhub/ratekeeper/pkg/limits/recorder"
	"jdhub/ratekeeper/pkg/limits/storage"
)

const (
	// DefaultStatsPeriod is used when GetUsageStats is called without a period.
	DefaultStatsPeriod = 24 * time.Hour

	// DefaultRecommendationLookback is the usage history recommendations read.
	DefaultRecommendationLookback = 7 * 24 * time.Hour
)

// Config contains configuration for the limits service.
type Config struct {
	// Limits maps service names to their initial limits.
	Limits map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit

	// Store receives usage records. Default: in-memory store.
	Store storage.Store

	// Recorder configures the async writer in front of Store.
	Recorder *recorder.Config

	// Advisor classifies models for the model selection rule. Optional.
	Advisor analytics.ModelAdvisor

	// Thresholds tune the recommendation rules. Default: analytics.DefaultThresholds().
	Thresholds *analytics.Thresholds

	// StatsPeriod is the default GetUsageStats period.
	StatsPeriod time.Duration

	// RecommendationLookback bounds the history recommendations read.
	RecommendationLookback time.Duration

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service coordinates rate limiting, usage recording and usage analytics
// for a set of external services.
//
// Each service owns one ratelimit.Limiter. The service map is guarded by an
// RWMutex that is only write-locked to add a service; checks for different
// services never contend on a shared lock.
//
// # Example
//
//	svc, err := limits.NewService(limits.Config{
//	    Limits: map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit{
//	        "openai": {ratelimit.RequestsPerMinute: ratelimit.NewRateLimit(3000, 60)},
//	    },
//	})
//
//	result, err := svc.CheckRateLimit(ctx, "openai", "chat", 1200, 0.02, "")
//	if !result.Allowed {
//	    // wait result.RetryAfter
//	}
//
//	err = svc.RecordUsage(ctx, limits.Usage{
//	    Service:       "openai",
//	    OperationType: "chat",
//	    TokensUsed:    1130,
//	    CostUSD:       0.018,
//	    Success:       true,
//	    ReservationID: result.ReservationID,
//	})
type Service struct {
	mu       sync.RWMutex
	limiters map[string]*ratelimit.Limiter

	store    storage.Store
	recorder *recorder.Recorder

	advisor     analytics.ModelAdvisor
	thresholds  analytics.Thresholds
	statsPeriod time.Duration
	lookback    time.Duration

	metrics *Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	closeOnce sync.Once
	closeErr  error
}

// NewService creates a service and starts its usage recorder.
// It returns an error if any configured limit is invalid.
func NewService(cfg Config) (*Service, error) {
	limiters := make(map[string]*ratelimit.Limiter, len(cfg.Limits))
	for name, limits := range cfg.Limits {
		if name == "" {
			return nil, ErrEmptyService
		}
		l, err := ratelimit.NewLimiter(limits)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		limiters[name] = l
	}

	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	thresholds := analytics.DefaultThresholds()
	if cfg.Thresholds != nil {
		thresholds = *cfg.Thresholds
	}
	if cfg.StatsPeriod <= 0 {
		cfg.StatsPeriod = DefaultStatsPeriod
	}
	if cfg.RecommendationLookback <= 0 {
		cfg.RecommendationLookback = DefaultRecommendationLookback
	}

	s := &Service{
		limiters:    limiters,
		store:       cfg.Store,
		recorder:    recorder.NewRecorder(cfg.Store, cfg.Recorder),
		advisor:     cfg.Advisor,
		thresholds:  thresholds,
		statsPeriod: cfg.StatsPeriod,
		lookback:    cfg.RecommendationLookback,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "limits.service"),
		tracer:      otel.Tracer("ratekeeper/limits"),
	}
	s.metrics.ObserveRecorder(s.recorder)

	s.logger.Info("limits service initialized", "services", len(limiters))
	return s, nil
}

func (s *Service) limiter(service string) (*ratelimit.Limiter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limiters[service]
	return l, ok
}

// CheckRateLimit reports whether a call with the estimated amounts fits
// every configured limit of service, and if so reserves them.
//
// The reservation makes admission linearizable: when one unit of capacity
// remains, exactly one of several concurrent checks is allowed. The
// following RecordUsage replaces the reserved estimate with the measured
// amounts; it never rejects. A call that is admitted but not made should
// be given back with ReleaseReservation.
//
// Parameters:
//   - service: External service name, e.g. "openai"
//   - operation: Operation type; RecordUsage without a reservation id
//     settles the oldest open reservation of the same operation
//   - estimatedTokens: Expected token count for the call
//   - estimatedCost: Expected cost in USD
//   - userID: Optional caller identity, used for logging only
//
// Returns:
//   - Allowed=true with no statuses for services without configured limits,
//     whatever the amounts
//   - ErrInvalidAmount for negative estimates against a configured service
func (s *Service) CheckRateLimit(ctx context.Context, service, operation string, estimatedTokens int64, estimatedCost float64, userID string) (*CheckResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("check", time.Since(start).Seconds())
	}()

	l, ok := s.limiter(service)
	if !ok {
		return &CheckResult{
			Service:  service,
			Allowed:  true,
			Statuses: []ratelimit.RateLimitStatus{},
		}, nil
	}

	if estimatedTokens < 0 || estimatedCost < 0 {
		return nil, ErrInvalidAmount
	}

	tokens := float64(estimatedTokens)
	res, statuses := l.Reserve(operation, tokens, estimatedCost)
	allowed := res != nil
	result := &CheckResult{
		Service:  service,
		Allowed:  allowed,
		Statuses: statuses,
	}
	if allowed {
		result.ReservationID = res.ID()
	}

	s.metrics.RecordCheck(service, allowed)
	s.updateUtilization(service, l.Limits(), statuses)

	if !allowed {
		result.RetryAfter = l.RetryAfter(tokens, estimatedCost)
		for _, t := range result.Exceeded() {
			s.metrics.RecordExceeded(service, string(t))
		}
		s.logger.DebugContext(ctx, "rate limit exceeded",
			"service", service,
			"operation", operation,
			"user_id", userID,
			"exceeded", result.Exceeded(),
			"retry_after", result.RetryAfter,
		)
	}

	return result, nil
}

// RecordUsage feeds the measured amounts of a completed call into every
// configured limit of its service and queues a durable usage record.
//
// The amounts settle the call's reservation: the one named by
// ReservationID, otherwise the oldest pending reservation for the same
// operation. Without one, the usage is added as is.
//
// It never rejects: the call already happened. Services without configured
// limits are ignored. A failure to persist the record is logged and does
// not affect the in-memory limits.
func (s *Service) RecordUsage(ctx context.Context, u Usage) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("record", time.Since(start).Seconds())
	}()

	l, ok := s.limiter(u.Service)
	if !ok {
		return nil
	}

	if err := u.validate(); err != nil {
		return err
	}

	total := u.total()
	if !l.Settle(u.ReservationID, u.OperationType, float64(total), u.CostUSD) {
		l.Record(float64(total), u.CostUSD)
	}
	s.metrics.RecordUsage(u.Service, u.Success, total, u.CostUSD)

	in, out := u.InputTokens, u.OutputTokens
	if in+out == 0 {
		in = total
	}

	record := storage.NewUsageRecord(u.Service, u.OperationType, u.Model, in, out, u.CostUSD)
	record.TotalTokens = total
	record.Success = u.Success
	record.UserID = u.UserID
	record.ResponseTimeMs = u.ResponseTimeMs
	if !u.Timestamp.IsZero() {
		record.Timestamp = u.Timestamp.UTC()
	}

	if err := s.recorder.Enqueue(record); err != nil {
		s.logger.WarnContext(ctx, "usage record not persisted",
			"service", u.Service,
			"operation", u.OperationType,
			"error", err,
		)
	}

	return nil
}

// GetUsageStats aggregates the durable usage of service over the trailing
// period. A non-positive period uses the configured default.
//
// It never returns an error. Storage failures are reported in the result's
// Error field next to the live limiter statuses. A store without response
// times yields full aggregates with Partial set.
func (s *Service) GetUsageStats(ctx context.Context, service string, period time.Duration) *UsageStats {
	if period <= 0 {
		period = s.statsPeriod
	}

	ctx, span := s.tracer.Start(ctx, "limits.GetUsageStats",
		trace.WithAttributes(
			attribute.String("service", service),
			attribute.Float64("period_hours", period.Hours()),
		),
	)
	defer span.End()

	stats := &UsageStats{
		Service:     service,
		PeriodHours: period.Hours(),
		Summary:     analytics.Summarize(nil, period, false),
		Statuses:    s.Statuses(service),
	}

	records, err := s.store.Query(ctx, service, time.Now().Add(-period))
	if err != nil {
		stats.Error = fmt.Sprintf("usage statistics unavailable: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.metrics.RecordAnalyticsError(service, "stats")
		s.logger.ErrorContext(ctx, "usage stats query failed",
			"service", service,
			"error", err,
		)
		return stats
	}

	withResponseTime := true
	if fr, ok := s.store.(storage.FieldReporter); ok && !fr.HasField(storage.FieldResponseTimeMs) {
		withResponseTime = false
		stats.Partial = true
		stats.Error = fmt.Sprintf("usage store has no %s field; response times omitted", storage.FieldResponseTimeMs)
	}

	stats.Summary = analytics.Summarize(records, period, withResponseTime)
	span.SetAttributes(attribute.Int("records", len(records)))
	return stats
}

// GetCostOptimizationRecommendations derives recommendations from the
// recent usage of service. It returns an empty list when no pattern is
// present and sets Error when the store could not be read.
func (s *Service) GetCostOptimizationRecommendations(ctx context.Context, service string) *RecommendationsResult {
	ctx, span := s.tracer.Start(ctx, "limits.GetCostOptimizationRecommendations",
		trace.WithAttributes(attribute.String("service", service)),
	)
	defer span.End()

	result := &RecommendationsResult{
		Service:         service,
		Recommendations: []analytics.Recommendation{},
	}

	now := time.Now()
	records, err := s.store.Query(ctx, service, now.Add(-s.lookback))
	if err != nil {
		result.Error = fmt.Sprintf("recommendations unavailable: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.metrics.RecordAnalyticsError(service, "recommendations")
		s.logger.ErrorContext(ctx, "recommendations query failed",
			"service", service,
			"error", err,
		)
		return result
	}

	result.Recommendations = analytics.Recommend(analytics.Input{
		Records:        records,
		DailyCostLimit: s.dailyCostLimit(service),
		Now:            now,
	}, s.thresholds, s.advisor)

	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("recommendations", len(result.Recommendations)),
	)
	return result
}

func (s *Service) dailyCostLimit(service string) float64 {
	l, ok := s.limiter(service)
	if !ok {
		return 0
	}
	if rl, ok := l.Limits()[ratelimit.CostPerDay]; ok {
		return float64(rl.Limit)
	}
	return 0
}

// UpdateRateLimits replaces the given limit types of service and leaves the
// others untouched. Existing bucket and window state is kept, so a lowered
// limit may stay exceeded until usage drains. An unknown service is created.
func (s *Service) UpdateRateLimits(service string, limits map[ratelimit.RateLimitType]ratelimit.RateLimit) error {
	if service == "" {
		return ErrEmptyService
	}

	if l, ok := s.limiter(service); ok {
		if err := l.Update(limits); err != nil {
			return fmt.Errorf("service %q: %w", service, err)
		}
		s.logger.Info("rate limits updated", "service", service, "types", len(limits))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have created it since the read lock was released.
	if l, ok := s.limiters[service]; ok {
		if err := l.Update(limits); err != nil {
			return fmt.Errorf("service %q: %w", service, err)
		}
		return nil
	}

	l, err := ratelimit.NewLimiter(limits)
	if err != nil {
		return fmt.Errorf("service %q: %w", service, err)
	}
	s.limiters[service] = l
	s.logger.Info("rate limits configured", "service", service, "types", len(limits))
	return nil
}

// ReplaceRateLimits applies a full limits snapshot, as produced by a config
// reload. Listed services are updated in place; unlisted ones are kept.
func (s *Service) ReplaceRateLimits(services map[string]map[ratelimit.RateLimitType]ratelimit.RateLimit) error {
	for _, name := range slices.Sorted(maps.Keys(services)) {
		if err := s.UpdateRateLimits(name, services[name]); err != nil {
			return err
		}
	}
	return nil
}

// ServiceConfig returns a copy of the limits configured for service.
func (s *Service) ServiceConfig(service string) (map[ratelimit.RateLimitType]ratelimit.RateLimit, bool) {
	l, ok := s.limiter(service)
	if !ok {
		return nil, false
	}
	return l.Limits(), true
}

// Statuses returns the live status of every limit of service, or an empty
// slice for unknown services.
func (s *Service) Statuses(service string) []ratelimit.RateLimitStatus {
	l, ok := s.limiter(service)
	if !ok {
		return []ratelimit.RateLimitStatus{}
	}
	return l.Statuses()
}

// ReleaseReservation gives back the capacity held for an admitted call
// that was not made. It returns false if the reservation is not pending,
// for example because it was already settled.
func (s *Service) ReleaseReservation(service string, id uint64) bool {
	l, ok := s.limiter(service)
	if !ok {
		return false
	}
	return l.Release(id)
}

// GetRecommendedDelay returns how long a caller should wait before retrying
// operation against service. It covers the last denied request of that
// operation. It is 0 for unknown services and never negative.
func (s *Service) GetRecommendedDelay(service, operation string) time.Duration {
	l, ok := s.limiter(service)
	if !ok {
		return 0
	}
	return l.RecommendedDelay(operation)
}

// Services returns the configured service names in sorted order.
func (s *Service) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.limiters))
}

// Flush waits until all queued usage records are written.
func (s *Service) Flush(ctx context.Context) error {
	return s.recorder.Flush(ctx)
}

// RecorderStats returns the usage recorder counters.
func (s *Service) RecorderStats() recorder.Stats {
	return s.recorder.Stats()
}

// Close drains the usage recorder and closes the store.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if err := s.recorder.Close(); err != nil {
			s.logger.Warn("usage recorder close failed", "error", err)
		}
		s.closeErr = s.store.Close()
		s.logger.Info("limits service closed")
	})
	return s.closeErr
}

func (s *Service) updateUtilization(service string, limits map[ratelimit.RateLimitType]ratelimit.RateLimit, statuses []ratelimit.RateLimitStatus) {
	if s.metrics == nil {
		return
	}
	for _, st := range statuses {
		if rl, ok := limits[st.LimitType]; ok && rl.Limit > 0 {
			s.metrics.UpdateUtilization(service, string(st.LimitType), st.CurrentUsage/float64(rl.Limit))
		}
	}
}
