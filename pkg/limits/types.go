package limits

import (
	"errors"
	"time"

	"jdhub/ratekeeper/pkg/limits/analytics"
	"jdhub/ratekeeper/pkg/limits/ratelimit"
)

var (
	// ErrInvalidAmount is returned for negative token or cost amounts.
	ErrInvalidAmount = errors.New("token and cost amounts must be non-negative")

	// ErrEmptyService is returned when a service name is required but empty.
	ErrEmptyService = errors.New("service name is required")
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Service string `json:"service"`

	// Allowed is true when no configured limit would be exceeded by the
	// estimated amounts. Unknown services are always allowed.
	Allowed bool `json:"allowed"`

	// Statuses holds one entry per configured limit type, including the
	// exceeded ones.
	Statuses []ratelimit.RateLimitStatus `json:"statuses"`

	// ReservationID identifies the capacity held for an allowed check.
	// Pass it in Usage.ReservationID, or to ReleaseReservation. Zero for
	// denied checks and unknown services.
	ReservationID uint64 `json:"reservation_id,omitempty"`

	// RetryAfter is the recommended wait when the check was denied: the
	// time until a request of the checked size fits every limit.
	RetryAfter time.Duration `json:"-"`
}

// Exceeded returns the limit types that blocked the check.
func (r *CheckResult) Exceeded() []ratelimit.RateLimitType {
	var out []ratelimit.RateLimitType
	for _, st := range r.Statuses {
		if st.IsExceeded {
			out = append(out, st.LimitType)
		}
	}
	return out
}

// Usage describes one completed external call.
type Usage struct {
	Service       string
	OperationType string
	Model         string

	// InputTokens and OutputTokens are the split, when known.
	InputTokens  int64
	OutputTokens int64

	// TokensUsed is the measured total. Zero means InputTokens+OutputTokens.
	TokensUsed int64

	CostUSD float64
	Success bool

	ResponseTimeMs *int64
	UserID         string

	// ReservationID settles the reservation of an earlier allowed check.
	// Zero settles the oldest pending reservation for OperationType.
	ReservationID uint64

	// Timestamp defaults to now.
	Timestamp time.Time
}

func (u *Usage) validate() error {
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.TokensUsed < 0 || u.CostUSD < 0 {
		return ErrInvalidAmount
	}
	if u.ResponseTimeMs != nil && *u.ResponseTimeMs < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// total returns the measured token total.
func (u *Usage) total() int64 {
	if u.TokensUsed > 0 {
		return u.TokensUsed
	}
	return u.InputTokens + u.OutputTokens
}

// UsageStats aggregates a service's durable usage over a trailing period.
//
// Callers must check Error: when set and Partial is false the aggregates are
// zero and only Statuses is meaningful.
type UsageStats struct {
	Service     string  `json:"service"`
	PeriodHours float64 `json:"period_hours"`

	analytics.Summary

	// Statuses is the live limiter state, present even when the query failed.
	Statuses []ratelimit.RateLimitStatus `json:"current_limits"`

	// Partial is set when aggregates were computed without an optional field.
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RecommendationsResult carries cost optimization recommendations.
type RecommendationsResult struct {
	Service         string                     `json:"service"`
	Recommendations []analytics.Recommendation `json:"recommendations"`
	Error           string                     `json:"error,omitempty"`
}
