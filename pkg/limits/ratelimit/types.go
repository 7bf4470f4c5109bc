package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// DefaultBurstAllowance is the multiplier applied to a limit when no
// explicit burst allowance is configured.
const DefaultBurstAllowance = 1.2

var (
	// ErrInvalidLimitType is returned for a limit type outside the closed set.
	ErrInvalidLimitType = errors.New("invalid rate limit type")

	// ErrInvalidLimit is returned for a limit with a non-positive value or
	// window, or a burst allowance below 1.0.
	ErrInvalidLimit = errors.New("invalid rate limit")
)

// RateLimitType identifies a limiting dimension.
type RateLimitType string

const (
	// RequestsPerMinute counts calls.
	RequestsPerMinute RateLimitType = "requests_per_minute"

	// TokensPerMinute counts model tokens.
	TokensPerMinute RateLimitType = "tokens_per_minute"

	// CostPerHour accumulates USD spend over an hour.
	CostPerHour RateLimitType = "cost_per_hour"

	// CostPerDay accumulates USD spend over a day.
	CostPerDay RateLimitType = "cost_per_day"
)

// Types returns every limit type in evaluation order.
func Types() []RateLimitType {
	return []RateLimitType{RequestsPerMinute, TokensPerMinute, CostPerHour, CostPerDay}
}

// ParseRateLimitType converts a string to a RateLimitType.
func ParseRateLimitType(s string) (RateLimitType, error) {
	t := RateLimitType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLimitType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known limit types.
func (t RateLimitType) Valid() bool {
	switch t {
	case RequestsPerMinute, TokensPerMinute, CostPerHour, CostPerDay:
		return true
	}
	return false
}

// Kind determines which primitives back a limit type.
type Kind int

const (
	// KindCount limits are enforced by a token bucket and a sliding window
	// over a unit count (requests or tokens).
	KindCount Kind = iota

	// KindCost limits are enforced by a sliding window over USD only.
	KindCost
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindCost:
		return "cost"
	default:
		return "unknown"
	}
}

// Kind returns the handling kind for t.
func (t RateLimitType) Kind() Kind {
	switch t {
	case CostPerHour, CostPerDay:
		return KindCost
	default:
		return KindCount
	}
}

// Amount extracts the quantity a single call contributes to t.
func (t RateLimitType) Amount(tokens, cost float64) float64 {
	switch t {
	case RequestsPerMinute:
		return 1
	case TokensPerMinute:
		return tokens
	case CostPerHour, CostPerDay:
		return cost
	default:
		return 0
	}
}

// RateLimit describes one limit: at most Limit units per WindowSeconds,
// with BurstAllowance permitting short excursions above Limit.
type RateLimit struct {
	// Limit is the nominal number of units permitted in the window.
	Limit int `yaml:"limit" json:"limit"`

	// WindowSeconds is the rolling window length.
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`

	// BurstAllowance multiplies Limit to give the effective ceiling.
	// Default: 1.2
	BurstAllowance float64 `yaml:"burst_allowance,omitempty" json:"burst_allowance,omitempty"`
}

// NewRateLimit returns a RateLimit with the default burst allowance.
func NewRateLimit(limit, windowSeconds int) RateLimit {
	return RateLimit{
		Limit:          limit,
		WindowSeconds:  windowSeconds,
		BurstAllowance: DefaultBurstAllowance,
	}
}

// WithDefaults returns a copy of rl with a zero burst allowance replaced
// by DefaultBurstAllowance.
func (rl RateLimit) WithDefaults() RateLimit {
	if rl.BurstAllowance == 0 {
		rl.BurstAllowance = DefaultBurstAllowance
	}
	return rl
}

// Validate checks that rl can back a limiter.
func (rl RateLimit) Validate() error {
	if rl.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidLimit, rl.Limit)
	}
	if rl.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window_seconds must be positive, got %d", ErrInvalidLimit, rl.WindowSeconds)
	}
	if rl.BurstAllowance != 0 && rl.BurstAllowance < 1.0 {
		return fmt.Errorf("%w: burst_allowance must be >= 1.0, got %g", ErrInvalidLimit, rl.BurstAllowance)
	}
	return nil
}

// Window returns the window as a duration.
func (rl RateLimit) Window() time.Duration {
	return time.Duration(rl.WindowSeconds) * time.Second
}

// Effective returns the ceiling a window may reach before it is exceeded.
func (rl RateLimit) Effective() float64 {
	return float64(rl.Limit) * rl.WithDefaults().BurstAllowance
}

// RefillRate returns units restored per second for bucket-backed limits.
func (rl RateLimit) RefillRate() float64 {
	return float64(rl.Limit) / float64(rl.WindowSeconds)
}

// RateLimitStatus is a point-in-time snapshot of one limit.
type RateLimitStatus struct {
	LimitType RateLimitType `json:"limit_type"`

	// CurrentUsage is requests, tokens or USD depending on LimitType.
	CurrentUsage float64 `json:"current_usage"`

	Limit int `json:"limit"`

	// WindowRemainingSeconds is the time until the oldest window entry expires.
	WindowRemainingSeconds float64 `json:"window_remaining_seconds"`

	ResetTime time.Time `json:"reset_time"`

	IsExceeded bool `json:"is_exceeded"`
}
