// Package ratelimit provides the in-memory primitives behind service rate limits.
//
// # Overview
//
// The package implements two primitives and a coordinator:
//
//   - TokenBucket: fractional tokens with lazy, time-based refill
//   - SlidingWindowCounter: weighted events summed over a trailing window
//   - Limiter: every configured RateLimitType for one service
//
// # Limit Types
//
// Each RateLimitType maps to a Kind. Count-based types (requests, tokens)
// are backed by a bucket and a window; cost-based types (USD per hour or
// day) are backed by a window only:
//
//	limiter, _ := ratelimit.NewLimiter(map[ratelimit.RateLimitType]ratelimit.RateLimit{
//	    ratelimit.RequestsPerMinute: ratelimit.NewRateLimit(3000, 60),
//	    ratelimit.CostPerHour:       ratelimit.NewRateLimit(50, 3600),
//	})
//	res, statuses := limiter.Reserve("chat", 1200, 0.04)
//	if res == nil {
//	    wait := limiter.RetryAfter(1200, 0.04)
//	    ...
//	}
//	// call the provider, then replace the estimate with measured usage:
//	limiter.Settle(res.ID(), "chat", 1180, 0.038)
//
// # Reservations
//
// Reserve tests and takes capacity in one step per primitive, so the last
// unit of a limit goes to exactly one of several concurrent callers. A
// reservation is settled with measured usage, or released if the call is
// abandoned. Record adds usage that was never reserved.
//
// # Burst Allowance
//
// A limit is exceeded only when usage would pass Limit * BurstAllowance
// (default 1.2).
//
// # Thread Safety
//
// All types are safe for concurrent use. Every primitive has its own mutex;
// there is no lock shared across services or limit types.
package ratelimit
