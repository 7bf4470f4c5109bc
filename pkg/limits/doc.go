// Package limits provides rate limiting and cost governance for calls to
// external AI services.
//
// # Overview
//
// A Service answers two questions for every outbound call: may it proceed
// right now, and what did it cost once it completed. Each configured
// service has limits of four types:
//
//   - requests_per_minute and tokens_per_minute, backed by a token bucket
//     and a sliding window over the measured amount
//   - cost_per_hour and cost_per_day, backed by a sliding window over USD
//
// Services without configured limits are never blocked.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: Token bucket, sliding window and the per-service limiter
//   - storage: Durable usage records (memory, SQLite)
//   - recorder: Async writer between the service and the store
//   - analytics: Usage summaries and cost optimization recommendations
//   - report: Scheduled usage reports
//
// # Usage
//
//	services, err := cfg.Limits.TypedServices()
//	svc, err := limits.NewService(limits.Config{
//	    Limits: services,
//	    Store:  store,
//	})
//	defer svc.Close()
//
//	// Check limits before the call; an allowed check reserves the estimate
//	result, err := svc.CheckRateLimit(ctx, "openai", "chat", 1200, 0.02, "")
//	if !result.Allowed {
//	    return fmt.Errorf("rate limited, retry in %s", result.RetryAfter)
//	}
//
//	// Record usage after the call; this settles the reservation
//	err = svc.RecordUsage(ctx, limits.Usage{
//	    Service:       "openai",
//	    OperationType: "chat",
//	    ReservationID: result.ReservationID,
//	    TokensUsed:    1130,
//	    CostUSD:       0.018,
//	    Success:       true,
//	})
//
// A call that is admitted but never made should be given back with
// ReleaseReservation. Reservations that are neither settled nor released
// expire after the longest configured window.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Buckets and windows are
// locked individually; there is no lock shared by all services.
//
// Refill and expiry are computed lazily on access. No background goroutine
// ticks the limiters.
package limits
