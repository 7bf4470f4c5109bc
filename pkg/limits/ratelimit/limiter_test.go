package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Token Bucket Tests
// ============================================================================

func TestTokenBucket_Basic(t *testing.T) {
	bucket := NewTokenBucket(10, 1.0)

	if !bucket.Consume(5) {
		t.Fatal("Expected to consume 5 tokens from full bucket")
	}

	// Only ~5 remain
	if bucket.Consume(6) {
		t.Error("Expected consume(6) to fail with 5 remaining")
	}

	status := bucket.Status()
	if status.Capacity != 10 {
		t.Errorf("Expected capacity 10, got %v", status.Capacity)
	}
	if status.CurrentTokens < 5 || status.CurrentTokens > 6 {
		t.Errorf("Expected ~5 tokens, got %v", status.CurrentTokens)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := NewTokenBucket(10, 10.0)

	if !bucket.Consume(10) {
		t.Fatal("Expected to drain full bucket")
	}

	time.Sleep(250 * time.Millisecond)

	if !bucket.Consume(2) {
		t.Error("Expected bucket to have refilled at least 2 tokens")
	}
}

func TestTokenBucket_CapacityLimit(t *testing.T) {
	bucket := NewTokenBucket(10, 100)

	time.Sleep(100 * time.Millisecond)

	status := bucket.Status()
	if status.CurrentTokens > 10 {
		t.Errorf("Expected tokens capped at 10, got %v", status.CurrentTokens)
	}
}

func TestTokenBucket_OverCapacityAlwaysFails(t *testing.T) {
	bucket := NewTokenBucket(10, 1000)

	if bucket.Consume(11) {
		t.Error("Expected consume above capacity to fail")
	}
	time.Sleep(20 * time.Millisecond)
	if bucket.Consume(11) {
		t.Error("Expected consume above capacity to keep failing after refill")
	}
	if bucket.Status().CurrentTokens != 10 {
		t.Errorf("Expected failed consume to leave state unchanged, got %v", bucket.Status().CurrentTokens)
	}
}

func TestTokenBucket_DrainFloorsAtZero(t *testing.T) {
	bucket := NewTokenBucket(5, 0.001)

	bucket.Drain(8)

	if got := bucket.Status().CurrentTokens; got < 0 || got > 0.01 {
		t.Errorf("Expected balance floored at 0, got %v", got)
	}
}

func TestTokenBucket_Refund(t *testing.T) {
	bucket := NewTokenBucket(10, 0.001)
	bucket.Consume(6)

	bucket.Refund(4)
	if got := bucket.Status().CurrentTokens; got < 7.99 || got > 8.01 {
		t.Errorf("Expected ~8 tokens after refund, got %v", got)
	}

	bucket.Refund(10)
	if got := bucket.Status().CurrentTokens; got != 10 {
		t.Errorf("Expected refund capped at capacity 10, got %v", got)
	}

	// Over capacity after a shrink: refund must not lower the balance
	bucket.Reconfigure(5, 0.001)
	bucket.Refund(1)
	if got := bucket.Status().CurrentTokens; got != 10 {
		t.Errorf("Expected over-capacity balance kept at 10, got %v", got)
	}
}

func TestTokenBucket_TimeUntilAvailable(t *testing.T) {
	bucket := NewTokenBucket(10, 10)

	if wait := bucket.TimeUntilAvailable(5); wait != 0 {
		t.Errorf("Expected no wait on full bucket, got %v", wait)
	}

	bucket.Consume(10)

	wait := bucket.TimeUntilAvailable(5)
	if wait < 400*time.Millisecond || wait > 500*time.Millisecond {
		t.Errorf("Expected ~500ms wait, got %v", wait)
	}
}

func TestTokenBucket_ReconfigureKeepsBalance(t *testing.T) {
	bucket := NewTokenBucket(100, 0.001)
	bucket.Consume(20) // 80 left

	bucket.Reconfigure(50, 0.001)

	status := bucket.Status()
	if status.Capacity != 50 {
		t.Errorf("Expected capacity 50, got %v", status.Capacity)
	}
	if status.CurrentTokens < 79 {
		t.Errorf("Expected balance kept over the new capacity, got %v", status.CurrentTokens)
	}

	// Draining brings it back under capacity; refill then caps at 50
	bucket.Consume(40)
	if got := bucket.Status().CurrentTokens; got > 50 {
		t.Errorf("Expected balance <= 50 after draining, got %v", got)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	bucket := NewTokenBucket(10, 0.001)
	bucket.Consume(10)

	bucket.Reset()

	if !bucket.Consume(10) {
		t.Error("Expected full bucket after reset")
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	bucket := NewTokenBucket(100, 0.001)

	var (
		wg      sync.WaitGroup
		success atomic.Int64
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.Consume(1) {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := success.Load(); got != 100 {
		t.Errorf("Expected exactly 100 successful consumes, got %d", got)
	}
	if got := bucket.Status().CurrentTokens; got < 0 || got > 1 {
		t.Errorf("Expected balance within [0, 1], got %v", got)
	}
}

// ============================================================================
// Sliding Window Tests
// ============================================================================

func TestSlidingWindow_Basic(t *testing.T) {
	window := NewSlidingWindowCounter(time.Minute)

	window.AddRequest(100)
	window.AddRequest(200)
	window.AddRequest(300)

	if got := window.Count(); got != 600 {
		t.Errorf("Expected count 600, got %v", got)
	}
}

func TestSlidingWindow_Expiration(t *testing.T) {
	window := NewSlidingWindowCounter(time.Second)

	window.AddRequest(5)
	if got := window.Count(); got < 5 {
		t.Errorf("Expected count >= 5, got %v", got)
	}

	time.Sleep(1100 * time.Millisecond)

	if got := window.Count(); got != 0 {
		t.Errorf("Expected idle window to decay to 0, got %v", got)
	}
	if got := window.Remaining(); got != 0 {
		t.Errorf("Expected no remaining time on empty window, got %v", got)
	}
}

func TestSlidingWindow_PartialExpiration(t *testing.T) {
	window := NewSlidingWindowCounter(300 * time.Millisecond)

	window.AddRequest(1)
	time.Sleep(200 * time.Millisecond)
	window.AddRequest(2)
	time.Sleep(150 * time.Millisecond)

	if got := window.Count(); got != 2 {
		t.Errorf("Expected only the newer entry to survive, got %v", got)
	}
}

func TestSlidingWindow_Remaining(t *testing.T) {
	window := NewSlidingWindowCounter(time.Minute)
	window.AddRequest(1)

	remaining := window.Remaining()
	if remaining <= 59*time.Second || remaining > time.Minute {
		t.Errorf("Expected remaining just under 1m, got %v", remaining)
	}
}

func TestSlidingWindow_SetWindow(t *testing.T) {
	window := NewSlidingWindowCounter(time.Hour)
	window.AddRequest(10)

	time.Sleep(60 * time.Millisecond)
	window.SetWindow(50 * time.Millisecond)

	if got := window.Count(); got != 0 {
		t.Errorf("Expected entry outside the shortened window to expire, got %v", got)
	}
}

func TestSlidingWindow_Reset(t *testing.T) {
	window := NewSlidingWindowCounter(time.Minute)
	window.AddRequest(1000)

	window.Reset()

	if got := window.Count(); got != 0 {
		t.Errorf("Expected 0 after reset, got %v", got)
	}
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	window := NewSlidingWindowCounter(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			window.AddRequest(0.5)
		}()
	}
	wg.Wait()

	if got := window.Count(); got != 50 {
		t.Errorf("Expected count 50, got %v", got)
	}
}

// ============================================================================
// Rate Limit Type Tests
// ============================================================================

func TestRateLimitType_Kind(t *testing.T) {
	tests := []struct {
		limitType RateLimitType
		kind      Kind
	}{
		{RequestsPerMinute, KindCount},
		{TokensPerMinute, KindCount},
		{CostPerHour, KindCost},
		{CostPerDay, KindCost},
	}

	for _, tt := range tests {
		t.Run(string(tt.limitType), func(t *testing.T) {
			if got := tt.limitType.Kind(); got != tt.kind {
				t.Errorf("Kind() = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestRateLimitType_Amount(t *testing.T) {
	if got := RequestsPerMinute.Amount(500, 0.2); got != 1 {
		t.Errorf("requests amount = %v, want 1", got)
	}
	if got := TokensPerMinute.Amount(500, 0.2); got != 500 {
		t.Errorf("tokens amount = %v, want 500", got)
	}
	if got := CostPerDay.Amount(500, 0.2); got != 0.2 {
		t.Errorf("cost amount = %v, want 0.2", got)
	}
}

func TestParseRateLimitType(t *testing.T) {
	if _, err := ParseRateLimitType("tokens_per_minute"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if _, err := ParseRateLimitType("requests_per_fortnight"); !errors.Is(err, ErrInvalidLimitType) {
		t.Errorf("Expected ErrInvalidLimitType, got %v", err)
	}
}

func TestRateLimit_DefaultBurst(t *testing.T) {
	rl := NewRateLimit(100, 60)
	if rl.BurstAllowance != 1.2 {
		t.Errorf("Expected default burst 1.2, got %v", rl.BurstAllowance)
	}

	zero := RateLimit{Limit: 100, WindowSeconds: 60}
	if got := zero.Effective(); got != 120 {
		t.Errorf("Expected effective limit 120 for unset burst, got %v", got)
	}
}

func TestRateLimit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		limit   RateLimit
		wantErr bool
	}{
		{"valid", NewRateLimit(10, 60), false},
		{"unset burst", RateLimit{Limit: 10, WindowSeconds: 60}, false},
		{"zero limit", RateLimit{Limit: 0, WindowSeconds: 60}, true},
		{"negative window", RateLimit{Limit: 10, WindowSeconds: -1}, true},
		{"burst below one", RateLimit{Limit: 10, WindowSeconds: 60, BurstAllowance: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limit.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("Expected ErrInvalidLimit, got %v", err)
			}
		})
	}
}

// ============================================================================
// Limiter Tests
// ============================================================================

func TestLimiter_RequestsExceeded(t *testing.T) {
	limiter, err := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(2, 60),
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	res, statuses := limiter.Reserve("op", 1, 0)
	if res == nil {
		t.Fatal("Expected first request to be allowed")
	}
	if len(statuses) != 1 || statuses[0].LimitType != RequestsPerMinute {
		t.Fatalf("Expected one requests_per_minute status, got %+v", statuses)
	}

	if !limiter.Settle(res.ID(), "op", 1, 0) {
		t.Fatal("Expected pending reservation to settle")
	}
	limiter.Record(1, 0)

	res, statuses = limiter.Reserve("op", 1, 0)
	if res != nil {
		t.Error("Expected third request to be denied")
	}
	if !statuses[0].IsExceeded {
		t.Error("Expected requests_per_minute to be exceeded")
	}
	if statuses[0].CurrentUsage != 2 {
		t.Errorf("Expected current usage 2, got %v", statuses[0].CurrentUsage)
	}
	if statuses[0].WindowRemainingSeconds <= 0 {
		t.Error("Expected positive window remaining")
	}
}

func TestLimiter_ReserveTakesCapacity(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: {Limit: 1, WindowSeconds: 60, BurstAllowance: 1.0},
	})

	first, _ := limiter.Reserve("op", 1, 0)
	if first == nil {
		t.Fatal("Expected first reservation to succeed")
	}
	if second, _ := limiter.Reserve("op", 1, 0); second != nil {
		t.Fatal("Expected second reservation to be denied while the first is held")
	}
	if limiter.Pending() != 1 {
		t.Errorf("Expected 1 pending reservation, got %d", limiter.Pending())
	}

	if !limiter.Release(first.ID()) {
		t.Fatal("Expected release of pending reservation")
	}
	if usage := limiter.Statuses()[0].CurrentUsage; usage != 0 {
		t.Errorf("Expected released capacity to leave the window, got usage %v", usage)
	}
	if again, _ := limiter.Reserve("op", 1, 0); again == nil {
		t.Error("Expected reservation to succeed after release")
	}
	if limiter.Release(first.ID()) {
		t.Error("Expected second release of the same reservation to fail")
	}
}

func TestLimiter_ConcurrentReserveLastUnit(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(2, 60),
	})
	limiter.Record(1, 0)

	const callers = 10
	var (
		wg       sync.WaitGroup
		reserved = make(chan *Reservation, callers)
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if res, _ := limiter.Reserve("op", 1, 0); res != nil {
				reserved <- res
			}
		}()
	}
	close(start)
	wg.Wait()
	close(reserved)

	// Every admission is decided before any usage is settled
	admitted := 0
	for res := range reserved {
		admitted++
		limiter.Settle(res.ID(), "op", 1, 0)
	}

	if admitted != 1 {
		t.Errorf("Expected exactly 1 of %d callers admitted for the last unit, got %d", callers, admitted)
	}
	if usage := limiter.Statuses()[0].CurrentUsage; usage > 2.4 {
		t.Errorf("Expected window usage within limit*burst 2.4, got %v", usage)
	}
}

func TestLimiter_SettleAdjustsToMeasured(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		TokensPerMinute: NewRateLimit(1000, 60),
		CostPerHour:     NewRateLimit(10, 3600),
	})

	res, _ := limiter.Reserve("chat", 400, 0.5)
	if res == nil {
		t.Fatal("Expected reservation to succeed")
	}
	if !limiter.Settle(res.ID(), "chat", 150, 0.2) {
		t.Fatal("Expected settle to find the reservation")
	}

	usage := map[RateLimitType]float64{}
	for _, s := range limiter.Statuses() {
		usage[s.LimitType] = s.CurrentUsage
	}
	if usage[TokensPerMinute] != 150 {
		t.Errorf("Expected token window at measured 150, got %v", usage[TokensPerMinute])
	}
	if usage[CostPerHour] != 0.2 {
		t.Errorf("Expected cost window at measured 0.2, got %v", usage[CostPerHour])
	}

	// 1200 capacity, 400 reserved, 250 refunded
	if got := limiter.buckets[TokensPerMinute].Status().CurrentTokens; got < 1049 || got > 1051.5 {
		t.Errorf("Expected ~1050 bucket tokens after settle, got %v", got)
	}
	if limiter.Pending() != 0 {
		t.Errorf("Expected no pending reservations, got %d", limiter.Pending())
	}
}

func TestLimiter_SettleOldestForOperation(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(100, 60),
	})

	limiter.Reserve("embed", 1, 0)
	chat, _ := limiter.Reserve("chat", 1, 0)

	if !limiter.Settle(0, "chat", 1, 0) {
		t.Fatal("Expected settle by operation to find the chat reservation")
	}
	if limiter.Pending() != 1 {
		t.Errorf("Expected embed reservation still pending, got %d", limiter.Pending())
	}
	if limiter.Release(chat.ID()) {
		t.Error("Expected settled reservation to be gone")
	}
	if limiter.Settle(0, "summarize", 1, 0) {
		t.Error("Expected no reservation for an operation that never reserved")
	}
}

func TestLimiter_PendingExpires(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: {Limit: 10, WindowSeconds: 1},
	})

	limiter.Reserve("op", 1, 0)
	time.Sleep(1100 * time.Millisecond)

	if res, _ := limiter.Reserve("op", 1, 0); res == nil {
		t.Fatal("Expected reservation to succeed")
	}
	if limiter.Pending() != 1 {
		t.Errorf("Expected abandoned reservation to expire, got %d pending", limiter.Pending())
	}
}

func TestLimiter_ReportsAllStatuses(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(100, 60),
		TokensPerMinute:   NewRateLimit(1000, 60),
		CostPerHour:       NewRateLimit(1, 3600),
	})

	res, statuses := limiter.Reserve("op", 10, 5.0)
	if res != nil {
		t.Error("Expected cost limit to deny request")
	}
	if len(statuses) != 3 {
		t.Fatalf("Expected 3 statuses, got %d", len(statuses))
	}

	exceeded := map[RateLimitType]bool{}
	for _, s := range statuses {
		exceeded[s.LimitType] = s.IsExceeded
	}
	if exceeded[RequestsPerMinute] || exceeded[TokensPerMinute] {
		t.Error("Expected count limits to be within bounds")
	}
	if !exceeded[CostPerHour] {
		t.Error("Expected cost_per_hour to be exceeded")
	}

	// The limits that fit gave their share back
	for _, s := range limiter.Statuses() {
		if s.CurrentUsage != 0 {
			t.Errorf("Expected %s usage 0 after denied request, got %v", s.LimitType, s.CurrentUsage)
		}
	}
}

func TestLimiter_BurstAllowance(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		TokensPerMinute: {Limit: 1000, WindowSeconds: 60, BurstAllowance: 1.5},
	})

	// 1400 tokens fits under 1000 * 1.5
	res, _ := limiter.Reserve("op", 1400, 0)
	if res == nil {
		t.Fatal("Expected request within burst allowance to be allowed")
	}
	limiter.Release(res.ID())

	if res, _ := limiter.Reserve("op", 1600, 0); res != nil {
		t.Error("Expected request beyond burst allowance to be denied")
	}
}

func TestLimiter_RecordNeverRejects(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		TokensPerMinute: NewRateLimit(100, 60),
	})

	limiter.Record(1000, 0)

	statuses := limiter.Statuses()
	if statuses[0].CurrentUsage != 1000 {
		t.Errorf("Expected recorded usage 1000, got %v", statuses[0].CurrentUsage)
	}
	if !statuses[0].IsExceeded {
		t.Error("Expected status to report exceeded")
	}
}

func TestLimiter_UpdatePartial(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(3000, 60),
		CostPerDay:        NewRateLimit(500, 86400),
	})
	limiter.Record(1, 2.5)

	if err := limiter.Update(map[RateLimitType]RateLimit{
		RequestsPerMinute: {Limit: 100, WindowSeconds: 60},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	limits := limiter.Limits()
	if limits[RequestsPerMinute].Limit != 100 {
		t.Errorf("Expected requests limit 100, got %d", limits[RequestsPerMinute].Limit)
	}
	if limits[RequestsPerMinute].BurstAllowance != DefaultBurstAllowance {
		t.Errorf("Expected default burst on updated limit, got %v", limits[RequestsPerMinute].BurstAllowance)
	}
	if limits[CostPerDay] != NewRateLimit(500, 86400) {
		t.Errorf("Expected cost_per_day untouched, got %+v", limits[CostPerDay])
	}

	// State survives reconfiguration
	for _, s := range limiter.Statuses() {
		if s.LimitType == CostPerDay && s.CurrentUsage != 2.5 {
			t.Errorf("Expected cost usage 2.5 after update, got %v", s.CurrentUsage)
		}
	}
}

func TestLimiter_UpdateRejectsInvalid(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: NewRateLimit(10, 60),
	})

	err := limiter.Update(map[RateLimitType]RateLimit{
		RequestsPerMinute:        NewRateLimit(20, 60),
		RateLimitType("per_eon"): NewRateLimit(1, 1),
	})
	if !errors.Is(err, ErrInvalidLimitType) {
		t.Errorf("Expected ErrInvalidLimitType, got %v", err)
	}
	if got := limiter.Limits()[RequestsPerMinute].Limit; got != 10 {
		t.Errorf("Expected rejected update to apply nothing, got limit %d", got)
	}

	err = limiter.Update(map[RateLimitType]RateLimit{
		TokensPerMinute: {Limit: -5, WindowSeconds: 60},
	})
	if !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("Expected ErrInvalidLimit, got %v", err)
	}
}

func TestLimiter_RecommendedDelay(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		RequestsPerMinute: {Limit: 1, WindowSeconds: 60, BurstAllowance: 1.0},
		CostPerHour:       NewRateLimit(100, 3600),
	})

	if delay := limiter.RecommendedDelay("op"); delay != 0 {
		t.Errorf("Expected no delay on idle limiter, got %v", delay)
	}

	limiter.Record(1, 0.01)

	delay := limiter.RecommendedDelay("op")
	if delay < 55*time.Second || delay > 60*time.Second {
		t.Errorf("Expected delay close to the 60s window, got %v", delay)
	}
}

func TestLimiter_RecommendedDelayCostOnly(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		CostPerHour: NewRateLimit(10, 3600),
	})

	limiter.Record(0, 1)
	if delay := limiter.RecommendedDelay("op"); delay != 0 {
		t.Errorf("Expected no delay below cost limit, got %v", delay)
	}

	limiter.Record(0, 20)
	if delay := limiter.RecommendedDelay("op"); delay < time.Hour-time.Minute {
		t.Errorf("Expected delay near one hour, got %v", delay)
	}
}

func TestLimiter_RetryAfterLargeRequest(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		TokensPerMinute: NewRateLimit(100, 60),
	})
	limiter.Record(50, 0)

	// 50 + 100 passes 120 although the window is under half full
	if res, _ := limiter.Reserve("op", 100, 0); res != nil {
		t.Fatal("Expected 100-token request to be denied")
	}

	wait := limiter.RetryAfter(100, 0)
	if wait < 55*time.Second || wait > 60*time.Second {
		t.Errorf("Expected wait until the 50-token entry expires (~60s), got %v", wait)
	}
	if delay := limiter.RecommendedDelay("op"); delay < wait-time.Second {
		t.Errorf("Expected recommended delay to cover the denied request, got %v", delay)
	}
	if delay := limiter.RecommendedDelay("other"); delay >= wait {
		t.Errorf("Expected other operations unaffected, got %v", delay)
	}

	if wait := limiter.RetryAfter(10, 0); wait != 0 {
		t.Errorf("Expected no wait for a request that fits, got %v", wait)
	}
}

func TestLimiter_RetryAfterOversized(t *testing.T) {
	limiter, _ := NewLimiter(map[RateLimitType]RateLimit{
		CostPerHour: NewRateLimit(10, 3600),
	})

	if wait := limiter.RetryAfter(0, 50); wait != time.Hour {
		t.Errorf("Expected full window for a request that never fits, got %v", wait)
	}
}
