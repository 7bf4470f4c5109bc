package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket allows bursts up to its capacity while maintaining an average
// rate over time. Tokens are fractional so that low per-second rates (for
// example 3000 requests per minute) refill smoothly.
//
// # Algorithm
//
//  1. Calculate tokens to add based on elapsed time since last refill
//  2. Add tokens (up to capacity)
//  3. Check if enough tokens are available for the request
//  4. If yes: deduct and allow
//  5. If no: leave state unchanged and reject
//
// Refill is lazy. There is no background timer; every operation
// recomputes the balance from elapsed time first.
//
// # Reconfiguration
//
// Reconfigure changes capacity and rate without resetting the balance. A
// bucket whose capacity shrinks below its balance stays over capacity until
// consumption brings it back down; refill never adds to such a bucket.
//
// # Thread Safety
//
// TokenBucket is thread-safe using sync.Mutex for all operations.
type TokenBucket struct {
	capacity   float64   // Maximum tokens in bucket
	tokens     float64   // Current available tokens
	refillRate float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	mu         sync.Mutex
}

// BucketStatus is a snapshot of a bucket's balance.
type BucketStatus struct {
	CurrentTokens float64 `json:"current_tokens"`
	Capacity      float64 `json:"capacity"`
}

// NewTokenBucket creates a full token bucket.
//
// Parameters:
//   - capacity: Maximum number of tokens in the bucket (burst size)
//   - refillRate: Number of tokens added per second (average rate)
//
// Example:
//
//	// 3000 requests/minute with 20% burst
//	bucket := NewTokenBucket(3600, 50)
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity, // Start with full bucket
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Consume attempts to take n tokens from the bucket.
// Returns true if tokens were available and deducted, false otherwise.
// Requesting more than the capacity always fails.
func (tb *TokenBucket) Consume(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

// Drain deducts n tokens unconditionally, flooring the balance at zero.
// It records usage that has already happened and therefore never rejects.
func (tb *TokenBucket) Drain(n float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	tb.tokens -= n
	if tb.tokens < 0 {
		tb.tokens = 0
	}
}

// Refund returns n tokens taken by an earlier Consume, capped at capacity.
// A bucket already at or above capacity is left unchanged.
func (tb *TokenBucket) Refund(n float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if n <= 0 || tb.tokens >= tb.capacity {
		return
	}
	tb.tokens = min(tb.tokens+n, tb.capacity)
}

// Status returns the refilled balance and capacity.
func (tb *TokenBucket) Status() BucketStatus {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return BucketStatus{CurrentTokens: tb.tokens, Capacity: tb.capacity}
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.capacity
}

// Reconfigure changes capacity and refill rate, keeping the current balance.
// Elapsed time up to now is credited at the old rate first.
func (tb *TokenBucket) Reconfigure(capacity, refillRate float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	tb.capacity = capacity
	tb.refillRate = refillRate
}

// Reset resets the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// TimeUntilAvailable returns how long until n tokens will be available.
// Returns 0 if tokens are immediately available. If n exceeds capacity the
// wait is computed as if the bucket could grow to n.
func (tb *TokenBucket) TimeUntilAvailable(n float64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= n {
		return 0
	}
	if tb.refillRate <= 0 {
		return 0
	}

	secondsNeeded := (n - tb.tokens) / tb.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// refillLocked adds tokens based on elapsed time since last refill.
// Caller must hold lock.
func (tb *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	if elapsed <= 0 || tb.tokens >= tb.capacity {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}
