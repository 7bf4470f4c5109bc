package ratelimit

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Limiter coordinates every configured limit type for one service.
//
// Each limit type owns a SlidingWindowCounter; count-based types also own a
// TokenBucket with capacity limit*burst and refill rate limit/window. All
// configured limits are evaluated together: if any is exceeded, the request
// is rejected, and the statuses of all limits are reported.
//
// Admission reserves the estimate (Reserve) and completion settles it with
// the measured amounts (Settle). Reservations that are never settled or
// released are forgotten after the longest configured window.
//
// # Thread Safety
//
// The limit map is guarded by an RWMutex that is only write-locked by
// Update. Bucket and window mutations are serialized by each primitive's
// own lock, so unrelated limit types never contend. resMu guards only the
// pending reservation list.
type Limiter struct {
	mu      sync.RWMutex
	limits  map[RateLimitType]RateLimit
	buckets map[RateLimitType]*TokenBucket
	windows map[RateLimitType]*SlidingWindowCounter

	resMu   sync.Mutex
	pending []*Reservation
	nextID  uint64
	denied  map[string]estimate
}

// NewLimiter creates a limiter for the given limit set.
//
// Example:
//
//	limiter, err := NewLimiter(map[RateLimitType]RateLimit{
//	    RequestsPerMinute: NewRateLimit(3000, 60),
//	    CostPerDay:        NewRateLimit(500, 86400),
//	})
func NewLimiter(limits map[RateLimitType]RateLimit) (*Limiter, error) {
	l := &Limiter{
		limits:  make(map[RateLimitType]RateLimit, len(limits)),
		buckets: make(map[RateLimitType]*TokenBucket),
		windows: make(map[RateLimitType]*SlidingWindowCounter),
		denied:  make(map[string]estimate),
	}
	if err := l.Update(limits); err != nil {
		return nil, err
	}
	return l, nil
}

// Reservation holds capacity taken by an admitted request until its
// measured usage is settled or the reservation is released.
type Reservation struct {
	id        uint64
	operation string
	at        time.Time
	holds     map[RateLimitType]hold
}

// hold is the capacity one limit type reserved: a window entry and, for
// count-based types, the same amount taken from the bucket.
type hold struct {
	seq    uint64
	amount float64
}

// ID identifies the reservation within its limiter.
func (r *Reservation) ID() uint64 {
	return r.id
}

// maxDeniedOperations bounds the denied-request memory per limiter.
const maxDeniedOperations = 1024

// estimate is the size of a denied request, kept for delay recommendations.
type estimate struct {
	tokens float64
	cost   float64
}

// Reserve admits a request if it fits every configured limit and takes its
// estimated amounts from them.
//
// For each limit type the test and the deduction run under that
// primitive's lock: the bucket with Consume, the window with TryAdd. Two
// concurrent callers therefore cannot both take the last unit of capacity.
// If any limit rejects, everything taken by this call is given back and
// the reservation is nil.
//
// A limit is reported exceeded when its window total plus the request's
// amount would pass limit*burst, or, for count-based limits, when the
// bucket cannot currently afford the amount. Statuses report usage before
// the request.
func (l *Limiter) Reserve(operation string, tokens, cost float64) (*Reservation, []RateLimitStatus) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	res := &Reservation{operation: operation, at: now, holds: make(map[RateLimitType]hold)}
	allowed := true
	statuses := make([]RateLimitStatus, 0, len(l.limits))

	for _, t := range Types() {
		rl, ok := l.limits[t]
		if !ok {
			continue
		}
		status := l.statusLocked(t, rl, now)
		status.IsExceeded = !l.holdLocked(res, t, rl, t.Amount(tokens, cost))
		if status.IsExceeded {
			allowed = false
		}
		statuses = append(statuses, status)
	}

	l.resMu.Lock()
	defer l.resMu.Unlock()

	if !allowed {
		l.releaseLocked(res)
		if len(l.denied) >= maxDeniedOperations {
			clear(l.denied)
		}
		l.denied[operation] = estimate{tokens: tokens, cost: cost}
		return nil, statuses
	}

	delete(l.denied, operation)
	l.expireLocked(now)
	l.nextID++
	res.id = l.nextID
	l.pending = append(l.pending, res)
	return res, statuses
}

// holdLocked takes amount from limit type t for res. Caller must hold at
// least a read lock on l.mu.
func (l *Limiter) holdLocked(res *Reservation, t RateLimitType, rl RateLimit, amount float64) bool {
	bucket := l.buckets[t]
	if t.Kind() == KindCount && !bucket.Consume(amount) {
		return false
	}

	seq, ok := l.windows[t].TryAdd(amount, rl.Effective())
	if !ok {
		if t.Kind() == KindCount {
			bucket.Refund(amount)
		}
		return false
	}
	if seq != 0 {
		res.holds[t] = hold{seq: seq, amount: amount}
	}
	return true
}

// Settle replaces the estimate held by a pending reservation with measured
// usage. With id 0 the oldest pending reservation for operation is used.
//
// Window entries keep their reservation time and take the measured amount.
// Buckets are charged the difference: more usage than estimated drains the
// bucket further, less refunds it. Limit types the reservation holds
// nothing for are recorded as in Record.
//
// It returns false, changing nothing, when no matching reservation is
// pending; the caller then records the usage with Record.
func (l *Limiter) Settle(id uint64, operation string, tokens, cost float64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := l.takePending(id, operation)
	if res == nil {
		return false
	}

	for t := range l.limits {
		amount := t.Amount(tokens, cost)
		h, ok := res.holds[t]
		if !ok {
			l.recordLocked(t, amount)
			continue
		}

		if !l.windows[t].Settle(h.seq, amount) && amount > 0 {
			l.windows[t].AddRequest(amount)
		}
		if t.Kind() != KindCount {
			continue
		}
		switch delta := amount - h.amount; {
		case delta > 0:
			l.buckets[t].Drain(delta)
		case delta < 0:
			l.buckets[t].Refund(-delta)
		}
	}
	return true
}

// Release gives back everything a pending reservation holds, for a call
// that was admitted but never made. It returns false if id is not pending.
func (l *Limiter) Release(id uint64) bool {
	if id == 0 {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	l.resMu.Lock()
	defer l.resMu.Unlock()

	res := l.removePendingLocked(id, "")
	if res == nil {
		return false
	}
	l.releaseLocked(res)
	return true
}

// Pending returns the number of reservations awaiting settlement.
func (l *Limiter) Pending() int {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	return len(l.pending)
}

// Record feeds measured usage into every configured limit. It never
// rejects: buckets are drained, flooring at zero.
func (l *Limiter) Record(tokens, cost float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for t := range l.limits {
		l.recordLocked(t, t.Amount(tokens, cost))
	}
}

// recordLocked adds amount to limit type t. Caller must hold at least a
// read lock on l.mu.
func (l *Limiter) recordLocked(t RateLimitType, amount float64) {
	if amount <= 0 {
		return
	}
	if t.Kind() == KindCount {
		l.buckets[t].Drain(amount)
	}
	l.windows[t].AddRequest(amount)
}

// RetryAfter estimates how long until a request of the given size would
// fit every configured limit: for each limit, the time until enough window
// entries expire to leave room for the amount, and for count-based limits
// the time until the bucket holds it. The longest wait decides.
//
// A request larger than limit*burst never fits; its wait is the full
// window length.
func (l *Limiter) RetryAfter(tokens, cost float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var wait time.Duration
	for t, rl := range l.limits {
		amount := t.Amount(tokens, cost)
		wait = max(wait, l.windows[t].TimeUntilBelow(rl.Effective()-amount))
		if t.Kind() == KindCount {
			wait = max(wait, l.buckets[t].TimeUntilAvailable(amount))
		}
	}
	return wait
}

// takePending removes and returns the reservation to settle, or nil.
func (l *Limiter) takePending(id uint64, operation string) *Reservation {
	l.resMu.Lock()
	defer l.resMu.Unlock()

	l.expireLocked(time.Now())
	return l.removePendingLocked(id, operation)
}

// removePendingLocked removes reservation id, or with id 0 the oldest one
// for operation. Caller must hold resMu.
func (l *Limiter) removePendingLocked(id uint64, operation string) *Reservation {
	i := slices.IndexFunc(l.pending, func(r *Reservation) bool {
		if id != 0 {
			return r.id == id
		}
		return r.operation == operation
	})
	if i < 0 {
		return nil
	}
	res := l.pending[i]
	l.pending = slices.Delete(l.pending, i, i+1)
	return res
}

// releaseLocked returns the capacity held by res. Caller must hold at
// least a read lock on l.mu.
func (l *Limiter) releaseLocked(res *Reservation) {
	for t, h := range res.holds {
		if w, ok := l.windows[t]; ok {
			w.Remove(h.seq)
		}
		if b, ok := l.buckets[t]; ok {
			b.Refund(h.amount)
		}
	}
}

// expireLocked forgets reservations older than the longest configured
// window. Their window entries have expired, and what they took from the
// buckets stays spent. Caller must hold resMu and a read lock on l.mu.
func (l *Limiter) expireLocked(now time.Time) {
	var longest time.Duration
	for _, rl := range l.limits {
		longest = max(longest, rl.Window())
	}
	cutoff := now.Add(-longest)

	i := 0
	for i < len(l.pending) && l.pending[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.pending = slices.Delete(l.pending, 0, i)
	}
}

// Statuses returns the current status of every configured limit. A limit
// is reported exceeded when its window has already reached limit*burst.
func (l *Limiter) Statuses() []RateLimitStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	statuses := make([]RateLimitStatus, 0, len(l.limits))
	for _, t := range Types() {
		rl, ok := l.limits[t]
		if !ok {
			continue
		}
		status := l.statusLocked(t, rl, now)
		status.IsExceeded = status.CurrentUsage >= rl.Effective()
		statuses = append(statuses, status)
	}
	return statuses
}

// RecommendedDelay estimates how long a caller should wait before retrying
// operation.
//
// The most utilized limit (window total over limit*burst) decides. At or
// above full utilization the wait is the time until that window's oldest
// entry expires, or the bucket wait if longer. Below it, count-based limits
// wait for one unit of bucket capacity and cost-based limits do not wait.
// When the last request of operation was denied, the wait is at least the
// RetryAfter of that request's size, so a large request that does not fit
// is not told to retry immediately.
func (l *Limiter) RecommendedDelay(operation string) time.Duration {
	delay := l.saturationDelay()

	l.resMu.Lock()
	last, denied := l.denied[operation]
	l.resMu.Unlock()

	if denied {
		delay = max(delay, l.RetryAfter(last.tokens, last.cost))
	}
	return delay
}

func (l *Limiter) saturationDelay() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		worst       RateLimitType
		utilization = -1.0
	)
	for _, t := range Types() {
		rl, ok := l.limits[t]
		if !ok {
			continue
		}
		u := l.windows[t].Count() / rl.Effective()
		if u > utilization {
			worst, utilization = t, u
		}
	}
	if utilization < 0 {
		return 0
	}

	var bucketWait time.Duration
	if worst.Kind() == KindCount {
		bucketWait = l.buckets[worst].TimeUntilAvailable(1)
	}

	if utilization >= 1 {
		return max(l.windows[worst].Remaining(), bucketWait)
	}
	return bucketWait
}

// Limits returns a copy of the configured limits.
func (l *Limiter) Limits() map[RateLimitType]RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.limits)
}

// Update replaces the named limits, leaving the others untouched.
//
// Existing bucket and window state is kept: a bucket is reconfigured in
// place and a window keeps its entries under the new length. The whole
// update is validated before anything is applied.
func (l *Limiter) Update(limits map[RateLimitType]RateLimit) error {
	for t, rl := range limits {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidLimitType, t)
		}
		if err := rl.Validate(); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for t, rl := range limits {
		rl = rl.WithDefaults()
		l.limits[t] = rl

		if w, ok := l.windows[t]; ok {
			w.SetWindow(rl.Window())
		} else {
			l.windows[t] = NewSlidingWindowCounter(rl.Window())
		}

		if t.Kind() != KindCount {
			continue
		}
		if b, ok := l.buckets[t]; ok {
			b.Reconfigure(rl.Effective(), rl.RefillRate())
		} else {
			l.buckets[t] = NewTokenBucket(rl.Effective(), rl.RefillRate())
		}
	}
	return nil
}

// statusLocked builds a status without the exceeded flag.
// Caller must hold at least a read lock.
func (l *Limiter) statusLocked(t RateLimitType, rl RateLimit, now time.Time) RateLimitStatus {
	w := l.windows[t]
	remaining := w.Remaining()
	return RateLimitStatus{
		LimitType:              t,
		CurrentUsage:           w.Count(),
		Limit:                  rl.Limit,
		WindowRemainingSeconds: remaining.Seconds(),
		ResetTime:              now.Add(remaining),
	}
}
