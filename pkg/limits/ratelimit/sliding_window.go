package ratelimit

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// SlidingWindowCounter sums weighted events over a trailing time window.
//
// Each AddRequest appends a (timestamp, amount) entry. Entries older than
// the window are purged on every read and write, so an idle counter decays
// to zero on its own without a background sweep.
//
// Entries are kept in arrival order, which lets purging stop at the first
// surviving entry. Every entry carries an increasing sequence number so a
// reserved entry can later be settled or removed.
//
// # Thread Safety
//
// SlidingWindowCounter is thread-safe using sync.Mutex for all operations.
type SlidingWindowCounter struct {
	window  time.Duration
	entries []windowEntry
	nextSeq uint64
	mu      sync.Mutex
}

type windowEntry struct {
	seq    uint64
	at     time.Time
	amount float64
}

// NewSlidingWindowCounter creates an empty counter over the given window.
func NewSlidingWindowCounter(window time.Duration) *SlidingWindowCounter {
	return &SlidingWindowCounter{window: window}
}

// AddRequest records amount at the current time.
func (w *SlidingWindowCounter) AddRequest(amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.appendLocked(now, amount)
	w.pruneLocked(now)
}

// TryAdd records amount only if the window total stays within ceiling
// afterwards. The check and the append are one step under the counter's
// lock, so two callers cannot both take the last of the capacity.
//
// It returns the sequence number of the new entry, or 0 when amount is not
// positive and nothing was added.
func (w *SlidingWindowCounter) TryAdd(amount, ceiling float64) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)

	if w.sumLocked()+amount > ceiling {
		return 0, false
	}
	if amount <= 0 {
		return 0, true
	}
	return w.appendLocked(now, amount), true
}

// Settle replaces the amount of a reserved entry, keeping its timestamp.
// It returns false if the entry has already left the window.
func (w *SlidingWindowCounter) Settle(seq uint64, amount float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(time.Now())

	i, ok := w.findLocked(seq)
	if !ok {
		return false
	}
	w.entries[i].amount = amount
	return true
}

// Remove deletes a reserved entry. It returns false if the entry has
// already left the window.
func (w *SlidingWindowCounter) Remove(seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(time.Now())

	i, ok := w.findLocked(seq)
	if !ok {
		return false
	}
	w.entries = slices.Delete(w.entries, i, i+1)
	return true
}

// Count returns the sum of amounts still inside the window.
func (w *SlidingWindowCounter) Count() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(time.Now())
	return w.sumLocked()
}

// TimeUntilBelow returns how long until the window total drops to target
// or below as entries expire. It is 0 when the total already fits. A
// negative target can never be met; the full window length is returned.
func (w *SlidingWindowCounter) TimeUntilBelow(target float64) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if target < 0 {
		return w.window
	}

	now := time.Now()
	w.pruneLocked(now)

	total := w.sumLocked()
	if total <= target {
		return 0
	}
	for i, e := range w.entries {
		total -= e.amount
		if total <= target || i == len(w.entries)-1 {
			return max(e.at.Add(w.window).Sub(now), 0)
		}
	}
	return 0
}

// Remaining returns how long until the oldest entry leaves the window.
// An empty window returns 0.
func (w *SlidingWindowCounter) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)

	if len(w.entries) == 0 {
		return 0
	}
	remaining := w.entries[0].at.Add(w.window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Window returns the configured window length.
func (w *SlidingWindowCounter) Window() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window
}

// SetWindow changes the window length. Existing entries are kept and
// judged against the new length on the next operation.
func (w *SlidingWindowCounter) SetWindow(window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.window = window
}

// Reset clears all entries.
func (w *SlidingWindowCounter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

// appendLocked adds an entry and returns its sequence number.
// Caller must hold lock.
func (w *SlidingWindowCounter) appendLocked(now time.Time, amount float64) uint64 {
	w.nextSeq++
	w.entries = append(w.entries, windowEntry{seq: w.nextSeq, at: now, amount: amount})
	return w.nextSeq
}

// findLocked locates the entry with seq. Entries are ordered by seq.
// Caller must hold lock.
func (w *SlidingWindowCounter) findLocked(seq uint64) (int, bool) {
	return slices.BinarySearchFunc(w.entries, seq, func(e windowEntry, target uint64) int {
		return cmp.Compare(e.seq, target)
	})
}

// sumLocked totals the surviving entries. Caller must hold lock.
func (w *SlidingWindowCounter) sumLocked() float64 {
	var total float64
	for _, e := range w.entries {
		total += e.amount
	}
	return total
}

// pruneLocked drops entries with timestamp < now - window.
// Caller must hold lock.
func (w *SlidingWindowCounter) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)

	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}

	n := copy(w.entries, w.entries[i:])
	clear(w.entries[n:])
	w.entries = w.entries[:n]
}
