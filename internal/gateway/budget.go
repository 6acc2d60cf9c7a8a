package gateway

import (
	"sync"
	"time"
)

const (
	callWindow      = time.Hour
	paceSampleSize  = 10
	paceMinInterval = time.Second
)

// RateBudget tracks the remaining call allowance against the remote API.
// Local bookkeeping is a fallback estimate; authoritative values reported
// by the API overwrite it through Update.
type RateBudget struct {
	mu        sync.Mutex
	remaining int
	ceiling   int
	resetAt   time.Time
	recent    []time.Time

	now func() time.Time
}

func NewRateBudget(ceiling int) *RateBudget {
	return &RateBudget{
		remaining: ceiling,
		ceiling:   ceiling,
		resetAt:   time.Now().Add(callWindow),
		now:       time.Now,
	}
}

// Update overwrites the local estimate with server-reported values.
func (b *RateBudget) Update(remaining, ceiling int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = remaining
	if ceiling > 0 {
		b.ceiling = ceiling
	}
	if !resetAt.IsZero() {
		b.resetAt = resetAt
	}
}

// Snapshot returns remaining, ceiling and reset time under the lock.
func (b *RateBudget) Snapshot() (int, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRollover()
	return b.remaining, b.ceiling, b.resetAt
}

// Record counts one call: decrements the remaining allowance and pushes a
// timestamp into the rolling window, trimming expired entries.
func (b *RateBudget) Record() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRollover()
	if b.remaining > 0 {
		b.remaining--
	}

	now := b.now()
	b.recent = append(b.recent, now)
	cutoff := now.Add(-callWindow)
	for len(b.recent) > 0 && b.recent[0].Before(cutoff) {
		b.recent = b.recent[1:]
	}
}

// paceDelay inspects the average interval between the last few calls and
// returns a short delay when they arrive faster than once per second.
func (b *RateBudget) paceDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.recent) < paceSampleSize {
		return 0
	}
	sample := b.recent[len(b.recent)-paceSampleSize:]
	elapsed := sample[len(sample)-1].Sub(sample[0])
	avg := elapsed / time.Duration(len(sample)-1)
	if avg < paceMinInterval {
		return paceMinInterval - avg
	}
	return 0
}

// maybeRollover resets the estimate when the reset time has passed.
// Callers hold b.mu.
func (b *RateBudget) maybeRollover() {
	now := b.now()
	if !now.Before(b.resetAt) {
		b.remaining = b.ceiling
		b.resetAt = now.Add(callWindow)
	}
}
