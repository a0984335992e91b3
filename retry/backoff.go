// Package retry implements the exponential backoff used by the client
// channel's reconnect loop. The delay doubles on each consecutive failed
// connect, capped at max, and the channel resets it to min each time it
// delivers a successful response; a successful connect alone does not reset
// it.
package retry

import (
	"sync"
	"time"
)

// Backoff tracks the delay before the next reconnect attempt. It doubles on
// every call to Failure, saturating at Max, and returns to Min on Reset.
// Safe for concurrent use: every method takes an internal mutex.
type Backoff struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	current time.Duration
}

// New builds a Backoff that starts at min and never exceeds max. If max < min
// it is raised to min.
func New(min, max time.Duration) *Backoff {
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, current: min}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Failure doubles the delay for the next attempt, capped at max.
func (b *Backoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	doubled := b.current * 2
	if doubled <= 0 || doubled > b.max { // overflow or cap
		doubled = b.max
	}
	b.current = doubled
}

// Reset returns the delay to min. Called after any successful request is
// delivered, per the channel's backoff-reset invariant.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.min
}
