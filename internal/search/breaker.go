package search

import (
	"log/slog"
	"sync"
	"time"
)

// Breaker isolates the search path from a failing index.
type Breaker interface {
	// Allow reports whether a call may proceed.
	Allow() bool
	// Success records a successful call.
	Success()
	// Failure records a failed call.
	Failure()
}

// BreakerState is the observable state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker opens after threshold consecutive failures and rejects calls
// for cooldown. After the cooldown one trial call is let through: success
// closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
	trial     bool
}

var _ Breaker = (*CircuitBreaker)(nil)

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the breaker's time source.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return false
	}
}

func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openUntil.IsZero() {
		slog.Info("CircuitBreaker.Success: closing breaker")
	}
	b.failures = 0
	b.openUntil = time.Time{}
	b.trial = false
}

func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.trial || b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		b.trial = false
		slog.Warn("CircuitBreaker.Failure: breaker open", "failures", b.failures, "until", b.openUntil)
	}
}

// State reports the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() BreakerState {
	if b.openUntil.IsZero() {
		return BreakerClosed
	}
	if b.now().Before(b.openUntil) {
		return BreakerOpen
	}
	return BreakerHalfOpen
}
