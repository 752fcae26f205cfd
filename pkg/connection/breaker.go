// Package connection owns the broker transport lifecycle: connect and
// reconnect with exponential backoff, a circuit breaker over repeated
// failures, and a health probe.
package connection

import (
	"sync"
	"time"
)

// BreakerState is a circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

const (
	// DefaultFailureThreshold opens the circuit after this many
	// consecutive failures.
	DefaultFailureThreshold = 5

	// DefaultRecoveryTimeout is the cooldown before a half-open probe.
	DefaultRecoveryTimeout = 60 * time.Second

	// DefaultSuccessThreshold closes a half-open circuit after this many
	// consecutive successes.
	DefaultSuccessThreshold = 2
)

// Breaker guards the transport against hammering a dead endpoint. It has
// its own lock; critical sections are a few comparisons, never I/O.
type Breaker struct {
	mu    sync.Mutex
	clock func() time.Time

	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker with the default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		clock:            time.Now,
		failureThreshold: DefaultFailureThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
		successThreshold: DefaultSuccessThreshold,
		state:            BreakerClosed,
	}
}

// WithThresholds overrides the trip points.
func (b *Breaker) WithThresholds(failures int, recovery time.Duration, successes int) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureThreshold = failures
	b.recoveryTimeout = recovery
	b.successThreshold = successes
	return b
}

// WithClock overrides the time source for testing.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// CanAttempt reports whether an operation may proceed. An open circuit
// past its recovery timeout flips to half-open and admits one probe.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.lastFailure.IsZero() || b.clock().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		// CLOSED and HALF_OPEN both admit attempts.
		return true
	}
}

// RecordSuccess clears the failure streak and, in half-open, counts toward
// closing the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.successes = 0
		}
	}
}

// RecordFailure counts toward the trip point. Any failure in half-open
// reopens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.successes = 0
	b.lastFailure = b.clock()
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset returns the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}
