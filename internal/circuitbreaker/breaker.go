// Package circuitbreaker provides a single-circuit breaker with
// closed → open → half-open state transitions.
//
// The poll loop uses it to stop hammering a backend that is consistently
// failing: after threshold consecutive failures the circuit opens, polls are
// skipped until openDuration elapses, then one probe poll is allowed.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive failures and trips open when they exceed the
// threshold. After openDuration it moves to half-open and allows one probe.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow returns true if a request should be attempted. If the circuit is open
// and openDuration has elapsed, it transitions to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.openDuration {
			b.state = StateHalfOpen
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Already probing — reject until probe completes
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure counts a failure. Consecutive failures past the threshold
// trip the circuit open; a failed probe reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.state == StateClosed && b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
