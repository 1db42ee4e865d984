// Package breaker implements the per-agent circuit breaker described in
// the dialogue engine's fault-tolerance model: consecutive provider
// failures trip the circuit, a cooldown gates recovery, and a single
// half-open probe decides whether to close or re-open.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota // normal operation, calls pass through
	Open                // tripped, calls rejected until cooldown elapses
	HalfOpen            // cooldown elapsed, probe calls allowed until the next recorded outcome
)

// String returns a human-readable label for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// DefaultFailureThreshold and DefaultCooldown are the breaker's defaults
// when the caller passes a non-positive value.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// CircuitBreaker guards a single agent's calls to its bound provider.
// failureThreshold consecutive failures trip it open; after cooldown
// elapses it moves to half-open, where Allow admits calls until the next
// recorded outcome closes the circuit (success) or re-opens it (failure).
// Allow does not limit half-open to a single in-flight call.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            State
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
}

// New creates a circuit breaker. A non-positive failureThreshold or
// cooldown falls back to the package defaults.
func New(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed. It also performs the
// open-to-half-open transition as a side effect when the cooldown has
// elapsed, so callers should call Allow immediately before the call
// they intend to make.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return false
}

// IsOpen reports whether the breaker is currently rejecting calls. Unlike
// Allow, this never mutates state and returns true only in the Open
// state — a half-open probe slot is not "open" for reporting purposes.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == Open
}

// RecordSuccess reports a successful call. In HalfOpen it closes the
// circuit; in any state it clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == HalfOpen {
		cb.state = Closed
	}
}

// RecordFailure reports a failed call. A failure while HalfOpen reopens
// the circuit immediately; a failure while Closed trips it once
// failureCount reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.state == HalfOpen {
		cb.state = Open
		cb.openedAt = time.Now()
		return
	}
	if cb.failureCount >= cb.failureThreshold {
		cb.state = Open
		cb.openedAt = time.Now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to Closed with a clean failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failureCount = 0
}
