package provider

import (
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state of a provider.
type CircuitState int

// Circuit breaker states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// breaker tracks the health of a single provider. The circuit opens after
// FailureThreshold consecutive failures, stays open for Cooldown, then
// admits exactly one half-open probe. It is shared across all concurrent
// requests for the provider; every transition is a single locked operation.
type breaker struct {
	cfg HealthConfig

	// onStateChange is called outside the lock whenever the circuit
	// transitions. It keeps the breaker decoupled from logging and metrics.
	onStateChange func(from, to CircuitState)

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// newBreaker creates a closed breaker with the given config.
func newBreaker(cfg HealthConfig) *breaker {
	cfg.defaults()
	return &breaker{
		cfg:   cfg,
		state: CircuitClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may be dispatched. When the open-state
// cooldown has elapsed it transitions to half-open and admits the caller as
// the single probe; probe is true in that case and the caller must resolve
// it via RecordSuccess, RecordFailure, or ReleaseProbe.
func (b *breaker) Allow() (ok, probe bool) {
	b.mu.Lock()

	var transition func()
	switch b.state {
	case CircuitClosed:
		ok = true

	case CircuitOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			prev := b.state
			b.state = CircuitHalfOpen
			b.probeInFlight = true
			ok, probe = true, true
			transition = b.notify(prev, CircuitHalfOpen)
		}

	case CircuitHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			ok, probe = true, true
		}
	}
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
	return ok, probe
}

// RecordSuccess records a successful call. A successful probe closes the
// circuit and clears the failure count; in the closed state only the count
// resets. A late success from a stream that committed before the circuit
// opened leaves the open state alone: closing again takes the cooldown and
// probe path.
func (b *breaker) RecordSuccess(probe bool) {
	b.mu.Lock()
	prev := b.state
	switch {
	case probe:
		b.state = CircuitClosed
		b.failures = 0
		b.probeInFlight = false
	case b.state == CircuitClosed:
		b.failures = 0
	}
	transition := b.notify(prev, b.state)
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// RecordFailure records a failed call. A failed probe reopens the circuit
// immediately; in the closed state the circuit opens exactly when the
// consecutive failure count reaches the configured threshold.
func (b *breaker) RecordFailure(probe bool) {
	b.mu.Lock()
	prev := b.state
	b.failures++

	if probe {
		b.state = CircuitOpen
		b.openedAt = b.now()
		b.probeInFlight = false
	} else if b.state == CircuitClosed && b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
	transition := b.notify(prev, b.state)
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// ReleaseProbe abandons a half-open probe slot without a verdict, e.g. when
// rate admission rejected the probing call before it was dispatched.
func (b *breaker) ReleaseProbe() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// notify returns a deferred state-change callback, or nil when the state did
// not change. Must be called with the lock held; the result is invoked after
// unlocking.
func (b *breaker) notify(from, to CircuitState) func() {
	if from == to || b.onStateChange == nil {
		return nil
	}
	cb := b.onStateChange
	return func() { cb(from, to) }
}

// State returns the current circuit state.
func (b *breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
