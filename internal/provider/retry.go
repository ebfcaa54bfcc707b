package provider

import (
	"math/rand/v2"
	"time"
)

// RetryDecision is the outcome of consulting the retry policy after a
// failed adapter call.
type RetryDecision int

// Retry policy outcomes.
const (
	// RetrySameProvider retries the same candidate after the returned delay.
	RetrySameProvider RetryDecision = iota

	// AdvanceChain moves to the next candidate immediately.
	AdvanceChain
)

// String returns a human-readable label for the decision.
func (d RetryDecision) String() string {
	if d == RetrySameProvider {
		return "retry"
	}
	return "advance"
}

// Decide is the retry policy for a single candidate provider. attempt is the
// zero-based index of the call that just failed; the candidate's total call
// budget is MaxAttempts, so the last admissible retry is the one bringing
// the call count up to MaxAttempts.
//
// A retry is granted only for retryable errors (optionally restricted to
// RetryableCodes). The delay is exponential with a cap, plus uniform jitter
// in [0, 10%] of the computed delay to avoid synchronized retry storms, and
// never below a provider-supplied retry-after hint.
func (c RetryConfig) Decide(err error, attempt int) (RetryDecision, time.Duration) {
	if !IsRetryable(err) || attempt+1 >= c.MaxAttempts {
		return AdvanceChain, 0
	}
	if len(c.RetryableCodes) > 0 && !containsCode(c.RetryableCodes, ErrorCodeOf(err)) {
		return AdvanceChain, 0
	}

	delay := c.backoff(attempt)
	delay += time.Duration(rand.Float64() * float64(delay) * 0.1)

	if hint := RetryAfterHint(err); hint > delay {
		delay = hint
	}
	return RetrySameProvider, delay
}

// backoff computes the capped exponential delay for the given attempt,
// before jitter and retry-after flooring.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := c.BaseBackoff
	for i := 0; i < attempt && delay < c.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}

// containsCode reports whether codes includes code.
func containsCode(codes []ErrorCode, code ErrorCode) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
