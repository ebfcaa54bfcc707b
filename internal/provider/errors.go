package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies an adapter failure for retry and diagnostics.
type ErrorCode string

// ErrorCode constants for adapter failures.
const (
	CodeNetwork       ErrorCode = "NETWORK_ERROR"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeOverloaded    ErrorCode = "OVERLOADED"
	CodeAuth          ErrorCode = "AUTH"
	CodeBadRequest    ErrorCode = "BAD_REQUEST"
	CodeContextLength ErrorCode = "CONTEXT_LENGTH"
	CodeUnknown       ErrorCode = "UNKNOWN"
)

// Sentinel errors for provider orchestration.
var (
	// ErrUnsupportedProvider indicates no adapter factory is registered
	// for the requested kind. This is a configuration error, never retried.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrNoProvider indicates the effective chain for a request is empty.
	ErrNoProvider = errors.New("no provider available")

	// ErrCircuitOpen indicates a candidate was skipped because its
	// circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrBudgetExhausted indicates a candidate was skipped because its
	// rate or concurrency budget is exhausted.
	ErrBudgetExhausted = errors.New("rate budget exhausted")
)

// AdapterError is a typed upstream failure. Adapters map provider-specific
// errors into this form so the retry policy can act on them uniformly.
type AdapterError struct {
	Code      ErrorCode
	Message   string
	Retryable bool

	// RetryAfter is an optional delay hint derived from provider
	// rate-limit headers. Zero means no hint.
	RetryAfter time.Duration

	// Err is the underlying provider error, if any.
	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap returns the underlying provider error.
func (e *AdapterError) Unwrap() error { return e.Err }

// ConfigError indicates a provider is misconfigured. It is fatal and
// surfaced immediately, never retried.
type ConfigError struct {
	Provider string
	Reason   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: config error: %s", e.Provider, e.Reason)
}

// MalformedToolCallError reports a tool call whose accumulated arguments
// never parsed as well-formed JSON by the time the stream terminated.
// It is surfaced to the caller and does not affect health or rate state.
type MalformedToolCallError struct {
	ID   string
	Name string
	Raw  string
}

// Error implements the error interface.
func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("malformed tool call %s (%s): arguments did not parse", e.ID, e.Name)
}

// ProviderAttempt records the outcome of one candidate during a dispatch.
// Attempts is the number of adapter calls made; zero means the candidate
// was skipped before any call (circuit open or budget exhausted).
type ProviderAttempt struct {
	ProviderID string
	Attempts   int
	Err        error
}

// ChainExhaustedError is the terminal dispatch failure: every candidate in
// the effective chain was skipped or failed. It carries the last error per
// attempted provider for diagnostics.
type ChainExhaustedError struct {
	Attempts []ProviderAttempt
}

// Error implements the error interface.
func (e *ChainExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "provider chain exhausted: no candidates"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%d attempts): %v", a.ProviderID, a.Attempts, a.Err))
	}
	return "provider chain exhausted: " + strings.Join(parts, "; ")
}

// IsRetryable reports whether err is a retryable adapter failure. Context
// cancellation and deadline errors from the caller are never retryable here;
// attempt-level timeouts are mapped to a retryable TIMEOUT AdapterError by
// the manager before this is consulted.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// ErrorCodeOf extracts the adapter error code, or CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// RetryAfterHint extracts a provider-supplied retry delay hint, if any.
func RetryAfterHint(err error) time.Duration {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
