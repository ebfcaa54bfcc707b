package provider

import (
	"fmt"
	"sync"
	"time"
)

// rateWindowSpan is the trailing window over which per-minute budgets are
// enforced.
const rateWindowSpan = time.Minute

// rateEvent is one timestamped consumption entry in the trailing window.
type rateEvent struct {
	at time.Time
	n  int
}

// RateUsage is a point-in-time view of a provider's window consumption.
type RateUsage struct {
	InFlight          int `json:"in_flight"`
	RequestsInWindow  int `json:"requests_in_window"`
	TokensInWindow    int `json:"tokens_in_window"`
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	TokensPerMinute   int `json:"tokens_per_minute,omitempty"`
	MaxConcurrent     int `json:"max_concurrent,omitempty"`
}

// rateWindow enforces a provider's admission budget over a continuously
// aging trailing window. Entries expire individually as they fall out of
// the window; there is no periodic reset, so budgets never snap back at
// window boundaries. All operations are single locked read-modify-writes.
type rateWindow struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	requests []rateEvent
	tokens   []rateEvent
	tokenSum int
	inflight int

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// newRateWindow creates an empty window with the given budget.
func newRateWindow(cfg RateLimitConfig) *rateWindow {
	return &rateWindow{cfg: cfg, now: time.Now}
}

// Admit checks the concurrency, request, and token budgets and, when all
// pass, records the request and takes an in-flight slot. The returned error
// wraps ErrBudgetExhausted and names the violated dimension.
func (w *rateWindow) Admit(estTokens int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if w.cfg.MaxConcurrent > 0 && w.inflight >= w.cfg.MaxConcurrent {
		return fmt.Errorf("%w: %d calls in flight (max %d)",
			ErrBudgetExhausted, w.inflight, w.cfg.MaxConcurrent)
	}
	if w.cfg.RequestsPerMinute > 0 && len(w.requests)+1 > w.cfg.RequestsPerMinute {
		return fmt.Errorf("%w: %d requests in window (max %d/min)",
			ErrBudgetExhausted, len(w.requests), w.cfg.RequestsPerMinute)
	}
	if w.cfg.TokensPerMinute > 0 && w.tokenSum+estTokens > w.cfg.TokensPerMinute {
		return fmt.Errorf("%w: %d+%d tokens in window (max %d/min)",
			ErrBudgetExhausted, w.tokenSum, estTokens, w.cfg.TokensPerMinute)
	}

	w.requests = append(w.requests, rateEvent{at: now, n: 1})
	w.inflight++
	return nil
}

// NoteRequest records an additional adapter call made under an existing
// in-flight slot (a retry of the same candidate).
func (w *rateWindow) NoteRequest() {
	w.mu.Lock()
	w.requests = append(w.requests, rateEvent{at: w.now(), n: 1})
	w.mu.Unlock()
}

// Release returns an in-flight slot. Callers guarantee exactly-once release
// per admission (the manager guards it with sync.Once so a cancellation
// racing a late response cannot double-release).
func (w *rateWindow) Release() {
	w.mu.Lock()
	if w.inflight > 0 {
		w.inflight--
	}
	w.mu.Unlock()
}

// RecordTokens adds consumed tokens to the trailing window once actual
// usage is known at stream completion.
func (w *rateWindow) RecordTokens(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	w.tokens = append(w.tokens, rateEvent{at: w.now(), n: n})
	w.tokenSum += n
	w.mu.Unlock()
}

// Usage returns a point-in-time snapshot of window consumption.
func (w *rateWindow) Usage() RateUsage {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.now())
	return RateUsage{
		InFlight:          w.inflight,
		RequestsInWindow:  len(w.requests),
		TokensInWindow:    w.tokenSum,
		RequestsPerMinute: w.cfg.RequestsPerMinute,
		TokensPerMinute:   w.cfg.TokensPerMinute,
		MaxConcurrent:     w.cfg.MaxConcurrent,
	}
}

// prune drops entries that have aged out of the trailing window.
// Must be called with the lock held.
func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-rateWindowSpan)

	i := 0
	for i < len(w.requests) && w.requests[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}

	i = 0
	for i < len(w.tokens) && w.tokens[i].at.Before(cutoff) {
		w.tokenSum -= w.tokens[i].n
		i++
	}
	if i > 0 {
		w.tokens = append(w.tokens[:0], w.tokens[i:]...)
	}
}
