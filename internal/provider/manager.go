package provider

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// nopHandler is a slog.Handler that discards all log records.
// Enabled returns false so slog skips formatting entirely (zero cost).
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

func (nopHandler) Handle(context.Context, slog.Record) error {
	return nil
}

func (nopHandler) WithAttrs([]slog.Attr) slog.Handler {
	return nopHandler{}
}

func (nopHandler) WithGroup(string) slog.Handler {
	return nopHandler{}
}

// defaultAttemptTimeout bounds a single dispatch attempt when the request
// does not carry its own timeout.
const defaultAttemptTimeout = 2 * time.Minute

// UsageEntry is one completed generation's token consumption.
type UsageEntry struct {
	RequestID  string
	ProviderID string
	Model      string
	Usage      TokenUsage
}

// UsageRecorder persists per-request token usage. Recording failures are
// logged and never affect dispatch.
type UsageRecorder interface {
	Record(ctx context.Context, entry UsageEntry) error
}

// managedProvider bundles a record with its adapter and the mutable
// health/rate state shared across all concurrent requests.
type managedProvider struct {
	record  Record
	adapter Adapter
	breaker *breaker
	window  *rateWindow
}

// Manager composes the adapter registry, circuit breakers, rate windows,
// and retry policy into the dispatch loop. It is safe for concurrent use;
// registration is expected to be rare relative to dispatch.
type Manager struct {
	registry       *Registry
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	usage          UsageRecorder
	defaultTimeout time.Duration

	mu          sync.RWMutex
	providers   map[string]*managedProvider
	globalChain []string
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithLogger injects a structured logger. When nil or omitted, all log
// output is silently discarded (zero cost).
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics injects dispatch metrics collectors.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithUsageRecorder injects a token usage ledger.
func WithUsageRecorder(r UsageRecorder) ManagerOption {
	return func(m *Manager) { m.usage = r }
}

// WithTracerProvider overrides the tracer used for dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) { m.tracer = tp.Tracer("gantry/provider") }
}

// WithDefaultTimeout overrides the per-attempt deadline applied when a
// request carries no timeout of its own.
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTimeout = d }
}

// NewManager creates a manager backed by the given adapter registry.
func NewManager(registry *Registry, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("provider: manager requires a registry")
	}

	m := &Manager{
		registry:       registry,
		providers:      make(map[string]*managedProvider),
		defaultTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(nopHandler{})
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("gantry/provider")
	}
	return m, nil
}

// RegisterProvider inserts or replaces a provider record keyed by its ID.
// The adapter is constructed immediately with already-resolved credentials
// and its configuration validated. Disabled providers are stored but
// excluded from chain construction. In-flight requests are unaffected.
func (m *Manager) RegisterProvider(rec Record) error {
	if rec.ID == "" {
		return &ConfigError{Provider: rec.ID, Reason: "provider id must not be empty"}
	}
	rec.defaults()

	adapter, err := m.registry.New(rec)
	if err != nil {
		return err
	}
	if err := adapter.ValidateConfig(); err != nil {
		return err
	}

	b := newBreaker(rec.Health)
	id := rec.ID
	logger := m.logger
	metrics := m.metrics
	b.onStateChange = func(from, to CircuitState) {
		metrics.recordCircuitTransition(id, to)
		switch to {
		case CircuitOpen:
			logger.Warn("circuit opened", "provider", id, "from", from.String())
		case CircuitHalfOpen:
			logger.Info("circuit half-open, admitting probe", "provider", id)
		case CircuitClosed:
			logger.Info("circuit closed", "provider", id, "from", from.String())
		}
	}

	mp := &managedProvider{
		record:  rec,
		adapter: adapter,
		breaker: b,
		window:  newRateWindow(rec.RateLimit),
	}

	m.mu.Lock()
	m.providers[rec.ID] = mp
	m.mu.Unlock()

	m.logger.Info("provider registered",
		"provider", rec.ID,
		"kind", rec.Kind,
		"model", rec.Model,
		"enabled", rec.Enabled,
	)
	return nil
}

// SetEnabled toggles a registered provider's participation in chain
// construction. It fails if the provider is not registered.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProvider, id)
	}
	mp.record.Enabled = enabled
	return nil
}

// SetGlobalFallbackChain replaces the shared ordered fallback list. It takes
// effect for subsequently built chains only.
func (m *Manager) SetGlobalFallbackChain(ids []string) {
	m.mu.Lock()
	m.globalChain = slices.Clone(ids)
	m.mu.Unlock()
}

// GlobalFallbackChain returns a copy of the shared fallback list.
func (m *Manager) GlobalFallbackChain() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.globalChain)
}

// BuildChain produces the ordered candidate list for a request: the explicit
// primary, the per-call fallbacks, the primary record's own fallbacks, then
// the global fallback chain. First occurrence wins; later duplicates are
// dropped, not reordered. The result contains only ids with a registered,
// enabled record — an unregistered or disabled provider never surfaces to
// callers no matter where it is listed.
func (m *Manager) BuildChain(req Request) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ordered []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	primary := req.ProviderID
	if primary == "" {
		primary = m.defaultPrimaryLocked()
	}
	add(primary)

	for _, id := range req.Fallbacks {
		add(id)
	}
	if mp, ok := m.providers[primary]; ok {
		for _, id := range mp.record.Fallbacks {
			add(id)
		}
	}
	for _, id := range m.globalChain {
		add(id)
	}

	chain := ordered[:0]
	for _, id := range ordered {
		if mp, ok := m.providers[id]; ok && mp.record.Enabled {
			chain = append(chain, id)
		}
	}
	return chain
}

// defaultPrimaryLocked picks the highest-priority enabled provider, breaking
// ties by id for determinism. Must be called with at least a read lock held.
func (m *Manager) defaultPrimaryLocked() string {
	var best string
	bestPriority := 0
	for id, mp := range m.providers {
		if !mp.record.Enabled {
			continue
		}
		if best == "" || mp.record.Priority > bestPriority ||
			(mp.record.Priority == bestPriority && id < best) {
			best = id
			bestPriority = mp.record.Priority
		}
	}
	return best
}

// provider returns the managed state for id together with a copy of its
// record taken under the read lock. Enabled is the only record field mutable
// after registration (SetEnabled writes it under the same lock), so dispatch
// works off the returned snapshot instead of re-reading mp.record.
func (m *Manager) provider(id string) (*managedProvider, Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.providers[id]
	if !ok {
		return nil, Record{}, false
	}
	return mp, mp.record, true
}

// Generate routes a request through the effective fallback chain and returns
// the merged event stream of the first provider that accepts it. Candidates
// whose circuit is open or whose rate budget is exhausted are skipped; call
// failures are retried per the candidate's retry policy before advancing.
// When every candidate is skipped or exhausted, a *ChainExhaustedError
// enumerates the last error per attempted provider.
func (m *Manager) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	chain := m.BuildChain(req)
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: effective chain is empty", ErrNoProvider)
	}

	requestID := uuid.NewString()
	logger := m.logger.With("request_id", requestID)

	ctx, span := m.tracer.Start(ctx, "provider.dispatch", trace.WithAttributes(
		attribute.Int("chain.length", len(chain)),
	))
	defer span.End()

	var attempts []ProviderAttempt
	for _, id := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Records may have changed since BuildChain's snapshot.
		mp, rec, ok := m.provider(id)
		if !ok || !rec.Enabled {
			continue
		}

		ok, probe := mp.breaker.Allow()
		if !ok {
			attempts = append(attempts, ProviderAttempt{ProviderID: id, Err: ErrCircuitOpen})
			m.metrics.recordAttempt(id, "skipped_circuit")
			m.metrics.recordFailover()
			logger.Debug("skipping provider, circuit open", "provider", id)
			continue
		}

		estTokens := mp.adapter.CountTokens(req.Messages)
		if err := mp.window.Admit(estTokens); err != nil {
			if probe {
				mp.breaker.ReleaseProbe()
			}
			attempts = append(attempts, ProviderAttempt{ProviderID: id, Err: err})
			m.metrics.recordAttempt(id, "skipped_ratelimit")
			m.metrics.recordRateRejection(id)
			m.metrics.recordFailover()
			logger.Debug("skipping provider, budget exhausted", "provider", id, "error", err)
			continue
		}

		m.metrics.inflightDelta(id, 1)
		var once sync.Once
		release := func() {
			once.Do(func() {
				mp.window.Release()
				m.metrics.inflightDelta(id, -1)
			})
		}

		stream, calls, err := m.runCandidate(ctx, logger, mp, rec, probe, req, requestID, release)
		if err == nil {
			span.SetAttributes(attribute.String("provider.id", id), attribute.Int("provider.calls", calls))
			logger.Debug("dispatch committed", "provider", id, "calls", calls)
			return stream, nil
		}

		attempts = append(attempts, ProviderAttempt{ProviderID: id, Attempts: calls, Err: err})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.metrics.recordFailover()
		logger.Warn("provider failed, advancing chain", "provider", id, "calls", calls, "error", err)
	}

	exhausted := &ChainExhaustedError{Attempts: attempts}
	logger.Error("provider chain exhausted", "error", exhausted)
	return nil, exhausted
}

// runCandidate drives the retry loop for a single candidate. On commit it
// hands the adapter stream to a forwarding goroutine and returns the merged
// stream; on terminal failure it returns the last error and the number of
// adapter calls made. release is invoked exactly once, either here on
// failure or by the forwarder when the stream ends.
func (m *Manager) runCandidate(
	ctx context.Context,
	logger *slog.Logger,
	mp *managedProvider,
	rec Record,
	probe bool,
	req Request,
	requestID string,
	release func(),
) (<-chan Event, int, error) {
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			mp.window.NoteRequest()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		src, err := mp.adapter.GenerateStream(attemptCtx, clampRequest(req, rec))

		// Sniff the first event so pre-content failures stay eligible for
		// retry. Once any non-error event has arrived the attempt commits:
		// streams are not restartable and forwarded content cannot be
		// unwound.
		var first *Event
		if err == nil {
			select {
			case ev, ok := <-src:
				switch {
				case !ok:
					src = closedEventChan()
				case ev.Err != nil:
					err = ev.Err
				default:
					first = &ev
				}
			case <-attemptCtx.Done():
				err = attemptCtx.Err()
			}
		}

		if err == nil {
			out := make(chan Event, mergeBufferSize)
			go m.forward(attemptCtx, cancel, mp, rec, probe, requestID, first, src, out, release)
			return out, attempt + 1, nil
		}

		cancel()

		// The caller going away is not a provider failure: leave the
		// breaker's failure count alone and hand an abandoned probe back.
		if ctx.Err() != nil {
			if probe {
				mp.breaker.ReleaseProbe()
			}
			m.metrics.recordAttempt(rec.ID, "cancelled")
			release()
			return nil, attempt + 1, ctx.Err()
		}

		err = m.mapAttemptErr(err)
		mp.breaker.RecordFailure(probe)
		m.metrics.recordAttempt(rec.ID, "error")

		if probe {
			// A failed half-open probe reopens the circuit; never retried.
			release()
			return nil, attempt + 1, err
		}

		decision, delay := rec.Retry.Decide(err, attempt)
		if decision == AdvanceChain {
			release()
			return nil, attempt + 1, err
		}

		logger.Debug("retrying provider",
			"provider", rec.ID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			release()
			return nil, attempt + 1, ctx.Err()
		}
	}
}

// forward merges one committed adapter stream into out, then settles the
// health verdict, the rate window, and the usage ledger. The in-flight slot
// is released exactly once even if cancellation races a late response.
func (m *Manager) forward(
	ctx context.Context,
	cancel context.CancelFunc,
	mp *managedProvider,
	rec Record,
	probe bool,
	requestID string,
	first *Event,
	src <-chan Event,
	out chan Event,
	release func(),
) {
	defer close(out)
	defer cancel()
	defer release()

	usage, err := mergeStream(ctx, first, src, out)
	if err != nil {
		// A client disconnect mid-stream says nothing about provider
		// health; only genuine stream failures count against the breaker.
		if errors.Is(err, context.Canceled) {
			if probe {
				mp.breaker.ReleaseProbe()
			}
			m.metrics.recordAttempt(rec.ID, "cancelled")
			m.logger.Debug("stream abandoned by caller",
				"request_id", requestID,
				"provider", rec.ID,
			)
			return
		}
		mp.breaker.RecordFailure(probe)
		m.metrics.recordAttempt(rec.ID, "error")
		m.logger.Warn("stream terminated with provider error",
			"request_id", requestID,
			"provider", rec.ID,
			"error", err,
		)
		return
	}

	mp.breaker.RecordSuccess(probe)
	m.metrics.recordAttempt(rec.ID, "success")

	if usage == nil {
		return
	}
	mp.window.RecordTokens(usage.TotalTokens)
	m.metrics.recordUsage(rec.ID, usage)
	if m.usage != nil {
		entry := UsageEntry{
			RequestID:  requestID,
			ProviderID: rec.ID,
			Model:      rec.Model,
			Usage:      *usage,
		}
		if rerr := m.usage.Record(context.WithoutCancel(ctx), entry); rerr != nil {
			m.logger.Warn("usage recording failed", "request_id", requestID, "error", rerr)
		}
	}
}

// mapAttemptErr normalizes an attempt failure: an expired attempt deadline
// becomes a retryable TIMEOUT adapter error. Caller cancellation is handled
// before this is consulted.
func (m *Manager) mapAttemptErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &AdapterError{Code: CodeTimeout, Message: "attempt deadline exceeded", Retryable: true, Err: err}
	}
	return err
}

// clampRequest caps the request's output budget at the record's limit.
func clampRequest(req Request, rec Record) Request {
	if rec.MaxOutputTokens > 0 &&
		(req.Options.MaxTokens == 0 || req.Options.MaxTokens > rec.MaxOutputTokens) {
		req.Options.MaxTokens = rec.MaxOutputTokens
	}
	return req
}

// closedEventChan returns a closed channel for adapters whose stream ended
// without producing any event.
func closedEventChan() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// ProviderStatus is a point-in-time view of one registered provider,
// consumed by the gateway status endpoint and by tests.
type ProviderStatus struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Model    string    `json:"model"`
	Enabled  bool      `json:"enabled"`
	Priority int       `json:"priority"`
	Circuit  string    `json:"circuit"`
	Failures int       `json:"consecutive_failures"`
	Rate     RateUsage `json:"rate"`
}

// Snapshot returns the status of every registered provider, sorted by id.
func (m *Manager) Snapshot() []ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(m.providers))
	for _, mp := range m.providers {
		statuses = append(statuses, ProviderStatus{
			ID:       mp.record.ID,
			Kind:     mp.record.Kind,
			Model:    mp.record.Model,
			Enabled:  mp.record.Enabled,
			Priority: mp.record.Priority,
			Circuit:  mp.breaker.State().String(),
			Failures: mp.breaker.Failures(),
			Rate:     mp.window.Usage(),
		})
	}
	slices.SortFunc(statuses, func(a, b ProviderStatus) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return statuses
}
