// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/gantryio/gantry/internal/provider"
)

// MockAdapter is a configurable test double for provider.Adapter.
// Set the Func fields to control behavior. Unset funcs fall back to
// benign defaults. All methods are safe for concurrent use.
type MockAdapter struct {
	GenerateStreamFunc func(ctx context.Context, req provider.Request) (<-chan provider.Event, error)
	CountTokensFunc    func(msgs []provider.Message) int
	ValidateConfigFunc func() error
	ModelNameFunc      func() string

	mu            sync.Mutex
	GenerateCalls int
}

// GenerateStream delegates to GenerateStreamFunc and tracks the call count.
// Without a func it returns a stream that immediately completes.
func (m *MockAdapter) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	m.mu.Lock()
	m.GenerateCalls++
	m.mu.Unlock()

	if m.GenerateStreamFunc == nil {
		return EventStream(provider.Event{Done: true}), nil
	}
	return m.GenerateStreamFunc(ctx, req)
}

// Calls returns the number of GenerateStream invocations so far.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GenerateCalls
}

// CountTokens delegates to CountTokensFunc, defaulting to a rough
// four-characters-per-token estimate.
func (m *MockAdapter) CountTokens(msgs []provider.Message) int {
	if m.CountTokensFunc != nil {
		return m.CountTokensFunc(msgs)
	}
	total := 0
	for _, msg := range msgs {
		total += len(msg.Content) / 4
	}
	return total
}

// ValidateConfig delegates to ValidateConfigFunc, defaulting to success.
func (m *MockAdapter) ValidateConfig() error {
	if m.ValidateConfigFunc != nil {
		return m.ValidateConfigFunc()
	}
	return nil
}

// ModelName delegates to ModelNameFunc, defaulting to "mock".
func (m *MockAdapter) ModelName() string {
	if m.ModelNameFunc != nil {
		return m.ModelNameFunc()
	}
	return "mock"
}

// EventStream returns a buffered, closed channel pre-loaded with events,
// emulating a completed adapter stream.
func EventStream(events ...provider.Event) <-chan provider.Event {
	ch := make(chan provider.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

// FailingStream returns a stream that delivers the given events and then a
// terminal error event.
func FailingStream(err error, events ...provider.Event) <-chan provider.Event {
	ch := make(chan provider.Event, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	ch <- provider.Event{Err: err}
	close(ch)
	return ch
}
