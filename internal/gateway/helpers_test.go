package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/provider"
	"github.com/gantryio/gantry/internal/usage"
)

var errFailed = errors.New("backend unavailable")

// fakeGenerator is a canned Generator for handler tests.
type fakeGenerator struct {
	mu      sync.Mutex
	events  []provider.Event
	err     error
	lastReq provider.Request

	snapshot      []provider.ProviderStatus
	setEnabledErr error
	enabled       map[string]bool
}

func (g *fakeGenerator) Generate(_ context.Context, req provider.Request) (<-chan provider.Event, error) {
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan provider.Event, len(g.events))
	for _, ev := range g.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (g *fakeGenerator) Snapshot() []provider.ProviderStatus {
	return g.snapshot
}

func (g *fakeGenerator) SetEnabled(id string, enabled bool) error {
	if g.setEnabledErr != nil {
		return g.setEnabledErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled == nil {
		g.enabled = make(map[string]bool)
	}
	g.enabled[id] = enabled
	return nil
}

func (g *fakeGenerator) request() provider.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

// fakeUsageSource returns canned ledger totals.
type fakeUsageSource struct {
	totals []usage.ProviderTotals
	err    error
	since  time.Time
}

func (u *fakeUsageSource) Totals(_ context.Context, since time.Time) ([]usage.ProviderTotals, error) {
	u.since = since
	return u.totals, u.err
}

func testConfig() config.GatewayConfig {
	cfg := config.GatewayConfig{}
	cfg.Defaults()
	return cfg
}

// newTestServer builds a Server and serves its router over httptest.
func newTestServer(t *testing.T, cfg config.GatewayConfig, gen Generator, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, gen, opts...)
	s.startedAt = s.now()
	srv := httptest.NewServer(s.buildRouter())
	t.Cleanup(srv.Close)
	return s, srv
}

// readFrames parses an SSE body into its decoded frames.
func readFrames(t *testing.T, body io.Reader) []streamFrame {
	t.Helper()
	var frames []streamFrame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f streamFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan body: %v", err)
	}
	return frames
}
