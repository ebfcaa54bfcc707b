package gateway

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gantryio/gantry/internal/provider"
)

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = provider.NewMetrics(reg)

	_, srv := newTestServer(t, testConfig(), &fakeGenerator{}, WithMetricsRegistry(reg))

	resp := get(t, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "gantry_dispatch_failovers_total") {
		t.Errorf("metrics body missing dispatch collectors: %q", body)
	}
}

func TestMetricsEndpoint_NotMountedWithoutRegistry(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), &fakeGenerator{})

	resp := get(t, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
