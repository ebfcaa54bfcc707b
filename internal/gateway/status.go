package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gantryio/gantry/internal/provider"
	"github.com/gantryio/gantry/internal/usage"
)

// defaultStatusWindow bounds the usage aggregate on /status when the caller
// does not pass a window.
const defaultStatusWindow = 24 * time.Hour

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Providers int    `json:"providers"`
	Available int    `json:"available"`
}

// handleHealth returns the handler for GET /health. The gateway reports
// degraded (503) only when no enabled provider can accept traffic; a single
// open circuit with a live fallback is still ok.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		for _, p := range s.generator.Snapshot() {
			if !p.Enabled {
				continue
			}
			resp.Providers++
			if p.Circuit != "open" {
				resp.Available++
			}
		}
		if resp.Providers > 0 && resp.Available == 0 {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Providers     []provider.ProviderStatus `json:"providers"`
	Usage         []usage.ProviderTotals    `json:"usage,omitempty"`
}

// handleStatus returns the handler for GET /status. The optional "window"
// query parameter (a Go duration) bounds the usage aggregate.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(s.now().Sub(s.startedAt) / time.Second),
			Providers:     s.generator.Snapshot(),
		}

		if s.usage != nil {
			window := defaultStatusWindow
			if raw := r.URL.Query().Get("window"); raw != "" {
				d, err := time.ParseDuration(raw)
				if err != nil || d <= 0 {
					writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid window: "+raw)
					return
				}
				window = d
			}
			totals, err := s.usage.Totals(r.Context(), s.now().Add(-window))
			if err != nil {
				s.logger.Error("usage totals query failed", "error", err)
			} else {
				resp.Usage = totals
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
