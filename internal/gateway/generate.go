package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gantryio/gantry/internal/provider"
)

// handleGenerate returns the handler for POST /v1/generate. The response is
// a Server-Sent Events stream of frames; one frame per merged event, ending
// with a done or error frame.
func (s *Server) handleGenerate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provider.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "UNKNOWN", "streaming unsupported")
			return
		}

		events, err := s.generator.Generate(r.Context(), req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeDispatchError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for ev := range events {
			data, merr := json.Marshal(frameFromEvent(ev))
			if merr != nil {
				s.logger.Error("frame marshal failed", "error", merr)
				continue
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
				// Client gone. Keep draining so the forwarder can settle.
				continue
			}
			flusher.Flush()
		}
	}
}

// handleSetEnabled returns the handler for POST /v1/providers/{id}/enabled.
func (s *Server) handleSetEnabled() http.HandlerFunc {
	type body struct {
		Enabled bool `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
			return
		}

		if err := s.generator.SetEnabled(id, b.Enabled); err != nil {
			writeError(w, http.StatusNotFound, "NO_PROVIDER", err.Error())
			return
		}

		s.logger.Info("provider toggled", "provider", id, "enabled", b.Enabled)
		w.WriteHeader(http.StatusNoContent)
	}
}
