package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gantryio/gantry/internal/provider"
)

// streamFrame is the wire form of one stream event, shared by the SSE and
// WebSocket transports.
type streamFrame struct {
	Text         string                `json:"text,omitempty"`
	ToolCall     *provider.ToolCall    `json:"tool_call,omitempty"`
	Done         bool                  `json:"done,omitempty"`
	FinishReason provider.FinishReason `json:"finish_reason,omitempty"`
	Usage        *provider.TokenUsage  `json:"usage,omitempty"`
	Error        *frameError           `json:"error,omitempty"`
}

// frameError is the wire form of a stream or dispatch failure.
type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// frameFromEvent converts a merged stream event to its wire form.
func frameFromEvent(ev provider.Event) streamFrame {
	if ev.Err != nil {
		return streamFrame{Error: errorFrame(ev.Err)}
	}
	return streamFrame{
		Text:         ev.Text,
		ToolCall:     ev.ToolCall,
		Done:         ev.Done,
		FinishReason: ev.FinishReason,
		Usage:        ev.Usage,
	}
}

// errorFrame classifies an error for the wire. Malformed tool calls and
// dispatch failures carry their own codes so clients can distinguish them
// from upstream adapter failures.
func errorFrame(err error) *frameError {
	var (
		malformed *provider.MalformedToolCallError
		exhausted *provider.ChainExhaustedError
	)
	switch {
	case errors.As(err, &malformed):
		return &frameError{Code: "MALFORMED_TOOL_CALL", Message: malformed.Error()}
	case errors.As(err, &exhausted):
		return &frameError{Code: "CHAIN_EXHAUSTED", Message: exhausted.Error()}
	case errors.Is(err, provider.ErrNoProvider):
		return &frameError{Code: "NO_PROVIDER", Message: err.Error()}
	}
	return &frameError{Code: string(provider.ErrorCodeOf(err)), Message: err.Error()}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]*frameError{
		"error": {Code: code, Message: message},
	})
}

// writeDispatchError maps a pre-commit dispatch failure to an HTTP status.
func writeDispatchError(w http.ResponseWriter, err error) {
	var (
		exhausted *provider.ChainExhaustedError
		cfgErr    *provider.ConfigError
	)
	switch {
	case errors.Is(err, provider.ErrNoProvider):
		writeError(w, http.StatusServiceUnavailable, "NO_PROVIDER", err.Error())
	case errors.As(err, &exhausted):
		writeError(w, http.StatusBadGateway, "CHAIN_EXHAUSTED", err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, "CONFIG_ERROR", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, string(provider.ErrorCodeOf(err)), err.Error())
	}
}
