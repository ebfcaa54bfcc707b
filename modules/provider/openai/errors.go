package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdkopenai "github.com/sashabaranov/go-openai"

	"github.com/gantryio/gantry/internal/provider"
)

// mapError converts an OpenAI SDK error into a classified adapter error.
// Context errors pass through so caller cancellation is never treated as a
// provider failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkopenai.APIError
	if errors.As(err, &apiErr) {
		return mapStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *sdkopenai.RequestError
	if errors.As(err, &reqErr) {
		return mapStatus(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return &provider.AdapterError{
		Code:      provider.CodeNetwork,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

// mapStatus classifies an HTTP-level failure by status code.
func mapStatus(status int, msg string, err error) error {
	switch status {
	case http.StatusTooManyRequests:
		return &provider.AdapterError{
			Code:      provider.CodeRateLimited,
			Message:   msg,
			Retryable: true,
			Err:       err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &provider.AdapterError{
			Code:      provider.CodeOverloaded,
			Message:   msg,
			Retryable: true,
			Err:       err,
		}
	case http.StatusBadRequest:
		code := provider.CodeBadRequest
		if isContextLengthMessage(msg) {
			code = provider.CodeContextLength
		}
		return &provider.AdapterError{Code: code, Message: msg, Err: err}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &provider.AdapterError{Code: provider.CodeAuth, Message: msg, Err: err}
	default:
		return &provider.AdapterError{Code: provider.CodeUnknown, Message: msg, Err: err}
	}
}

// isContextLengthMessage detects the context-window-exceeded variant of a
// 400 response. OpenAI reports it as a message string, not a structured
// error type.
func isContextLengthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "too many tokens")
}
