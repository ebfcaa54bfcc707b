package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/gantryio/gantry/internal/provider"
)

// mapError converts an Anthropic SDK error into a classified adapter error.
// Context errors are surfaced directly so the dispatch loop recognises
// caller cancellation without misclassifying it as a provider failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return &provider.AdapterError{
			Code:      provider.CodeNetwork,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return &provider.AdapterError{
			Code:       provider.CodeRateLimited,
			Message:    apiErr.Error(),
			Retryable:  true,
			RetryAfter: retryAfter(apiErr.Response),
			Err:        err,
		}
	case 529:
		return &provider.AdapterError{
			Code:      provider.CodeOverloaded,
			Message:   apiErr.Error(),
			Retryable: true,
			Err:       err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &provider.AdapterError{
			Code:      provider.CodeNetwork,
			Message:   apiErr.Error(),
			Retryable: true,
			Err:       err,
		}
	case http.StatusBadRequest:
		code := provider.CodeBadRequest
		if isContextLengthError(apiErr) {
			code = provider.CodeContextLength
		}
		return &provider.AdapterError{Code: code, Message: apiErr.Error(), Err: err}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &provider.AdapterError{Code: provider.CodeAuth, Message: apiErr.Error(), Err: err}
	default:
		return &provider.AdapterError{Code: provider.CodeUnknown, Message: apiErr.Error(), Err: err}
	}
}

// retryAfter extracts a Retry-After delay in seconds from the response,
// if present. Zero means no hint.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// apiErrorBody is a minimal representation of the Anthropic error JSON
// used for structured detection of specific error types.
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// isContextLengthError checks whether a 400 error is specifically about
// exceeding the model's context window. It first verifies the structured
// error type, then falls back to message substring matching.
func isContextLengthError(apiErr *sdkanthropic.Error) bool {
	raw := apiErr.RawJSON()

	var body apiErrorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Error.Type != "invalid_request_error" {
			return false
		}
		msg := body.Error.Message
		return strings.Contains(msg, "context length") ||
			strings.Contains(msg, "too many tokens") ||
			strings.Contains(msg, "token limit")
	}

	return strings.Contains(raw, "context length") ||
		strings.Contains(raw, "too many tokens") ||
		strings.Contains(raw, "token limit")
}
