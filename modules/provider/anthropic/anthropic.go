// Package anthropic implements the Anthropic Messages API adapter for the
// provider orchestration layer.
package anthropic

import (
	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/gantryio/gantry/internal/provider"
)

// Kind is the adapter factory key.
const Kind = "anthropic"

// defaultModel is the model used when the record does not name one.
// Pinned to a dated release for reproducibility; update when a newer
// stable version is validated.
const defaultModel = "claude-sonnet-4-5-20250929"

// defaultMaxTokens bounds output when neither the record nor the request
// sets a budget. The Messages API requires an explicit max_tokens.
const defaultMaxTokens = 4096

// Register wires the adapter factory into a registry.
func Register(r *provider.Registry) {
	r.Register(Kind, New)
}

// Adapter implements provider.Adapter using the Anthropic Messages API.
type Adapter struct {
	rec    provider.Record
	client *sdkanthropic.Client
}

var _ provider.Adapter = (*Adapter)(nil)

// New constructs an adapter from a provider record. Credentials are already
// resolved; the SDK's own retries are disabled so the dispatch loop stays in
// control of retry policy.
func New(rec provider.Record) (provider.Adapter, error) {
	if rec.Model == "" {
		rec.Model = defaultModel
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if rec.Credentials.APIKey != "" {
		opts = append(opts, option.WithAPIKey(rec.Credentials.APIKey))
	}
	if rec.Credentials.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(rec.Credentials.BaseURL))
	}

	client := sdkanthropic.NewClient(opts...)
	return &Adapter{rec: rec, client: &client}, nil
}

// ValidateConfig implements provider.Adapter.
func (a *Adapter) ValidateConfig() error {
	if a.rec.Credentials.APIKey == "" {
		return &provider.ConfigError{Provider: a.rec.ID, Reason: "api key must not be empty"}
	}
	if a.rec.Model == "" {
		return &provider.ConfigError{Provider: a.rec.ID, Reason: "model must not be empty"}
	}
	return nil
}

// ModelName implements provider.Adapter.
func (a *Adapter) ModelName() string {
	return a.rec.Model
}

// CountTokens implements provider.Adapter with a conservative estimate:
// roughly four characters per token plus a fixed per-message overhead for
// role and framing tokens. Anthropic does not ship a local tokenizer, so
// rate admission works from this approximation; actual usage is recorded
// from the stream's final usage report.
func (a *Adapter) CountTokens(msgs []provider.Message) int {
	const perMessageOverhead = 5
	total := 0
	for _, msg := range msgs {
		total += len(msg.Content)/4 + perMessageOverhead
	}
	return total
}
