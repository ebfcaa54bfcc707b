// Package openai implements the OpenAI Chat Completions adapter for the
// provider orchestration layer. It also serves OpenAI-compatible endpoints
// (vLLM, LM Studio, Together) via the record's base URL.
package openai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	sdkopenai "github.com/sashabaranov/go-openai"

	"github.com/gantryio/gantry/internal/provider"
)

// Kind is the adapter factory key.
const Kind = "openai"

// defaultModel is the model used when the record does not name one.
const defaultModel = "gpt-4o"

// tokenEncoding is the tokenizer used for local token estimation.
// cl100k_base covers GPT-4-family models and is a close approximation
// for compatible endpoints.
const tokenEncoding = "cl100k_base"

// perMessageOverhead approximates role and framing tokens per message.
const perMessageOverhead = 4

// Register wires the adapter factory into a registry.
func Register(r *provider.Registry) {
	r.Register(Kind, New)
}

// Adapter implements provider.Adapter using the OpenAI Chat Completions API.
type Adapter struct {
	rec    provider.Record
	client *sdkopenai.Client

	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
}

var _ provider.Adapter = (*Adapter)(nil)

// New constructs an adapter from a provider record with already-resolved
// credentials.
func New(rec provider.Record) (provider.Adapter, error) {
	if rec.Model == "" {
		rec.Model = defaultModel
	}

	cfg := sdkopenai.DefaultConfig(rec.Credentials.APIKey)
	if rec.Credentials.BaseURL != "" {
		cfg.BaseURL = rec.Credentials.BaseURL
	}

	return &Adapter{rec: rec, client: sdkopenai.NewClientWithConfig(cfg)}, nil
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

// CountTokens implements provider.Adapter using a lazily-initialized
// cl100k_base tokenizer, falling back to a four-characters-per-token
// estimate when the encoding is unavailable.
func (a *Adapter) CountTokens(msgs []provider.Message) int {
	a.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			return
		}
		a.encoding = enc
	})

	total := 0
	for _, msg := range msgs {
		if a.encoding != nil {
			total += len(a.encoding.Encode(msg.Content, nil, nil))
		} else {
			total += len(msg.Content) / 4
		}
		total += perMessageOverhead
	}
	return total
}
