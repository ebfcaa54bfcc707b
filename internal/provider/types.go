package provider

import (
	"encoding/json"
	"time"
)

// MessageRole identifies the sender of a message in a conversation.
type MessageRole string

// MessageRole constants for conversation messages.
const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// FinishReason describes why the model stopped generating.
type FinishReason string

// FinishReason constants for model completion termination.
const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolUse   FinishReason = "tool_use"
	FinishReasonFiltering FinishReason = "filtering"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Name    string      `json:"name,omitempty"`
	ToolID  string      `json:"tool_id,omitempty"`
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a fully reconstructed tool invocation requested by the model.
// Arguments is well-formed JSON; the merger only emits calls once the
// accumulated argument text parses.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallFragment is one piece of a tool call as delivered by an upstream
// stream. Fragments for the same ID arrive strictly in sequence and are
// concatenated in arrival order by the merger.
type ToolCallFragment struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Args string `json:"args"`
}

// TokenUsage tracks token consumption for a completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one element of the common streaming protocol. Adapters produce
// Text, Fragment, Done, and Err events; the manager's merger consumes them
// and emits Text, ToolCall, Done, and Err events to the caller.
type Event struct {
	// Text is an incremental content delta, forwarded as-is.
	Text string `json:"text,omitempty"`

	// Fragment is a partial tool call. Only present on adapter streams;
	// the merger never forwards fragments upward.
	Fragment *ToolCallFragment `json:"-"`

	// ToolCall is a complete, parseable tool invocation. Only present on
	// merged streams.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream termination. Usage and FinishReason
	// accompany it when the upstream reported them.
	Done         bool         `json:"done,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`

	// Err terminates the stream with a failure.
	Err error `json:"-"`
}

// Options carries per-request generation parameters. Timeout bounds each
// dispatch attempt, not the request as a whole.
type Options struct {
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Request is a single generation request routed through the manager.
// ProviderID names the explicit primary; when empty, the highest-priority
// enabled provider is used. Fallbacks is the per-call fallback list tried
// after the primary and before the global fallback chain.
type Request struct {
	ProviderID string           `json:"provider_id,omitempty"`
	Messages   []Message        `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	Fallbacks  []string         `json:"fallbacks,omitempty"`
	Options    Options          `json:"options,omitempty"`
}

// Credentials holds already-resolved upstream credentials. They are handed
// to the adapter factory at registration time; adapters never trigger
// token-refresh flows themselves.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// RateLimitConfig is the per-provider admission budget. Zero values mean
// unlimited for that dimension.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	MaxConcurrent     int `yaml:"max_concurrent" json:"max_concurrent"`
}

// RetryConfig controls per-provider retry behavior. MaxAttempts is the total
// call budget for one candidate, including the first call.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff" json:"max_backoff"`

	// RetryableCodes restricts which error codes may be retried. Empty
	// means any error whose Retryable flag is set.
	RetryableCodes []ErrorCode `yaml:"retryable_codes" json:"retryable_codes,omitempty"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *RetryConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// HealthConfig controls the per-provider circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// Cooldown is how long the circuit stays open before admitting a
	// single half-open probe. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *HealthConfig) defaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// Record describes one registered provider instance. It is immutable after
// registration except for the enabled flag, which the manager may toggle.
type Record struct {
	// ID is the unique provider instance identifier used in chains.
	ID string `yaml:"id" json:"id"`

	// Kind selects the adapter factory (e.g. "anthropic", "openai").
	// Defaults to ID when empty.
	Kind string `yaml:"kind" json:"kind"`

	Model           string `yaml:"model" json:"model"`
	ContextLimit    int    `yaml:"context_limit" json:"context_limit"`
	MaxOutputTokens int    `yaml:"max_output_tokens" json:"max_output_tokens"`

	// Enabled providers participate in chain construction; disabled
	// providers are stored but never surfaced to callers.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Priority orders implicit primary selection; higher is preferred.
	Priority int `yaml:"priority" json:"priority"`

	// Fallbacks is this record's own ordered fallback list, appended to
	// a request's per-call fallbacks when the record is the primary.
	Fallbacks []string `yaml:"fallbacks" json:"fallbacks,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Health    HealthConfig    `yaml:"health" json:"health"`

	Credentials Credentials `yaml:"-" json:"-"`
}

// defaults normalizes a record before registration.
func (r *Record) defaults() {
	if r.Kind == "" {
		r.Kind = r.ID
	}
	r.Retry.defaults()
	r.Health.defaults()
}
