package openai

import (
	"encoding/json"

	sdkopenai "github.com/sashabaranov/go-openai"

	"github.com/gantryio/gantry/internal/provider"
)

// buildRequest transforms a generation request into a streaming chat
// completion request. Usage reporting is requested so the final chunk
// carries the token tally.
func buildRequest(req provider.Request, model string) sdkopenai.ChatCompletionRequest {
	cr := sdkopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toMessages(req.Messages),
		Stream:   true,
		StreamOptions: &sdkopenai.StreamOptions{
			IncludeUsage: true,
		},
	}

	if req.Options.MaxTokens > 0 {
		cr.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		cr.Temperature = float32(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		cr.TopP = float32(*req.Options.TopP)
	}
	if len(req.Options.Stop) > 0 {
		cr.Stop = req.Options.Stop
	}
	if len(req.Tools) > 0 {
		cr.Tools = toTools(req.Tools)
	}

	return cr
}

// toMessages converts conversation messages into chat completion messages.
// Tool results map onto the dedicated tool role with their call id.
func toMessages(msgs []provider.Message) []sdkopenai.ChatCompletionMessage {
	result := make([]sdkopenai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		m := sdkopenai.ChatCompletionMessage{Content: msg.Content}

		switch msg.Role {
		case provider.MessageRoleSystem:
			m.Role = sdkopenai.ChatMessageRoleSystem
		case provider.MessageRoleAssistant:
			m.Role = sdkopenai.ChatMessageRoleAssistant
		case provider.MessageRoleTool:
			m.Role = sdkopenai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolID
		default:
			m.Role = sdkopenai.ChatMessageRoleUser
		}
		if msg.Name != "" {
			m.Name = msg.Name
		}
		result = append(result, m)
	}
	return result
}

// toTools converts tool definitions into chat completion tool params.
func toTools(tools []provider.ToolDefinition) []sdkopenai.Tool {
	result := make([]sdkopenai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		result[i] = sdkopenai.Tool{
			Type: sdkopenai.ToolTypeFunction,
			Function: &sdkopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// toFinishReason maps an OpenAI finish reason to the common finish reason.
func toFinishReason(reason sdkopenai.FinishReason) provider.FinishReason {
	switch reason {
	case sdkopenai.FinishReasonStop:
		return provider.FinishReasonStop
	case sdkopenai.FinishReasonLength:
		return provider.FinishReasonLength
	case sdkopenai.FinishReasonToolCalls, sdkopenai.FinishReasonFunctionCall:
		return provider.FinishReasonToolUse
	case sdkopenai.FinishReasonContentFilter:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}

// toUsage converts the SDK usage report, filling in the total when the
// upstream omits it.
func toUsage(u *sdkopenai.Usage) *provider.TokenUsage {
	if u == nil {
		return nil
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &provider.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
	}
}
