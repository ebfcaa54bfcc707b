package anthropic

import (
	"encoding/json"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/gantryio/gantry/internal/provider"
)

// convertRequest transforms a generation request into Anthropic SDK
// parameters. Leading system messages are extracted into the dedicated
// System field.
func convertRequest(req provider.Request, model string) sdkanthropic.MessageNewParams {
	system, messages := splitSystemMessages(req.Messages)

	params := sdkanthropic.MessageNewParams{
		Model:    sdkanthropic.Model(model),
		Messages: convertMessages(messages),
		System:   system,
	}

	params.MaxTokens = defaultMaxTokens
	if req.Options.MaxTokens > 0 {
		params.MaxTokens = int64(req.Options.MaxTokens)
	}

	if req.Options.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = sdkanthropic.Float(*req.Options.TopP)
	}
	if len(req.Options.Stop) > 0 {
		params.StopSequences = req.Options.Stop
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params
}

// splitSystemMessages extracts leading system messages into Anthropic's
// System parameter format and returns the remaining messages.
func splitSystemMessages(msgs []provider.Message) ([]sdkanthropic.TextBlockParam, []provider.Message) {
	var system []sdkanthropic.TextBlockParam
	var idx int
	for idx = 0; idx < len(msgs); idx++ {
		if msgs[idx].Role != provider.MessageRoleSystem {
			break
		}
		system = append(system, sdkanthropic.TextBlockParam{
			Text: msgs[idx].Content,
		})
	}
	return system, msgs[idx:]
}

// convertMessages transforms conversation messages into Anthropic SDK message
// params. Consecutive tool-result messages are grouped into a single user
// message (Anthropic requires all tool results for a turn in one message).
// Non-leading system messages cannot be expressed and are dropped.
func convertMessages(msgs []provider.Message) []sdkanthropic.MessageParam {
	var result []sdkanthropic.MessageParam

	for i := 0; i < len(msgs); {
		msg := msgs[i]

		switch msg.Role {
		case provider.MessageRoleTool:
			var blocks []sdkanthropic.ContentBlockParamUnion
			for i < len(msgs) && msgs[i].Role == provider.MessageRoleTool {
				blocks = append(blocks, sdkanthropic.NewToolResultBlock(
					msgs[i].ToolID,
					msgs[i].Content,
					false,
				))
				i++
			}
			result = append(result, sdkanthropic.MessageParam{
				Role:    sdkanthropic.MessageParamRoleUser,
				Content: blocks,
			})

		case provider.MessageRoleAssistant:
			result = append(result, sdkanthropic.NewAssistantMessage(
				sdkanthropic.NewTextBlock(msg.Content),
			))
			i++

		case provider.MessageRoleUser:
			result = append(result, sdkanthropic.NewUserMessage(
				sdkanthropic.NewTextBlock(msg.Content),
			))
			i++

		default:
			i++
		}
	}

	return result
}

// convertTools transforms tool definitions into Anthropic SDK tool params.
func convertTools(tools []provider.ToolDefinition) []sdkanthropic.ToolUnionParam {
	result := make([]sdkanthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		tool := &sdkanthropic.ToolParam{
			Name: t.Name,
		}
		if t.Description != "" {
			tool.Description = sdkanthropic.String(t.Description)
		}
		if len(t.Parameters) > 0 {
			tool.InputSchema = convertInputSchema(t.Parameters)
		}
		result[i] = sdkanthropic.ToolUnionParam{OfTool: tool}
	}
	return result
}

// convertInputSchema converts a raw JSON Schema into the SDK's
// ToolInputSchemaParam. Schema fields beyond "properties" and "required"
// (e.g. $defs, oneOf, additionalProperties, enum) are preserved via
// ExtraFields.
func convertInputSchema(raw json.RawMessage) sdkanthropic.ToolInputSchemaParam {
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return sdkanthropic.ToolInputSchemaParam{}
	}

	param := sdkanthropic.ToolInputSchemaParam{}

	if props, ok := full["properties"]; ok {
		param.Properties = props
		delete(full, "properties")
	}
	if req, ok := full["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			param.Required = strs
		}
		delete(full, "required")
	}
	// "type" is auto-set to "object" by the SDK.
	delete(full, "type")

	if len(full) > 0 {
		param.ExtraFields = full
	}

	return param
}

// convertStopReason maps an Anthropic stop reason to the common finish reason.
func convertStopReason(reason sdkanthropic.StopReason) provider.FinishReason {
	switch reason {
	case sdkanthropic.StopReasonEndTurn, sdkanthropic.StopReasonStopSequence:
		return provider.FinishReasonStop
	case sdkanthropic.StopReasonMaxTokens:
		return provider.FinishReasonLength
	case sdkanthropic.StopReasonToolUse:
		return provider.FinishReasonToolUse
	case sdkanthropic.StopReasonRefusal:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
