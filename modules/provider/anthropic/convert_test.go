package anthropic

import (
	"encoding/json"
	"testing"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/gantryio/gantry/internal/provider"
)

func TestConvertRequest_SystemExtraction(t *testing.T) {
	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.MessageRoleSystem, Content: "You are helpful."},
			{Role: provider.MessageRoleSystem, Content: "Be brief."},
			{Role: provider.MessageRoleUser, Content: "Hi"},
		},
	}

	params := convertRequest(req, "claude-test")

	if len(params.System) != 2 {
		t.Fatalf("system blocks = %d, want 2", len(params.System))
	}
	if params.System[0].Text != "You are helpful." || params.System[1].Text != "Be brief." {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 after system extraction", len(params.Messages))
	}
	if params.Model != "claude-test" {
		t.Errorf("model = %q", params.Model)
	}
}

func TestConvertRequest_OptionDefaults(t *testing.T) {
	params := convertRequest(provider.Request{}, "m")
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", params.MaxTokens, defaultMaxTokens)
	}

	temp := 0.2
	params = convertRequest(provider.Request{
		Options: provider.Options{MaxTokens: 512, Temperature: &temp, Stop: []string{"END"}},
	}, "m")
	if params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", params.MaxTokens)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.2 {
		t.Errorf("Temperature = %+v", params.Temperature)
	}
	if len(params.StopSequences) != 1 || params.StopSequences[0] != "END" {
		t.Errorf("StopSequences = %v", params.StopSequences)
	}
}

func TestConvertMessages_GroupsConsecutiveToolResults(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleUser, Content: "run both"},
		{Role: provider.MessageRoleTool, ToolID: "t1", Content: "result 1"},
		{Role: provider.MessageRoleTool, ToolID: "t2", Content: "result 2"},
		{Role: provider.MessageRoleAssistant, Content: "done"},
	}

	result := convertMessages(msgs)
	if len(result) != 3 {
		t.Fatalf("converted %d messages, want 3 (tool results grouped)", len(result))
	}
	if result[1].Role != sdkanthropic.MessageParamRoleUser {
		t.Errorf("tool-result message role = %q, want user", result[1].Role)
	}
	if len(result[1].Content) != 2 {
		t.Errorf("tool-result blocks = %d, want 2", len(result[1].Content))
	}
}

func TestConvertMessages_DropsNonLeadingSystem(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleUser, Content: "hi"},
		{Role: provider.MessageRoleSystem, Content: "mid-stream instruction"},
		{Role: provider.MessageRoleUser, Content: "bye"},
	}

	result := convertMessages(msgs)
	if len(result) != 2 {
		t.Fatalf("converted %d messages, want 2 (system dropped)", len(result))
	}
}

func TestConvertTools_SchemaExtrasPreserved(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"q": {"type": "string"}},
		"required": ["q"],
		"additionalProperties": false,
		"$defs": {"X": {"type": "number"}}
	}`)

	tools := convertTools([]provider.ToolDefinition{
		{Name: "search", Description: "find things", Parameters: schema},
	})
	if len(tools) != 1 {
		t.Fatalf("converted %d tools, want 1", len(tools))
	}
	tool := tools[0].OfTool
	if tool.Name != "search" {
		t.Errorf("name = %q", tool.Name)
	}

	if tool.InputSchema.Properties == nil {
		t.Error("properties not extracted")
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "q" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}
	if _, ok := tool.InputSchema.ExtraFields["additionalProperties"]; !ok {
		t.Error("additionalProperties not preserved in extras")
	}
	if _, ok := tool.InputSchema.ExtraFields["$defs"]; !ok {
		t.Error("$defs not preserved in extras")
	}
	if _, ok := tool.InputSchema.ExtraFields["type"]; ok {
		t.Error("type should not be carried in extras")
	}
}

func TestConvertStopReason(t *testing.T) {
	cases := []struct {
		in   sdkanthropic.StopReason
		want provider.FinishReason
	}{
		{sdkanthropic.StopReasonEndTurn, provider.FinishReasonStop},
		{sdkanthropic.StopReasonStopSequence, provider.FinishReasonStop},
		{sdkanthropic.StopReasonMaxTokens, provider.FinishReasonLength},
		{sdkanthropic.StopReasonToolUse, provider.FinishReasonToolUse},
		{sdkanthropic.StopReasonRefusal, provider.FinishReasonFiltering},
		{sdkanthropic.StopReason("unknown"), provider.FinishReasonStop},
	}
	for _, tc := range cases {
		if got := convertStopReason(tc.in); got != tc.want {
			t.Errorf("convertStopReason(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
