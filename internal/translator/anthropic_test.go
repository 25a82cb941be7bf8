package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-gateway/internal/models"
)

func decodeMessageRequest(t *testing.T, payload string) MessageRequest {
	t.Helper()
	var req MessageRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	return req
}

func TestMessageRequest_MaxTokensRequired(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
	}{
		{name: "absent", payload: `{"model":"claude","messages":[{"role":"user","content":"hi"}]}`},
		{name: "zero", payload: `{"model":"claude","max_tokens":0,"messages":[{"role":"user","content":"hi"}]}`},
		{name: "negative", payload: `{"model":"claude","max_tokens":-1,"messages":[{"role":"user","content":"hi"}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var req MessageRequest
			err := json.Unmarshal([]byte(tc.payload), &req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "max_tokens")
		})
	}
}

func TestMessageRequest_SystemForms(t *testing.T) {
	asString := decodeMessageRequest(t, `{
		"model": "claude", "max_tokens": 100, "system": "be brief",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	assert.Equal(t, "be brief", asString.System)

	asBlocks := decodeMessageRequest(t, `{
		"model": "claude", "max_tokens": 100,
		"system": [{"type":"text","text":"be brief"},{"type":"text","text":"be kind"}],
		"messages": [{"role":"user","content":"hi"}]
	}`)
	assert.Equal(t, "be brief\n\nbe kind", asBlocks.System)
}

func TestMessageRequest_StringContentBecomesTextBlock(t *testing.T) {
	req := decodeMessageRequest(t, `{
		"model": "claude", "max_tokens": 100,
		"messages": [{"role":"user","content":"hello"}]
	}`)

	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Blocks, 1)
	assert.Equal(t, "text", req.Messages[0].Blocks[0].Type)
	assert.Equal(t, "hello", req.Messages[0].Blocks[0].Text)
}

// tool_result blocks embedded in a user message become standalone
// tool-result turns; the surrounding blocks keep their order.
func TestToContext_ToolResultSplitting(t *testing.T) {
	req := decodeMessageRequest(t, `{
		"model": "claude", "max_tokens": 100,
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "before"},
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "rainy", "is_error": true},
				{"type": "text", "text": "after"}
			]
		}]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 3)

	assert.Equal(t, "user", ctx.Messages[0].Role)
	assert.Equal(t, "before", ctx.Messages[0].Content[0].Text)

	result := ctx.Messages[1]
	assert.Equal(t, models.RoleToolResult, result.Role)
	assert.Equal(t, "toolu_1", result.ToolCallID)
	assert.True(t, result.IsError, "is_error must be carried losslessly")
	assert.Equal(t, "rainy", result.Content[0].Text)

	assert.Equal(t, "user", ctx.Messages[2].Role)
	assert.Equal(t, "after", ctx.Messages[2].Content[0].Text)
}

func TestToContext_ToolUseInputPreserved(t *testing.T) {
	const input = `{"location":"London","unit":"celsius"}`
	req := decodeMessageRequest(t, `{
		"model": "claude", "max_tokens": 100,
		"messages": [{
			"role": "assistant",
			"content": [{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"location":"London","unit":"celsius"}}]
		}]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	block := ctx.Messages[0].Content[0]
	require.Equal(t, models.BlockToolCall, block.Kind)
	assert.Equal(t, input, string(block.Arguments))
}

func TestFromMessageResponse_StopReasonMapping(t *testing.T) {
	testCases := []struct {
		reason models.StopReason
		want   string
	}{
		{models.StopReasonStop, "end_turn"},
		{models.StopReasonLength, "max_tokens"},
		{models.StopReasonToolUse, "tool_use"},
		{models.StopReasonError, "end_turn"},
		{models.StopReasonAborted, "end_turn"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.reason), func(t *testing.T) {
			resp := FromMessageResponse(&models.AssistantMessage{
				Content:    []models.Block{models.TextBlock("hi")},
				StopReason: tc.reason,
			}, "msg_test", "claude-sonnet-4.5")
			assert.Equal(t, tc.want, resp.StopReason)
		})
	}
}

func TestFromMessageResponse_ContentStaysStructured(t *testing.T) {
	resp := FromMessageResponse(&models.AssistantMessage{
		Content: []models.Block{
			{Kind: models.BlockThinking, Thinking: "considering"},
			models.TextBlock("Here you go"),
			models.ToolCallBlock("toolu_1", "get_weather", json.RawMessage(`{"location":"London"}`)),
		},
		StopReason: models.StopReasonToolUse,
		Usage:      models.Usage{Input: 12, Output: 7},
	}, "msg_test", "claude-sonnet-4.5")

	require.Len(t, resp.Content, 3)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "considering", resp.Content[0].Thinking)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "tool_use", resp.Content[2].Type)
	assert.Equal(t, `{"location":"London"}`, string(resp.Content[2].Input))
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
}

func collectNames(events []NamedEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func TestStreamTranslator_FullSequence(t *testing.T) {
	st := NewStreamTranslator("msg_test", "claude-sonnet-4.5")

	var names []string
	sequence := []models.StreamEvent{
		{Type: models.EventStart},
		{Type: models.EventTextStart, ContentIndex: 0},
		{Type: models.EventTextDelta, ContentIndex: 0, Delta: "Hel"},
		{Type: models.EventTextDelta, ContentIndex: 0, Delta: "lo"},
		{Type: models.EventTextEnd, ContentIndex: 0},
		{Type: models.EventDone, Message: &models.AssistantMessage{
			StopReason: models.StopReasonStop,
			Usage:      models.Usage{Output: 2},
		}},
	}
	for _, ev := range sequence {
		names = append(names, collectNames(st.Translate(ev))...)
	}

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)
}

// message_stop must be the last event, immediately after message_delta.
func TestStreamTranslator_DoneOrdering(t *testing.T) {
	st := NewStreamTranslator("msg_test", "claude-sonnet-4.5")

	out := st.Translate(models.StreamEvent{Type: models.EventDone, Message: &models.AssistantMessage{
		StopReason: models.StopReasonLength,
		Usage:      models.Usage{Output: 42},
	}})

	require.Len(t, out, 2)
	assert.Equal(t, "message_delta", out[0].Name)
	assert.Equal(t, "message_stop", out[1].Name)

	payload := out[0].Payload.(map[string]any)
	delta := payload["delta"].(map[string]any)
	assert.Equal(t, "max_tokens", delta["stop_reason"])
	usage := payload["usage"].(map[string]int)
	assert.Equal(t, 42, usage["output_tokens"])
}

func TestStreamTranslator_ToolArgumentAccumulation(t *testing.T) {
	st := NewStreamTranslator("msg_test", "claude-sonnet-4.5")

	start := st.Translate(models.StreamEvent{
		Type: models.EventToolCallStart, ContentIndex: 1,
		ToolCall: &models.ToolCall{ID: "toolu_1", Name: "get_weather"},
	})
	require.Len(t, start, 1)
	assert.Equal(t, "content_block_start", start[0].Name)

	first := st.Translate(models.StreamEvent{Type: models.EventToolCallDelta, ContentIndex: 1, Delta: `{"loc`})
	second := st.Translate(models.StreamEvent{Type: models.EventToolCallDelta, ContentIndex: 1, Delta: `ation":"London"}`})

	firstDelta := first[0].Payload.(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", firstDelta["type"])
	assert.Equal(t, `{"loc`, firstDelta["partial_json"])
	secondDelta := second[0].Payload.(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, `ation":"London"}`, secondDelta["partial_json"])

	end := st.Translate(models.StreamEvent{Type: models.EventToolCallEnd, ContentIndex: 1})
	require.Len(t, end, 1)
	assert.Equal(t, "content_block_stop", end[0].Name)
}

// Backend error detail never reaches the client; the stream error payload
// is a fixed generic message.
func TestStreamTranslator_ErrorIsSanitized(t *testing.T) {
	st := NewStreamTranslator("msg_test", "claude-sonnet-4.5")

	out := st.Translate(models.StreamEvent{Type: models.EventError, Error: "token sk-secret leaked upstream"})
	require.Len(t, out, 1)
	assert.Equal(t, "error", out[0].Name)

	payload := out[0].Payload.(map[string]any)["error"].(map[string]any)
	assert.Equal(t, "api_error", payload["type"])
	assert.Equal(t, "internal server error", payload["message"])
	assert.NotContains(t, payload["message"], "sk-secret")
}

func TestStreamTranslator_ThinkingAbsorbed(t *testing.T) {
	st := NewStreamTranslator("msg_test", "claude-sonnet-4.5")

	for _, evType := range []models.EventType{
		models.EventThinkingStart, models.EventThinkingDelta, models.EventThinkingEnd,
	} {
		assert.Empty(t, st.Translate(models.StreamEvent{Type: evType, Delta: "hmm"}))
	}
}

func TestFromModelsAnthropic_Listing(t *testing.T) {
	list := FromModelsAnthropic([]models.Model{{ID: "claude-sonnet-4.5", Name: "Claude Sonnet 4.5"}})
	require.Len(t, list.Data, 1)
	assert.Equal(t, "claude-sonnet-4.5", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Type)
	assert.False(t, list.HasMore)
}
