package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-gateway/internal/models"
)

func decodeChatRequest(t *testing.T, payload string) ChatCompletionRequest {
	t.Helper()
	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	return req
}

func TestChatRequest_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "missing model",
			payload: `{"messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "model must be provided",
		},
		{
			name:    "empty messages",
			payload: `{"model":"gpt-4","messages":[]}`,
			wantErr: "at least one message is required",
		},
		{
			name:    "bad role",
			payload: `{"model":"gpt-4","messages":[{"role":"wizard","content":"hi"}]}`,
			wantErr: "invalid role",
		},
		{
			name:    "unsupported content segment",
			payload: `{"model":"gpt-4","messages":[{"role":"user","content":[{"type":"audio"}]}]}`,
			wantErr: "invalid message content",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var req ChatCompletionRequest
			err := json.Unmarshal([]byte(tc.payload), &req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestToContext_FirstSystemMessageWins(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "system", "content": "first instructions"},
			{"role": "user", "content": "hi"},
			{"role": "system", "content": "second instructions"}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	assert.Equal(t, "first instructions", ctx.SystemPrompt)
	require.Len(t, ctx.Messages, 1)
	assert.Equal(t, models.RoleUser, ctx.Messages[0].Role)
}

func TestToContext_ToolResultMessage(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "tool", "tool_call_id": "call_1", "name": "get_weather", "content": "sunny"}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 1)

	msg := ctx.Messages[0]
	assert.Equal(t, models.RoleToolResult, msg.Role)
	assert.Equal(t, "call_1", msg.ToolCallID)
	assert.Equal(t, "get_weather", msg.ToolName)
	// this format has no error signal on tool results
	assert.False(t, msg.IsError)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "sunny", msg.Content[0].Text)
}

func TestToContext_DataURIImage(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,iVBORw0KGgo="}}
			]}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 1)
	require.Len(t, ctx.Messages[0].Content, 2)

	img := ctx.Messages[0].Content[1]
	assert.Equal(t, models.BlockImage, img.Kind)
	assert.Equal(t, "iVBORw0KGgo=", img.Data)
	assert.Equal(t, "image/png", img.MimeType)
}

func TestToContext_BareImageURLPassesThrough(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "user", "content": [
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	img := ctx.Messages[0].Content[0]
	assert.Equal(t, "https://example.com/cat.png", img.Data)
	assert.Empty(t, img.MimeType)
}

// Tool call arguments must survive normalization byte-for-byte, including
// key order, so signed or hashed payloads round-trip.
func TestToolArguments_RoundTripPreservesKeyOrder(t *testing.T) {
	const args = `{"location":"London","unit":"celsius"}`

	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function",
				 "function": {"name": "get_weather", "arguments": "{\"location\":\"London\",\"unit\":\"celsius\"}"}}
			]}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	block := ctx.Messages[0].Content[0]
	require.Equal(t, models.BlockToolCall, block.Kind)
	assert.Equal(t, args, string(block.Arguments))

	resp := FromResponse(&models.AssistantMessage{
		Content:    []models.Block{models.ToolCallBlock("call_1", "get_weather", block.Arguments)},
		StopReason: models.StopReasonToolUse,
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, args, resp.Choices[0].Message.ToolCalls[0].Function.Arguments)
}

func TestToContext_InvalidToolArgumentsFatal(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function",
				 "function": {"name": "get_weather", "arguments": "{not json"}}
			]}
		]
	}`)

	_, err := req.ToContext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestToContext_EmptyToolArgumentsDefault(t *testing.T) {
	req := decodeChatRequest(t, `{
		"model": "gpt-4",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "ping", "arguments": ""}}
			]}
		]
	}`)

	ctx, err := req.ToContext()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(ctx.Messages[0].Content[0].Arguments))
}

func TestFromResponse_NullContentWithToolCalls(t *testing.T) {
	resp := FromResponse(&models.AssistantMessage{
		Content: []models.Block{
			models.ToolCallBlock("call_1", "get_weather", json.RawMessage(`{}`)),
		},
		StopReason: models.StopReasonToolUse,
		Usage:      models.Usage{Input: 10, Output: 4},
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	choice := resp.Choices[0]
	assert.Nil(t, choice.Message.Content, "no text blocks means null content, not empty string")
	assert.Equal(t, "tool_calls", choice.FinishReason)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestFromResponse_ConcatenatesTextBlocks(t *testing.T) {
	resp := FromResponse(&models.AssistantMessage{
		Content: []models.Block{
			models.TextBlock("Hello"),
			models.TextBlock(", world"),
		},
		StopReason: models.StopReasonStop,
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hello, world", *resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestFromEvent_TextDelta(t *testing.T) {
	chunk := FromEvent(models.StreamEvent{
		Type:  models.EventTextDelta,
		Delta: "Hel",
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	require.NotNil(t, chunk)
	assert.Equal(t, "chat.completion.chunk", chunk.Object)
	require.NotNil(t, chunk.Choices[0].Delta.Content)
	assert.Equal(t, "Hel", *chunk.Choices[0].Delta.Content)
	assert.Nil(t, chunk.Choices[0].FinishReason)
}

func TestFromEvent_ToolCallEmittedOnceAtEnd(t *testing.T) {
	// start and delta produce nothing; the complete call surfaces on end
	start := FromEvent(models.StreamEvent{
		Type: models.EventToolCallStart, ContentIndex: 1,
		ToolCall: &models.ToolCall{ID: "call_1", Name: "get_weather"},
	}, "chatcmpl-test", "gpt-4.1", 1700000000)
	assert.Nil(t, start)

	delta := FromEvent(models.StreamEvent{
		Type: models.EventToolCallDelta, ContentIndex: 1, Delta: `{"loc`,
	}, "chatcmpl-test", "gpt-4.1", 1700000000)
	assert.Nil(t, delta)

	end := FromEvent(models.StreamEvent{
		Type: models.EventToolCallEnd, ContentIndex: 1,
		ToolCall: &models.ToolCall{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"location":"London"}`)},
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	require.NotNil(t, end)
	calls := end.Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Index)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"location":"London"}`, calls[0].Function.Arguments)
}

func TestFromEvent_DoneCarriesFinishReason(t *testing.T) {
	chunk := FromEvent(models.StreamEvent{
		Type:   models.EventDone,
		Reason: models.StopReasonLength,
	}, "chatcmpl-test", "gpt-4.1", 1700000000)

	require.NotNil(t, chunk)
	require.NotNil(t, chunk.Choices[0].FinishReason)
	assert.Equal(t, "length", *chunk.Choices[0].FinishReason)
}

func TestFromEvent_AbsorbedEvents(t *testing.T) {
	absorbed := []models.EventType{
		models.EventStart,
		models.EventTextStart,
		models.EventTextEnd,
		models.EventThinkingStart,
		models.EventThinkingDelta,
		models.EventThinkingEnd,
		models.EventError,
	}
	for _, evType := range absorbed {
		assert.Nil(t, FromEvent(models.StreamEvent{Type: evType}, "id", "m", 0),
			"event %s should not produce a chunk", evType)
	}
}

func TestFromModels_Listing(t *testing.T) {
	list := FromModels([]models.Model{
		{ID: "claude-sonnet-4.5", Name: "Claude Sonnet 4.5"},
		{ID: "gpt-4.1", Name: "GPT-4.1"},
	})

	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "claude-sonnet-4.5", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
	assert.Equal(t, "github-copilot", list.Data[0].OwnedBy)
}
