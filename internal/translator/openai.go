package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"copilot-gateway/internal/models"
)

var (
	errEmptyModel       = errors.New("model must be provided")
	errEmptyMessages    = errors.New("at least one message is required")
	errInvalidRole      = errors.New("invalid role")
	errInvalidContent   = errors.New("invalid message content")
	errInvalidToolCall  = errors.New("invalid tool call")
	errInvalidArguments = errors.New("tool call arguments are not valid JSON")
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ChatCompletionRequest models the OpenAI chat/completions request payload.
type ChatCompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   *int
	Stream      bool
	Tools       []ChatTool
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Temperature *float64      `json:"temperature"`
		MaxTokens   *int          `json:"max_tokens"`
		Stream      bool          `json:"stream"`
		Tools       []ChatTool    `json:"tools"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Temperature = raw.Temperature
	r.MaxTokens = raw.MaxTokens
	r.Stream = raw.Stream
	r.Tools = raw.Tools

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// ChatMessage captures a single message within the chat request. Content
// holds the flattened text; Parts preserves typed segments (text and
// image_url) when the caller sent an array.
type ChatMessage struct {
	Role       string
	Content    string
	Parts      []ChatContentPart
	ToolCalls  []ChatToolCall
	ToolCallID string
	Name       string
}

// ChatContentPart is one typed segment of array-form message content.
type ChatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// ChatToolCall mirrors the tool_calls entries of an assistant message.
type ChatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatTool is an OpenAI-style tool definition wrapper.
type ChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// UnmarshalJSON supports string and array-of-parts content.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ChatToolCall  `json:"tool_calls"`
		ToolCallID string          `json:"tool_call_id"`
		Name       string          `json:"name"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID
	m.Name = raw.Name

	if len(raw.Content) > 0 && string(raw.Content) != "null" {
		var text string
		if err := json.Unmarshal(raw.Content, &text); err == nil {
			m.Content = text
		} else {
			var parts []ChatContentPart
			if err := json.Unmarshal(raw.Content, &parts); err != nil {
				return fmt.Errorf("%w: unsupported content structure", errInvalidContent)
			}
			m.Parts = parts
		}
	}

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	for _, part := range m.Parts {
		switch part.Type {
		case "text", "image_url":
		default:
			return fmt.Errorf("%w: segment type %q not supported", errInvalidContent, part.Type)
		}
	}
	return nil
}

// ToContext normalizes the OpenAI request into the canonical context.
// The first system message becomes the system prompt; later system
// messages are ignored, not merged.
func (r ChatCompletionRequest) ToContext() (models.Context, error) {
	ctx := models.Context{}

	for i, msg := range r.Messages {
		switch msg.Role {
		case "system":
			if ctx.SystemPrompt == "" {
				ctx.SystemPrompt = msg.Content
			}

		case "user":
			blocks, err := userBlocks(msg)
			if err != nil {
				return models.Context{}, fmt.Errorf("messages[%d]: %w", i, err)
			}
			ctx.Messages = append(ctx.Messages, models.Message{
				Role:    models.RoleUser,
				Content: blocks,
			})

		case "assistant":
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return models.Context{}, fmt.Errorf("messages[%d]: %w", i, err)
			}
			ctx.Messages = append(ctx.Messages, models.Message{
				Role:    models.RoleAssistant,
				Content: blocks,
			})

		case "tool":
			// This format has no error-result signal at the schema
			// level, so IsError is always false here.
			ctx.Messages = append(ctx.Messages, models.Message{
				Role:       models.RoleToolResult,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.Name,
				Content:    []models.Block{models.TextBlock(msg.Content)},
				IsError:    false,
			})
		}
	}

	for _, tool := range r.Tools {
		ctx.Tools = append(ctx.Tools, models.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	return ctx, nil
}

func userBlocks(msg ChatMessage) ([]models.Block, error) {
	if len(msg.Parts) == 0 {
		return []models.Block{models.TextBlock(msg.Content)}, nil
	}

	blocks := make([]models.Block, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, models.TextBlock(part.Text))
		case "image_url":
			blocks = append(blocks, imageBlockFromURL(part.ImageURL.URL))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, models.TextBlock(""))
	}
	return blocks, nil
}

// imageBlockFromURL splits a data URI into payload and MIME type. A bare
// URL is passed through as opaque image data with no MIME inference.
func imageBlockFromURL(url string) models.Block {
	const scheme = "data:"
	if !strings.HasPrefix(url, scheme) {
		return models.ImageBlock(url, "")
	}

	rest := strings.TrimPrefix(url, scheme)
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return models.ImageBlock(url, "")
	}

	mimeType := strings.TrimSuffix(meta, ";base64")
	return models.ImageBlock(payload, mimeType)
}

func assistantBlocks(msg ChatMessage) ([]models.Block, error) {
	var blocks []models.Block

	if msg.Content != "" {
		blocks = append(blocks, models.TextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		if tc.ID == "" || tc.Function.Name == "" {
			return nil, fmt.Errorf("%w: id and function name are required", errInvalidToolCall)
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %q", errInvalidArguments, tc.Function.Arguments)
		}
		blocks = append(blocks, models.ToolCallBlock(tc.ID, tc.Function.Name, json.RawMessage(args)))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, models.TextBlock(""))
	}
	return blocks, nil
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   OpenAIUsage  `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a non-streaming response.
// Content is a pointer: it is null when the reply carries no text blocks,
// even if tool calls are present.
type ResponseMessage struct {
	Role      string             `json:"role"`
	Content   *string            `json:"content"`
	ToolCalls []ResponseToolCall `json:"tool_calls,omitempty"`
}

// ResponseToolCall is one tool call entry in a response or chunk.
type ResponseToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromResponse converts the completed backend message into the OpenAI
// response shape. Text blocks are concatenated in content order; thinking
// blocks are dropped.
func FromResponse(msg *models.AssistantMessage, requestID, model string, created int64) ChatCompletionResponse {
	var textParts []string
	var toolCalls []ResponseToolCall

	for _, block := range msg.Content {
		switch block.Kind {
		case models.BlockText:
			textParts = append(textParts, block.Text)
		case models.BlockToolCall:
			toolCalls = append(toolCalls, responseToolCall(block.ID, block.Name, block.Arguments))
		case models.BlockImage, models.BlockThinking:
			// not representable in this format's assistant output
		}
	}

	var content *string
	if len(textParts) > 0 {
		joined := strings.Join(textParts, "")
		content = &joined
	}

	return ChatCompletionResponse{
		ID:      requestID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{{
			Index: 0,
			Message: ResponseMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: openAIFinishReason(msg.StopReason),
		}},
		Usage: OpenAIUsage{
			PromptTokens:     msg.Usage.Input,
			CompletionTokens: msg.Usage.Output,
			TotalTokens:      msg.Usage.Input + msg.Usage.Output,
		},
	}
}

func responseToolCall(id, name string, arguments json.RawMessage) ResponseToolCall {
	tc := ResponseToolCall{ID: id, Type: "function"}
	tc.Function.Name = name
	tc.Function.Arguments = string(arguments)
	if tc.Function.Arguments == "" {
		tc.Function.Arguments = "{}"
	}
	return tc
}

// ChatCompletionChunk is one streaming SSE payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries the delta of a streaming chunk. FinishReason stays
// null until the terminal chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental content of a chunk.
type ChunkDelta struct {
	Content   *string            `json:"content,omitempty"`
	ToolCalls []ResponseToolCall `json:"tool_calls,omitempty"`
}

// FromEvent translates one backend stream event into at most one OpenAI
// chunk. Text deltas and completed tool calls map to chunks; done maps to
// the terminal chunk with a finish reason. Everything else is absorbed.
// The trailing `data: [DONE]` sentinel is the transport's concern.
func FromEvent(ev models.StreamEvent, requestID, model string, created int64) *ChatCompletionChunk {
	chunk := func(choice ChunkChoice) *ChatCompletionChunk {
		return &ChatCompletionChunk{
			ID:      requestID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChunkChoice{choice},
		}
	}

	switch ev.Type {
	case models.EventTextDelta:
		delta := ev.Delta
		return chunk(ChunkChoice{Index: 0, Delta: ChunkDelta{Content: &delta}})

	case models.EventToolCallEnd:
		// This format does not need incremental argument deltas; the
		// complete call is only known here.
		if ev.ToolCall == nil {
			return nil
		}
		tc := responseToolCall(ev.ToolCall.ID, ev.ToolCall.Name, ev.ToolCall.Arguments)
		tc.Index = ev.ContentIndex
		return chunk(ChunkChoice{Index: 0, Delta: ChunkDelta{ToolCalls: []ResponseToolCall{tc}}})

	case models.EventDone:
		reason := openAIFinishReason(ev.Reason)
		return chunk(ChunkChoice{Index: 0, Delta: ChunkDelta{}, FinishReason: &reason})

	case models.EventStart, models.EventTextStart, models.EventTextEnd,
		models.EventThinkingStart, models.EventThinkingDelta, models.EventThinkingEnd,
		models.EventToolCallStart, models.EventToolCallDelta, models.EventError:
		return nil
	}
	return nil
}

// openAIFinishReason maps backend stop reasons onto OpenAI finish reasons.
// A backend error is normalized to a benign terminal reason here; the error
// itself must be surfaced out-of-band before this mapping is reached.
func openAIFinishReason(reason models.StopReason) string {
	switch reason {
	case models.StopReasonStop:
		return "stop"
	case models.StopReasonLength:
		return "length"
	case models.StopReasonToolUse:
		return "tool_calls"
	case models.StopReasonError, models.StopReasonAborted:
		return "stop"
	}
	return "stop"
}

// ModelObject is the OpenAI-compatible model listing entry.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsListResponse wraps the OpenAI /v1/models listing.
type ModelsListResponse struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// FromModels converts backend models into the OpenAI listing shape.
func FromModels(backendModels []models.Model) ModelsListResponse {
	data := make([]ModelObject, 0, len(backendModels))
	for _, m := range backendModels {
		data = append(data, ModelObject{
			ID:      m.ID,
			Object:  "model",
			Created: 1677610600, // static timestamp for client compatibility
			OwnedBy: "github-copilot",
		})
	}
	return ModelsListResponse{Object: "list", Data: data}
}
