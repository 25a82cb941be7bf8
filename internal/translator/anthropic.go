package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"copilot-gateway/internal/models"
)

var (
	errAnthropicEmptyModel    = errors.New("model must be provided")
	errAnthropicEmptyMessages = errors.New("at least one message is required")
	errAnthropicMaxTokens     = errors.New("max_tokens must be a positive integer")
	errAnthropicInvalidRole   = errors.New("invalid role")
	errAnthropicInvalidBlock  = errors.New("invalid content block")
	errAnthropicInvalidSystem = errors.New("invalid system prompt")
)

// MessageRequest models the Anthropic /v1/messages request payload.
type MessageRequest struct {
	Model       string
	MaxTokens   int
	Messages    []AnthropicMessage
	System      string
	Tools       []AnthropicTool
	Stream      bool
	Temperature *float64
}

// UnmarshalJSON enforces validation and normalises fields. max_tokens is
// required by this format; its absence is a validation error raised before
// any backend call.
func (r *MessageRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string             `json:"model"`
		MaxTokens   *int               `json:"max_tokens"`
		Messages    []AnthropicMessage `json:"messages"`
		System      json.RawMessage    `json:"system"`
		Tools       []AnthropicTool    `json:"tools"`
		Stream      bool               `json:"stream"`
		Temperature *float64           `json:"temperature"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode messages request: %w", err)
	}

	system, err := parseAnthropicSystem(raw.System)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.System = system
	r.Tools = raw.Tools
	r.Stream = raw.Stream
	r.Temperature = raw.Temperature

	if raw.MaxTokens == nil || *raw.MaxTokens <= 0 {
		return errAnthropicMaxTokens
	}
	r.MaxTokens = *raw.MaxTokens

	return r.validate()
}

func (r *MessageRequest) validate() error {
	if r.Model == "" {
		return errAnthropicEmptyModel
	}
	if len(r.Messages) == 0 {
		return errAnthropicEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

func parseAnthropicSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, block := range blocks {
			if block.Type != "" && block.Type != "text" {
				return "", fmt.Errorf("%w: unsupported block type %q", errAnthropicInvalidSystem, block.Type)
			}
			parts = append(parts, block.Text)
		}
		return strings.Join(parts, "\n\n"), nil
	}

	return "", errAnthropicInvalidSystem
}

// AnthropicMessage represents a single message in the request payload.
// Content arrives as a plain string or an array of typed blocks.
type AnthropicMessage struct {
	Role   string
	Blocks []AnthropicBlock
}

// AnthropicBlock is one typed content block of a request message.
type AnthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// image
	Source struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// UnmarshalJSON normalises string content into a single text block.
func (m *AnthropicMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	m.Role = strings.TrimSpace(raw.Role)

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return fmt.Errorf("%w: missing content", errAnthropicInvalidBlock)
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Blocks = []AnthropicBlock{{Type: "text", Text: text}}
		return m.validate()
	}

	var blocks []AnthropicBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("%w: unsupported content structure", errAnthropicInvalidBlock)
	}
	m.Blocks = blocks

	return m.validate()
}

func (m *AnthropicMessage) validate() error {
	switch m.Role {
	case "user", "assistant":
	default:
		return fmt.Errorf("%w: %s", errAnthropicInvalidRole, m.Role)
	}
	for _, block := range m.Blocks {
		switch block.Type {
		case "text", "image", "tool_use", "tool_result":
		default:
			return fmt.Errorf("%w: unsupported block type %q", errAnthropicInvalidBlock, block.Type)
		}
	}
	return nil
}

// AnthropicTool is this format's tool definition.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToContext normalizes the Anthropic request into the canonical context.
// The system instruction is a dedicated top-level field here, so no
// extraction pass over the messages is needed.
func (r MessageRequest) ToContext() (models.Context, error) {
	ctx := models.Context{SystemPrompt: r.System}

	for i, msg := range r.Messages {
		converted, err := anthropicMessages(msg)
		if err != nil {
			return models.Context{}, fmt.Errorf("messages[%d]: %w", i, err)
		}
		ctx.Messages = append(ctx.Messages, converted...)
	}

	for _, tool := range r.Tools {
		ctx.Tools = append(ctx.Tools, models.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}

	return ctx, nil
}

// anthropicMessages converts one request message. tool_result blocks become
// standalone toolResult messages; surrounding blocks are grouped into
// messages of the original role with block order preserved.
func anthropicMessages(msg AnthropicMessage) ([]models.Message, error) {
	var out []models.Message
	var pending []models.Block

	flush := func() {
		if len(pending) == 0 {
			return
		}
		out = append(out, models.Message{Role: msg.Role, Content: pending})
		pending = nil
	}

	for _, block := range msg.Blocks {
		switch block.Type {
		case "text":
			pending = append(pending, models.TextBlock(block.Text))

		case "image":
			pending = append(pending, models.ImageBlock(block.Source.Data, block.Source.MediaType))

		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			pending = append(pending, models.ToolCallBlock(block.ID, block.Name, input))

		case "tool_result":
			flush()
			content, err := toolResultText(block.Content)
			if err != nil {
				return nil, err
			}
			// is_error is carried losslessly; this format, unlike the
			// OpenAI one, supports error-result signaling.
			out = append(out, models.Message{
				Role:       models.RoleToolResult,
				ToolCallID: block.ToolUseID,
				Content:    []models.Block{models.TextBlock(content)},
				IsError:    block.IsError,
			})
		}
	}

	flush()

	if len(out) == 0 {
		out = append(out, models.Message{
			Role:    msg.Role,
			Content: []models.Block{models.TextBlock("")},
		})
	}
	return out, nil
}

func toolResultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var builder strings.Builder
		for _, block := range blocks {
			builder.WriteString(block.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported tool_result content", errAnthropicInvalidBlock)
}

// MessageResponse models the Anthropic response payload.
type MessageResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Content      []ResponseBlock  `json:"content"`
	Model        string           `json:"model"`
	StopReason   string           `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        AnthropicUsage   `json:"usage"`
}

// ResponseBlock is one content block of an Anthropic response.
type ResponseBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
}

// AnthropicUsage mirrors this format's usage shape.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FromMessageResponse converts the completed backend message into the
// Anthropic response shape. Content stays a list; nothing is flattened.
func FromMessageResponse(msg *models.AssistantMessage, requestID, model string) MessageResponse {
	var content []ResponseBlock

	for _, block := range msg.Content {
		switch block.Kind {
		case models.BlockText:
			content = append(content, ResponseBlock{Type: "text", Text: block.Text})
		case models.BlockToolCall:
			input := block.Arguments
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			content = append(content, ResponseBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		case models.BlockThinking:
			content = append(content, ResponseBlock{Type: "thinking", Thinking: block.Thinking})
		case models.BlockImage:
			// assistant output never carries images
		}
	}

	if content == nil {
		content = []ResponseBlock{}
	}

	return MessageResponse{
		ID:         requestID,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: anthropicStopReason(msg.StopReason),
		Usage: AnthropicUsage{
			InputTokens:  msg.Usage.Input,
			OutputTokens: msg.Usage.Output,
		},
	}
}

func anthropicStopReason(reason models.StopReason) string {
	switch reason {
	case models.StopReasonStop:
		return "end_turn"
	case models.StopReasonLength:
		return "max_tokens"
	case models.StopReasonToolUse:
		return "tool_use"
	case models.StopReasonError, models.StopReasonAborted:
		return "end_turn"
	}
	return "end_turn"
}

// NamedEvent is one named SSE payload of the Anthropic streaming protocol.
type NamedEvent struct {
	Name    string
	Payload any
}

// StreamTranslator converts backend stream events into Anthropic named
// events. It is stateful: incremental tool argument fragments are
// accumulated per content index until the matching toolcall_end, so a
// translator instance serves exactly one backend stream.
type StreamTranslator struct {
	requestID string
	model     string
	toolArgs  map[int]string
}

// NewStreamTranslator builds a translator for a single stream.
func NewStreamTranslator(requestID, model string) *StreamTranslator {
	return &StreamTranslator{
		requestID: requestID,
		model:     model,
		toolArgs:  make(map[int]string),
	}
}

// Translate maps one backend event to zero or more named events. done
// yields message_delta then message_stop, in that order: clients of this
// format assume message_stop is unconditionally last.
func (t *StreamTranslator) Translate(ev models.StreamEvent) []NamedEvent {
	switch ev.Type {
	case models.EventStart:
		return []NamedEvent{{
			Name: "message_start",
			Payload: map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id":            t.requestID,
					"type":          "message",
					"role":          "assistant",
					"content":       []any{},
					"model":         t.model,
					"stop_reason":   nil,
					"stop_sequence": nil,
					"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
				},
			},
		}}

	case models.EventTextStart:
		return []NamedEvent{{
			Name: "content_block_start",
			Payload: map[string]any{
				"type":          "content_block_start",
				"index":         ev.ContentIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			},
		}}

	case models.EventTextDelta:
		return []NamedEvent{{
			Name: "content_block_delta",
			Payload: map[string]any{
				"type":  "content_block_delta",
				"index": ev.ContentIndex,
				"delta": map[string]any{"type": "text_delta", "text": ev.Delta},
			},
		}}

	case models.EventTextEnd:
		return []NamedEvent{{
			Name:    "content_block_stop",
			Payload: map[string]any{"type": "content_block_stop", "index": ev.ContentIndex},
		}}

	case models.EventToolCallStart:
		t.toolArgs[ev.ContentIndex] = ""
		var id, name string
		if ev.ToolCall != nil {
			id, name = ev.ToolCall.ID, ev.ToolCall.Name
		}
		return []NamedEvent{{
			Name: "content_block_start",
			Payload: map[string]any{
				"type":  "content_block_start",
				"index": ev.ContentIndex,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    id,
					"name":  name,
					"input": map[string]any{},
				},
			},
		}}

	case models.EventToolCallDelta:
		t.toolArgs[ev.ContentIndex] += ev.Delta
		return []NamedEvent{{
			Name: "content_block_delta",
			Payload: map[string]any{
				"type":  "content_block_delta",
				"index": ev.ContentIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.Delta},
			},
		}}

	case models.EventToolCallEnd:
		delete(t.toolArgs, ev.ContentIndex)
		return []NamedEvent{{
			Name:    "content_block_stop",
			Payload: map[string]any{"type": "content_block_stop", "index": ev.ContentIndex},
		}}

	case models.EventDone:
		var outputTokens int
		reason := models.StopReasonStop
		if ev.Message != nil {
			outputTokens = ev.Message.Usage.Output
			reason = ev.Message.StopReason
		} else if ev.Reason != "" {
			reason = ev.Reason
		}
		return []NamedEvent{
			{
				Name: "message_delta",
				Payload: map[string]any{
					"type":  "message_delta",
					"delta": map[string]any{"stop_reason": anthropicStopReason(reason), "stop_sequence": nil},
					"usage": map[string]int{"output_tokens": outputTokens},
				},
			},
			{
				Name:    "message_stop",
				Payload: map[string]any{"type": "message_stop"},
			},
		}

	case models.EventError:
		// The backend's message is for server-side diagnostics only;
		// clients get a safe generic payload.
		return []NamedEvent{{
			Name: "error",
			Payload: map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": "internal server error"},
			},
		}}

	case models.EventThinkingStart, models.EventThinkingDelta, models.EventThinkingEnd:
		// thinking is opaque to this surface's stream
		return nil
	}
	return nil
}

// AnthropicModelObject is the Anthropic-compatible model listing entry.
type AnthropicModelObject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

// AnthropicModelsList wraps the Anthropic model listing.
type AnthropicModelsList struct {
	Data    []AnthropicModelObject `json:"data"`
	HasMore bool                   `json:"has_more"`
}

// FromModelsAnthropic converts backend models into the Anthropic listing shape.
func FromModelsAnthropic(backendModels []models.Model) AnthropicModelsList {
	data := make([]AnthropicModelObject, 0, len(backendModels))
	for _, m := range backendModels {
		data = append(data, AnthropicModelObject{
			ID:          m.ID,
			Name:        m.Name,
			DisplayName: m.Name,
			Type:        "model",
		})
	}
	return AnthropicModelsList{Data: data, HasMore: false}
}
