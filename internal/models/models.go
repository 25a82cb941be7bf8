package models

import "encoding/json"

// Role values used by the vendor-neutral schema.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
)

// Block kinds. Only text, image and toolCall blocks are representable in
// both public formats; thinking blocks are dropped or passed through as
// non-visible metadata depending on the caller's protocol.
const (
	BlockText     = "text"
	BlockImage    = "image"
	BlockToolCall = "toolCall"
	BlockThinking = "thinking"
)

// StopReason is the backend's terminal reason for a completed message.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// Context is the canonical request shape consumed by the backend.
type Context struct {
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
}

// Message is one conversational turn. Content is never empty after
// normalization; empty text is an explicit empty text block so that
// index-addressed streaming events stay valid.
type Message struct {
	Role       string  `json:"role"`
	Content    []Block `json:"content"`
	ToolCallID string  `json:"toolCallId,omitempty"`
	ToolName   string  `json:"toolName,omitempty"`
	IsError    bool    `json:"isError,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
}

// Block is one typed unit of message content. Kind selects which of the
// remaining fields are meaningful; consumers switch exhaustively on it.
type Block struct {
	Kind string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image: base64 payload (or an opaque URL passed through untouched)
	// plus the MIME type when known.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// toolCall: arguments kept as raw JSON so key order survives the
	// round trip through both public formats.
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

// ImageBlock builds an image content block.
func ImageBlock(data, mimeType string) Block {
	return Block{Kind: BlockImage, Data: data, MimeType: mimeType}
}

// ToolCallBlock builds a tool invocation block.
func ToolCallBlock(id, name string, arguments json.RawMessage) Block {
	return Block{Kind: BlockToolCall, ID: id, Name: name, Arguments: arguments}
}

// Tool describes a callable tool. Name is the join key between a public
// tool call and the internal block; it is never renamed across the boundary.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage records token accounting as reported by the backend.
type Usage struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	TotalTokens int `json:"totalTokens"`
}

// AssistantMessage is the fully materialized message carried by a done event.
type AssistantMessage struct {
	Role       string     `json:"role"`
	Content    []Block    `json:"content"`
	StopReason StopReason `json:"stopReason"`
	Usage      Usage      `json:"usage"`
	Timestamp  int64      `json:"timestamp,omitempty"`
}

// EventType identifies one unit of the backend's incremental output protocol.
type EventType string

const (
	EventStart         EventType = "start"
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCallStart EventType = "toolcall_start"
	EventToolCallDelta EventType = "toolcall_delta"
	EventToolCallEnd   EventType = "toolcall_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// StreamEvent is one backend stream event. Fields beyond Type are populated
// according to the event kind: Delta for the *_delta events, ToolCall for
// toolcall_start and toolcall_end, Message and Reason for done, Error for
// the error terminal.
type StreamEvent struct {
	Type         EventType         `json:"type"`
	ContentIndex int               `json:"contentIndex,omitempty"`
	Delta        string            `json:"delta,omitempty"`
	ToolCall     *ToolCall         `json:"toolCall,omitempty"`
	Message      *AssistantMessage `json:"message,omitempty"`
	Reason       StopReason        `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ToolCall identifies a tool invocation within a stream event. Arguments are
// complete on toolcall_end and empty on toolcall_start.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Terminal reports whether the event ends its stream. Exactly one terminal
// event is emitted per backend invocation.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Model identifies a backend model.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
}
