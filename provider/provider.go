// Package provider defines the model provider contract shared by every
// backend the agent loop can drive.
package provider

import "context"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns that requested tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool results
	IsError    bool       `json:"is_error,omitempty"`     // tool result reports a failure
}

// ToolDef describes a tool the model can invoke.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopToolUse   StopReason = "tool_use"
)

// Response is a completed (non-streaming) provider response.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventContentDelta EventType = "content_block_delta"
	EventMessageDelta EventType = "message_delta"
	EventMessageStop  EventType = "message_stop"
	EventError        EventType = "error"
)

// StreamEvent is emitted during streaming responses.
//
// A content delta carries either a text fragment or a fragment of a tool
// call's JSON input. ToolID and ToolName are set on the first fragment of a
// tool block; later fragments for the same block share its Index.
type StreamEvent struct {
	Type       EventType  `json:"type"`
	Index      int        `json:"index,omitempty"`
	Text       string     `json:"text,omitempty"`
	ToolID     string     `json:"tool_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolInput  string     `json:"tool_input,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	Err        error      `json:"-"`
}

// IsToolFragment reports whether the event belongs to a tool-use block.
func (e StreamEvent) IsToolFragment() bool {
	return e.ToolID != "" || e.ToolName != "" || e.ToolInput != ""
}

// Provider is a model backend that powers agent reasoning. Callers depend
// only on this interface, never on a concrete backend.
type Provider interface {
	// Name returns the backend identifier (e.g., "anthropic", "openai", "mock").
	Name() string

	// ModelName returns the model this provider sends requests to.
	ModelName() string

	// Chat sends a non-streaming request and returns the complete response.
	Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)

	// Stream sends a streaming request. Events are delivered on the returned
	// channel, which is closed after message_stop or error. The sequence is
	// finite and cannot be restarted; cancelling ctx stops the producer.
	Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error)
}

// EstimateTokens approximates the input token count of a conversation at
// four characters per token.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + 16*len(tc.Arguments)
		}
	}
	return chars/4 + 1
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
