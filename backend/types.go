package backend

import (
	"context"
	"encoding/json"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested action invocation. Tool calls are only ever
// produced by adapter responses, never synthesized by the loop.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one conversational unit in the neutral protocol shape.
// Assistant messages may carry tool calls; tool messages answer exactly one
// tool call, referenced by ToolCallID. Messages are treated as immutable
// once appended to a session.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage creates a tool-role Message answering the given call.
func ToolResultMessage(result ToolResult) Message {
	content := result.Content
	if result.IsError {
		content = "Error: " + result.Content
	}
	return Message{Role: RoleTool, Content: content, ToolCallID: result.ToolCallID}
}

// ToolDefinition is the schema advertised to the model for one callable tool.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the neutral chat request sent to an Adapter.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption reported by an adapter.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the neutral chat response returned by an Adapter.
type Response struct {
	Message    Message `json:"message"`
	Usage      Usage   `json:"usage"`
	StopReason string  `json:"stop_reason,omitempty"`
}

// Continues reports whether the response requests further action from the
// loop rather than ending the turn.
func (r *Response) Continues() bool {
	return len(r.Message.ToolCalls) > 0
}

// Adapter translates the neutral shape to and from one vendor's wire format.
type Adapter interface {
	// Name returns the vendor identifier (e.g. "openai", "anthropic").
	Name() string

	// Chat sends a blocking request and returns the normalized response.
	Chat(ctx context.Context, req Request) (*Response, error)
}

// EstimateTokens gives a rough token count for a message list, used for
// context budget checks when no exact count is available. The 4-chars-per-
// token approximation is deliberately conservative.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	return chars / 4
}
