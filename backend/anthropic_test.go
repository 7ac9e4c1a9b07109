package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertAnthropicMessagesExtractsSystem(t *testing.T) {
	system, msgs := convertAnthropicMessages([]Message{
		SystemMessage("be helpful"),
		UserMessage("hi"),
	})

	assert.Equal(t, "be helpful", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content[0].Text)
}

func TestConvertAnthropicMessagesToolUseBlocks(t *testing.T) {
	_, msgs := convertAnthropicMessages([]Message{
		UserMessage("list the files"),
		AssistantMessage("looking", ToolCall{ID: "call_1", Name: "list_files", Arguments: json.RawMessage(`{"path":"."}`)}),
	})

	require.Len(t, msgs, 2)
	blocks := msgs[1].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "looking", blocks[0].Text)
	assert.Equal(t, "tool_use", blocks[1].Type)
	assert.Equal(t, "call_1", blocks[1].ID)
	assert.Equal(t, "list_files", blocks[1].Name)
	assert.JSONEq(t, `{"path":"."}`, string(blocks[1].Input))
}

func TestConvertAnthropicMessagesEmptyToolInput(t *testing.T) {
	_, msgs := convertAnthropicMessages([]Message{
		UserMessage("go"),
		AssistantMessage("", ToolCall{ID: "c1", Name: "todo"}),
	})

	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{}`, string(msgs[1].Content[0].Input))
}

func TestConvertAnthropicMessagesGroupsToolResults(t *testing.T) {
	_, msgs := convertAnthropicMessages([]Message{
		UserMessage("run both"),
		AssistantMessage("",
			ToolCall{ID: "a", Name: "read_file", Arguments: json.RawMessage(`{}`)},
			ToolCall{ID: "b", Name: "glob", Arguments: json.RawMessage(`{}`)},
		),
		ToolResultMessage(ToolResult{ToolCallID: "a", Content: "contents"}),
		ToolResultMessage(ToolResult{ToolCallID: "b", Content: "matches"}),
	})

	// user, assistant, then ONE user message holding both results.
	require.Len(t, msgs, 3)
	last := msgs[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Content, 2)
	assert.Equal(t, "tool_result", last.Content[0].Type)
	assert.Equal(t, "a", last.Content[0].ToolUseID)
	assert.Equal(t, "tool_result", last.Content[1].Type)
	assert.Equal(t, "b", last.Content[1].ToolUseID)
}

func TestConvertAnthropicMessagesSyntheticLeadingUser(t *testing.T) {
	_, msgs := convertAnthropicMessages([]Message{
		AssistantMessage("I went first"),
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestConvertAnthropicMessagesMergesConsecutiveRoles(t *testing.T) {
	_, msgs := convertAnthropicMessages([]Message{
		UserMessage("first"),
		UserMessage("second"),
		AssistantMessage("one"),
		AssistantMessage("two"),
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
}

func TestAnthropicTranslateRequestToolSchemas(t *testing.T) {
	a := NewAnthropicAdapter("key", "")
	wireReq := a.translateRequest(Request{
		Model:    "claude-x",
		Messages: []Message{UserMessage("hi")},
		Tools: []ToolDefinition{{
			Name:        "grep",
			Description: "search",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	})

	require.Len(t, wireReq.Tools, 1)
	assert.Equal(t, "grep", wireReq.Tools[0].Name)
	assert.NotNil(t, wireReq.Tools[0].InputSchema)
	assert.Equal(t, map[string]interface{}{"type": "auto"}, wireReq.ToolChoice)
	assert.Equal(t, 4096, wireReq.MaxTokens)

	data, err := json.Marshal(wireReq)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input_schema"`)
	assert.NotContains(t, string(data), `"parameters"`)
}

func TestAnthropicTranslateResponseFlattens(t *testing.T) {
	a := NewAnthropicAdapter("key", "")
	resp := a.translateResponse(&anthropicResponse{
		Content: []anthropicContentBlock{
			{Type: "text", Text: "working on it"},
			{Type: "tool_use", ID: "t1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)},
		},
		StopReason: "tool_use",
	})

	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Equal(t, "working on it", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "t1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "shell", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.True(t, resp.Continues())
}

func TestAnthropicChatRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var wireReq anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wireReq))
		assert.Equal(t, "system text", wireReq.System)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content":     []map[string]interface{}{{"type": "text", "text": "hello back"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer server.Close()

	a := NewAnthropicAdapter("key", server.URL)
	resp, err := a.Chat(t.Context(), Request{
		Model:    "claude-x",
		Messages: []Message{SystemMessage("system text"), UserMessage("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Message.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.Continues())
}

func TestAnthropicChatErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	a := NewAnthropicAdapter("key", server.URL)
	_, err := a.Chat(t.Context(), Request{Model: "claude-x", Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)

	rl, ok := err.(*RateLimitError)
	require.True(t, ok, "expected rate limit error, got %T", err)
	assert.Contains(t, rl.Message, "slow down")
	require.NotNil(t, rl.RetryAfter)
	assert.Equal(t, 3.0, *rl.RetryAfter)
	assert.True(t, IsRetryable(err))
}
