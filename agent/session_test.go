package agent

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/backend"
)

func TestSessionSeedsSystemPrompt(t *testing.T) {
	s := NewSession(BuildProfile())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, backend.RoleSystem, msgs[0].Role)
	assert.Equal(t, BuildProfile().SystemPrompt, msgs[0].Content)
}

func TestSessionAppendPairingInvariant(t *testing.T) {
	s := NewSession(BuildProfile())

	require.NoError(t, s.Append(backend.UserMessage("hi")))
	require.NoError(t, s.Append(backend.AssistantMessage("", backend.ToolCall{ID: "c1", Name: "grep"})))
	assert.ElementsMatch(t, []string{"c1"}, s.Outstanding())

	// Orphan result: no such outstanding call.
	err := s.Append(backend.ToolResultMessage(backend.ToolResult{ToolCallID: "zz", Content: "x"}))
	require.Error(t, err)

	require.NoError(t, s.Append(backend.ToolResultMessage(backend.ToolResult{ToolCallID: "c1", Content: "found"})))
	assert.Empty(t, s.Outstanding())

	// Duplicate result for an already answered call.
	err = s.Append(backend.ToolResultMessage(backend.ToolResult{ToolCallID: "c1", Content: "again"}))
	require.Error(t, err)

	// Re-using a live call id is rejected.
	require.NoError(t, s.Append(backend.AssistantMessage("", backend.ToolCall{ID: "c2", Name: "grep"})))
	err = s.Append(backend.AssistantMessage("", backend.ToolCall{ID: "c2", Name: "glob"}))
	require.Error(t, err)
}

func TestSessionForkIndependence(t *testing.T) {
	parent := NewSession(BuildProfile())
	require.NoError(t, parent.Append(backend.UserMessage("original question")))
	require.NoError(t, parent.Append(backend.AssistantMessage("an answer")))

	child := parent.Fork(DelegatedProfile())
	assert.Equal(t, parent.ID(), child.ParentID())
	assert.Equal(t, "delegated", child.Profile().Name)

	// Child got the history with the profile prompt substituted.
	childMsgs := child.Messages()
	require.Len(t, childMsgs, 3)
	assert.Equal(t, DelegatedProfile().SystemPrompt, childMsgs[0].Content)
	assert.Equal(t, "original question", childMsgs[1].Content)

	// Appends on either side stay invisible to the other.
	require.NoError(t, child.Append(backend.UserMessage("child only")))
	require.NoError(t, parent.Append(backend.UserMessage("parent only")))
	assert.Equal(t, 4, child.Len())
	assert.Equal(t, 4, parent.Len())
	assert.Equal(t, "parent only", parent.Messages()[3].Content)
	assert.Equal(t, "child only", child.Messages()[3].Content)
}

func TestSessionForkTrimsUnansweredCalls(t *testing.T) {
	parent := NewSession(BuildProfile())
	require.NoError(t, parent.Append(backend.UserMessage("do a thing")))
	require.NoError(t, parent.Append(backend.AssistantMessage("", backend.ToolCall{ID: "d1", Name: DelegateToolName})))

	child := parent.Fork(DelegatedProfile())
	assert.Empty(t, child.Outstanding())
	for _, m := range child.Messages() {
		assert.Empty(t, m.ToolCalls, "unanswered exchange should not survive the fork")
	}
	// Parent still has the call outstanding.
	assert.ElementsMatch(t, []string{"d1"}, parent.Outstanding())
}

func buildHistory(t *testing.T, n int) *Session {
	t.Helper()
	s := NewSession(BuildProfile())
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(backend.UserMessage("question")))
		require.NoError(t, s.Append(backend.AssistantMessage("answer")))
	}
	return s
}

func TestSessionCompactKeepsRecent(t *testing.T) {
	s := buildHistory(t, 20) // 41 messages with the system prompt

	require.True(t, s.Compact("what came before", 10))

	msgs := s.Messages()
	// system + summary + 10 kept
	require.Len(t, msgs, 12)
	assert.Equal(t, backend.RoleSystem, msgs[0].Role)
	assert.Equal(t, backend.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "what came before")
	assert.Contains(t, msgs[1].Content, "[CONVERSATION SUMMARY]")
}

func TestSessionCompactIdempotent(t *testing.T) {
	s := buildHistory(t, 20)
	require.True(t, s.Compact("summary one", 10))
	lenAfter := s.Len()

	// No appends in between: a second compaction is a no-op.
	assert.False(t, s.Compact("summary two", 10))
	assert.Equal(t, lenAfter, s.Len())

	// New appends re-enable it.
	require.NoError(t, s.Append(backend.UserMessage("more")))
	require.NoError(t, s.Append(backend.AssistantMessage("more back")))
	assert.True(t, s.Compact("summary three", 10))
}

func TestSessionCompactKeepsExchangesAtomic(t *testing.T) {
	s := NewSession(BuildProfile())
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(backend.UserMessage("q")))
		require.NoError(t, s.Append(backend.AssistantMessage("a")))
	}
	// An exchange that would straddle the cut boundary.
	require.NoError(t, s.Append(backend.AssistantMessage("", backend.ToolCall{ID: "x1", Name: "grep"})))
	require.NoError(t, s.Append(backend.ToolResultMessage(backend.ToolResult{ToolCallID: "x1", Content: "hit"})))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(backend.UserMessage("q")))
		require.NoError(t, s.Append(backend.AssistantMessage("a")))
	}

	require.True(t, s.Compact("sum", 7))

	// No tool result may appear without its call earlier in the list.
	open := map[string]bool{}
	for _, m := range s.Messages() {
		switch m.Role {
		case backend.RoleAssistant:
			for _, tc := range m.ToolCalls {
				open[tc.ID] = true
			}
		case backend.RoleTool:
			assert.True(t, open[m.ToolCallID], "orphaned tool result %s after compaction", m.ToolCallID)
		}
	}
}

func TestSessionNeedsCompaction(t *testing.T) {
	s := NewSession(BuildProfile())
	assert.False(t, s.NeedsCompaction(200000, 0.8, 100))

	for i := 0; i < 51; i++ {
		require.NoError(t, s.Append(backend.UserMessage("q")))
		require.NoError(t, s.Append(backend.AssistantMessage("a")))
	}
	assert.True(t, s.NeedsCompaction(200000, 0.8, 100), "message count fallback")

	small := NewSession(BuildProfile())
	require.NoError(t, small.Append(backend.UserMessage(string(make([]byte, 5000)))))
	assert.True(t, small.NeedsCompaction(1000, 0.8, 100), "token budget trigger")
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	s := NewSession(BuildProfile())
	require.NoError(t, s.Append(backend.UserMessage("persist me")))
	require.NoError(t, s.Append(backend.AssistantMessage("", backend.ToolCall{ID: "c1", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)})))
	require.NoError(t, s.Append(backend.ToolResultMessage(backend.ToolResult{ToolCallID: "c1", Content: "a.go"})))
	s.RecordUsage(backend.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, s.Save(path))

	loaded, err := LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), loaded.ID())
	assert.Equal(t, "build", loaded.Profile().Name)
	assert.Equal(t, s.Usage(), loaded.Usage())
	assert.Empty(t, loaded.Outstanding())

	want, got := s.Messages(), loaded.Messages()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Role, got[i].Role)
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.Equal(t, want[i].ToolCallID, got[i].ToolCallID)
		require.Len(t, got[i].ToolCalls, len(want[i].ToolCalls))
		for j := range want[i].ToolCalls {
			assert.Equal(t, want[i].ToolCalls[j].ID, got[i].ToolCalls[j].ID)
			assert.Equal(t, want[i].ToolCalls[j].Name, got[i].ToolCalls[j].Name)
			assert.JSONEq(t, string(want[i].ToolCalls[j].Arguments), string(got[i].ToolCalls[j].Arguments))
		}
	}
}
