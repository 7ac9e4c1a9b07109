package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/backend"
)

// Summarizer condenses a run of messages into the summary text that
// replaces them during compaction.
type Summarizer interface {
	Summarize(ctx context.Context, messages []backend.Message) (string, error)
}

const summarizePrompt = `Summarize the conversation below for continued work. Preserve:
- the user's goals and any constraints they stated
- decisions made and their reasons
- file paths, commands, and identifiers that were mentioned
- current progress and what remains to be done

Be concise. Output only the summary.`

// AdapterSummarizer asks a backend for the summary. It is typically wired
// to a cheap text-only adapter since no tool use is involved.
type AdapterSummarizer struct {
	Adapter   backend.Adapter
	Model     string
	MaxTokens int
}

// Summarize sends the transcript as a single user message under the
// summarization prompt. On backend failure the caller should fall back to
// StaticSummary rather than skip compaction.
func (a *AdapterSummarizer) Summarize(ctx context.Context, messages []backend.Message) (string, error) {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	resp, err := a.Adapter.Chat(ctx, backend.Request{
		Model: a.Model,
		Messages: []backend.Message{
			backend.SystemMessage(summarizePrompt),
			backend.UserMessage(renderTranscript(messages)),
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// StaticSummary is the degraded fallback when no summarizer is available
// or the summarization call fails: a count plus the tail of the dropped
// text, enough for the model to know history was elided.
func StaticSummary(messages []backend.Message) string {
	var tail string
	for i := len(messages) - 1; i >= 0 && len(tail) < 400; i-- {
		if messages[i].Content != "" {
			tail = messages[i].Content + "\n" + tail
		}
	}
	if len(tail) > 400 {
		tail = tail[len(tail)-400:]
	}
	return fmt.Sprintf("%d earlier messages were removed to free context. Most recent removed content:\n%s",
		len(messages), strings.TrimSpace(tail))
}

// renderTranscript flattens messages into labeled lines for summarization.
func renderTranscript(messages []backend.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case backend.RoleSystem:
			continue
		case backend.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "assistant called %s(%s)\n", tc.Name, string(tc.Arguments))
			}
		case backend.RoleTool:
			content := m.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			fmt.Fprintf(&b, "tool result: %s\n", content)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

// summarizeOrFallback wraps a Summarizer with the static fallback.
func summarizeOrFallback(ctx context.Context, s Summarizer, messages []backend.Message) string {
	if s == nil {
		return StaticSummary(messages)
	}
	summary, err := s.Summarize(ctx, messages)
	if err != nil || summary == "" {
		log.Warn().Err(err).Msg("summarization failed, using static fallback")
		return StaticSummary(messages)
	}
	return summary
}
