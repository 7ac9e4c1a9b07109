package agent

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stewardhq/steward/backend"
)

// Session owns the ordered message history for one conversation. The
// history is append-only and invariant-checked: a tool result must answer
// exactly one outstanding tool call, and no call may be answered twice.
//
// A session is driven by at most one Controller at a time. Forked sessions
// are independent value copies, so no history is ever shared mutably.
type Session struct {
	mu        sync.Mutex
	id        string
	parentID  string
	profile   Profile
	messages  []backend.Message
	open      map[string]bool // outstanding tool call ids
	summaryAt int             // index of the last compaction summary, -1 if none
	usage     backend.Usage
	createdAt time.Time
}

// NewSession creates a session seeded with the profile's system prompt.
func NewSession(profile Profile) *Session {
	s := &Session{
		id:        uuid.New().String()[:8],
		profile:   profile,
		open:      make(map[string]bool),
		summaryAt: -1,
		createdAt: time.Now(),
	}
	if profile.SystemPrompt != "" {
		s.messages = append(s.messages, backend.SystemMessage(profile.SystemPrompt))
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ParentID returns the id of the session this one was forked from, if any.
func (s *Session) ParentID() string { return s.parentID }

// Profile returns the immutable profile the session runs under.
func (s *Session) Profile() Profile { return s.profile }

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []backend.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.messages)
}

// Outstanding returns the ids of tool calls that have no result yet.
func (s *Session) Outstanding() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	return ids
}

// Append adds a message to the history. It returns an error when the
// message would violate the call/result pairing invariant.
func (s *Session) Append(msg backend.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Role {
	case backend.RoleAssistant:
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				return errors.New("assistant tool call has no id")
			}
			if s.open[tc.ID] {
				return errors.Errorf("duplicate tool call id %q", tc.ID)
			}
		}
		for _, tc := range msg.ToolCalls {
			s.open[tc.ID] = true
		}
	case backend.RoleTool:
		if msg.ToolCallID == "" {
			return errors.New("tool result has no tool_call_id")
		}
		if !s.open[msg.ToolCallID] {
			return errors.Errorf("tool result %q answers no outstanding call", msg.ToolCallID)
		}
		delete(s.open, msg.ToolCallID)
	}

	s.messages = append(s.messages, msg)
	return nil
}

// RecordUsage accumulates token usage, either from one backend response or
// from a delegated child session whose cost is attributed to this one.
func (s *Session) RecordUsage(u backend.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
}

// Usage returns the accumulated token counters.
func (s *Session) Usage() backend.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Fork creates an independent child session: a value copy of the history
// at fork time with the given profile's system prompt substituted. Later
// appends to parent or child never affect the other.
//
// A trailing assistant message with unanswered tool calls (the exchange
// that triggered the fork) is excluded so the child starts from a
// consistent history.
func (s *Session) Fork(profile Profile) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := copyMessages(s.messages)

	// Drop trailing incomplete exchanges.
	open := map[string]bool{}
	for _, m := range msgs {
		switch m.Role {
		case backend.RoleAssistant:
			for _, tc := range m.ToolCalls {
				open[tc.ID] = true
			}
		case backend.RoleTool:
			delete(open, m.ToolCallID)
		}
	}
	for len(open) > 0 && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		msgs = msgs[:len(msgs)-1]
		if last.Role == backend.RoleAssistant {
			for _, tc := range last.ToolCalls {
				delete(open, tc.ID)
			}
		}
	}

	// Substitute the child profile's system prompt.
	if len(msgs) > 0 && msgs[0].Role == backend.RoleSystem {
		msgs[0] = backend.SystemMessage(profile.SystemPrompt)
	} else if profile.SystemPrompt != "" {
		msgs = append([]backend.Message{backend.SystemMessage(profile.SystemPrompt)}, msgs...)
	}

	return &Session{
		id:        uuid.New().String()[:8],
		parentID:  s.id,
		profile:   profile,
		messages:  msgs,
		open:      make(map[string]bool),
		summaryAt: -1,
		createdAt: time.Now(),
	}
}

// NeedsCompaction reports whether the history has outgrown the context
// budget: either the estimated token count crossed threshold*budget, or
// the message count exceeded maxMessages.
func (s *Session) NeedsCompaction(budget int, threshold float64, maxMessages int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxMessages > 0 && len(s.messages) > maxMessages {
		return true
	}
	if budget > 0 && threshold > 0 {
		return backend.EstimateTokens(s.messages) > int(float64(budget)*threshold)
	}
	return false
}

// Compact replaces the oldest run of messages (all but the most recent
// keep) with one synthetic user-role summary message. The cut never splits
// an exchange: if it would land inside a run of tool results, it advances
// past them so an assistant message and its results are replaced together.
// Compacting again without an intervening append is a no-op. Returns
// whether the history changed.
func (s *Session) Compact(summary string, keep int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}

	start := 0
	if len(s.messages) > 0 && s.messages[0].Role == backend.RoleSystem {
		start = 1
	}

	cut := len(s.messages) - keep
	if cut <= start {
		return false
	}
	for cut < len(s.messages) && s.messages[cut].Role == backend.RoleTool {
		cut++
	}

	// Nothing but the previous summary in range: already compacted.
	if s.summaryAt == start && cut == start+1 {
		return false
	}

	summaryMsg := backend.UserMessage("[CONVERSATION SUMMARY]\n" + summary + "\n[END SUMMARY]")

	compacted := make([]backend.Message, 0, 2+len(s.messages)-cut)
	compacted = append(compacted, s.messages[:start]...)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, s.messages[cut:]...)
	s.messages = compacted
	s.summaryAt = start

	// Counters now describe the compacted list.
	s.usage = backend.Usage{
		PromptTokens: backend.EstimateTokens(s.messages),
		TotalTokens:  backend.EstimateTokens(s.messages),
	}
	return true
}

// Snapshot is the serialized form of a session: messages, profile name,
// and usage counters. Forking and compaction are pure transformations over
// this form, so snapshots can be diffed or replayed.
type Snapshot struct {
	ID        string            `json:"id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Profile   string            `json:"profile"`
	Messages  []backend.Message `json:"messages"`
	Usage     backend.Usage     `json:"usage"`
	CreatedAt time.Time         `json:"created_at"`
}

// Snapshot captures the current serialized state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		ParentID:  s.parentID,
		Profile:   s.profile.Name,
		Messages:  copyMessages(s.messages),
		Usage:     s.usage,
		CreatedAt: s.createdAt,
	}
}

// Save writes the session snapshot as JSON.
func (s *Session) Save(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding session snapshot")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "writing session snapshot")
}

// LoadSession restores a session from a snapshot file. The profile is
// resolved by name from the canonical set.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading session snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "decoding session snapshot")
	}

	s := &Session{
		id:        snap.ID,
		parentID:  snap.ParentID,
		profile:   ProfileByName(snap.Profile),
		open:      make(map[string]bool),
		summaryAt: -1,
		usage:     snap.Usage,
		createdAt: snap.CreatedAt,
	}
	for _, m := range snap.Messages {
		if err := s.Append(m); err != nil {
			return nil, errors.Wrapf(err, "replaying snapshot %s", snap.ID)
		}
	}
	return s, nil
}

func copyMessages(in []backend.Message) []backend.Message {
	out := make([]backend.Message, len(in))
	copy(out, in)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			calls := make([]backend.ToolCall, len(out[i].ToolCalls))
			copy(calls, out[i].ToolCalls)
			out[i].ToolCalls = calls
		}
	}
	return out
}
