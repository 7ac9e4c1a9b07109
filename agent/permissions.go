package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/backend"
)

// Decision is the outcome of a permission lookup for one tool name.
type Decision string

const (
	Allow Decision = "allow" // dispatch without prompting
	Ask   Decision = "ask"   // defer to the approval callback
	Deny  Decision = "deny"  // never dispatch
)

// Policy maps tool names to decisions, with a default for unlisted names.
type Policy struct {
	Default Decision            `json:"default"`
	Rules   map[string]Decision `json:"rules,omitempty"`
}

// Decide returns the decision for a tool name, falling back to the default.
func (p Policy) Decide(name string) Decision {
	if d, ok := p.Rules[name]; ok {
		return d
	}
	if p.Default == "" {
		return Ask
	}
	return p.Default
}

// ApprovalFunc is called when a tool call needs user confirmation. It
// receives the tool name and raw arguments and returns whether to proceed.
type ApprovalFunc func(name string, arguments json.RawMessage) bool

// Gate authorizes tool calls against a profile's policy. It is stateless
// across calls; the only suspension point is the approval callback, which
// is bounded: a callback that panics or never returns counts as a denial.
type Gate struct {
	approve ApprovalFunc
	wait    time.Duration
}

// DefaultAskWait bounds how long an approval callback may block.
const DefaultAskWait = 5 * time.Minute

// NewGate creates a Gate. A nil callback resolves every Ask to a denial.
func NewGate(approve ApprovalFunc) *Gate {
	return &Gate{approve: approve, wait: DefaultAskWait}
}

// WithWait returns a copy of the gate with a different Ask bound.
func (g *Gate) WithWait(d time.Duration) *Gate {
	return &Gate{approve: g.approve, wait: d}
}

// Decide resolves the policy decision for a tool call under a profile.
// Delegation is special-cased structurally: a profile that cannot delegate
// is denied the delegate tool no matter what its policy map says.
func (g *Gate) Decide(name string, profile Profile) Decision {
	if name == DelegateToolName && !profile.CanDelegate {
		return Deny
	}
	return profile.Policy.Decide(name)
}

// Authorize applies the full gate: policy lookup, then the approval
// callback for Ask. It returns whether the call may be dispatched and a
// human-readable reason when it may not.
func (g *Gate) Authorize(ctx context.Context, call backend.ToolCall, profile Profile) (bool, string) {
	switch g.Decide(call.Name, profile) {
	case Allow:
		return true, ""
	case Deny:
		return false, "tool " + call.Name + " is not permitted for the " + profile.Name + " profile"
	}

	if g.approve == nil {
		return false, "tool " + call.Name + " requires approval and no approver is configured"
	}

	approved := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("tool", call.Name).
					Msg("approval callback panicked; treating as denial")
				approved <- false
			}
		}()
		approved <- g.approve(call.Name, call.Arguments)
	}()

	select {
	case ok := <-approved:
		if !ok {
			return false, "tool " + call.Name + " denied by user"
		}
		return true, ""
	case <-time.After(g.wait):
		return false, "approval for tool " + call.Name + " timed out"
	case <-ctx.Done():
		return false, "approval for tool " + call.Name + " cancelled"
	}
}
