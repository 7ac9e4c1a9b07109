package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stewardhq/steward/backend"
)

func TestPolicyDecide(t *testing.T) {
	p := Policy{Default: Allow, Rules: map[string]Decision{"shell": Ask, "rm_rf": Deny}}
	assert.Equal(t, Ask, p.Decide("shell"))
	assert.Equal(t, Deny, p.Decide("rm_rf"))
	assert.Equal(t, Allow, p.Decide("read_file"))

	// Empty default is the conservative one.
	assert.Equal(t, Ask, Policy{}.Decide("anything"))
}

func TestGateStructuralDelegationGuard(t *testing.T) {
	g := NewGate(func(name string, args json.RawMessage) bool { return true })

	// Build allows delegation through its policy default.
	assert.Equal(t, Allow, g.Decide(DelegateToolName, BuildProfile()))

	// Delegated profile is denied even if its policy map were permissive.
	p := DelegatedProfile()
	p.Policy.Rules = map[string]Decision{DelegateToolName: Allow}
	assert.Equal(t, Deny, g.Decide(DelegateToolName, p))
	assert.Equal(t, Deny, g.Decide(DelegateToolName, PlanProfile()))
}

func TestGateAuthorizeDeny(t *testing.T) {
	g := NewGate(nil)
	ok, reason := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "write_file"}, PlanProfile())
	assert.False(t, ok)
	assert.Contains(t, reason, "not permitted")
}

func TestGateAuthorizeAskWithoutApprover(t *testing.T) {
	g := NewGate(nil)
	ok, reason := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "shell"}, BuildProfile())
	assert.False(t, ok)
	assert.Contains(t, reason, "no approver")
}

func TestGateAuthorizeAskApproved(t *testing.T) {
	var sawName string
	g := NewGate(func(name string, args json.RawMessage) bool {
		sawName = name
		return true
	})

	ok, _ := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "shell", Arguments: json.RawMessage(`{}`)}, BuildProfile())
	assert.True(t, ok)
	assert.Equal(t, "shell", sawName)
}

func TestGateAuthorizeAskDenied(t *testing.T) {
	g := NewGate(func(name string, args json.RawMessage) bool { return false })
	ok, reason := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "shell"}, BuildProfile())
	assert.False(t, ok)
	assert.Contains(t, reason, "denied by user")
}

func TestGateAuthorizeAskTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := NewGate(func(name string, args json.RawMessage) bool {
		<-block
		return true
	}).WithWait(20 * time.Millisecond)

	ok, reason := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "shell"}, BuildProfile())
	assert.False(t, ok)
	assert.Contains(t, reason, "timed out")
}

func TestGateAuthorizeApproverPanicIsDenial(t *testing.T) {
	g := NewGate(func(name string, args json.RawMessage) bool {
		panic("approver bug")
	})

	ok, reason := g.Authorize(t.Context(), backend.ToolCall{ID: "c1", Name: "shell"}, BuildProfile())
	assert.False(t, ok)
	assert.Contains(t, reason, "denied")
}
