package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/backend"
)

// DelegateToolName is the tool the model calls to hand a subtask to a
// scoped sub-agent.
const DelegateToolName = "delegate"

// DelegateToolDefinition describes the delegate tool to the backend.
func DelegateToolDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        DelegateToolName,
		Description: "Delegate a self-contained subtask to a sub-agent. The sub-agent sees the conversation so far, works autonomously with the same tools (except delegation), and returns a summary. Use for independent units of work.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task": map[string]interface{}{
					"type":        "string",
					"description": "Complete description of the subtask, including expected output",
				},
			},
			"required": []string{"task"},
		},
	}
}

type delegateArgs struct {
	Task string `mapstructure:"task"`
}

// Delegator dispatches the delegate tool. Each call forks the parent
// session into a child running the delegated profile, drives the child
// with a fresh controller, and returns the child's final text. The child
// profile cannot delegate, so recursion stops at depth one regardless of
// what the model asks for.
type Delegator struct {
	parent      *Session
	adapter     backend.Adapter
	model       string
	cfg         Config
	dispatchers []Dispatcher
	gate        *Gate
}

// NewDelegator builds the delegate dispatcher for a parent session. The
// dispatchers are the parent's tool surface minus delegation itself.
func NewDelegator(parent *Session, adapter backend.Adapter, model string, cfg Config, dispatchers []Dispatcher, gate *Gate) *Delegator {
	return &Delegator{
		parent:      parent,
		adapter:     adapter,
		model:       model,
		cfg:         cfg,
		dispatchers: dispatchers,
		gate:        gate,
	}
}

func (d *Delegator) Definitions() []backend.ToolDefinition {
	return []backend.ToolDefinition{DelegateToolDefinition()}
}

// Execute runs the delegated subtask to completion and attributes the
// child's token usage to the parent session.
func (d *Delegator) Execute(ctx context.Context, call backend.ToolCall) (string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(call.Arguments, &raw); err != nil {
		return "", errors.Wrap(err, "decoding delegate arguments")
	}
	var args delegateArgs
	if err := mapstructure.Decode(raw, &args); err != nil {
		return "", errors.Wrap(err, "decoding delegate arguments")
	}
	if args.Task == "" {
		return "", errors.New("delegate requires a non-empty task")
	}

	child := d.parent.Fork(DelegatedProfile())
	log.Info().Str("parent", d.parent.ID()).Str("child", child.ID()).Msg("delegating subtask")

	opts := []Option{WithDispatchers(d.dispatchers...)}
	if d.gate != nil {
		opts = append(opts, WithGate(d.gate))
	}
	ctrl := NewController(child, d.adapter, d.model, d.cfg, opts...)

	// Drain child events so the emitter never stalls.
	go func() {
		for range ctrl.Events() {
		}
	}()

	res, err := ctrl.Run(ctx, "Delegated task:\n"+args.Task)
	d.parent.RecordUsage(child.Usage())
	if err != nil {
		return "", errors.Wrap(err, "delegated task failed")
	}
	return fmt.Sprintf("Sub-agent %s completed the task:\n%s", child.ID(), res.Text), nil
}
