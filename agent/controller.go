package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/backend"
)

// State is the controller's run-loop phase.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateSending       State = "sending"
	StateActing        State = "acting"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Config tunes one controller. Zero values fall back to the defaults.
type Config struct {
	// MaxRounds caps backend calls per user turn. When it trips, the turn
	// fails rather than looping forever.
	MaxRounds int

	// RequestTimeout bounds one backend call, ActionTimeout one tool
	// execution.
	RequestTimeout time.Duration
	ActionTimeout  time.Duration

	Retry backend.RetryPolicy

	// ContextBudget is the model's context size in tokens. Compaction
	// triggers when the estimated history crosses
	// CompactionThreshold*ContextBudget or MaxMessages messages.
	ContextBudget       int
	CompactionThreshold float64
	KeepRecent          int
	MaxMessages         int

	// LoopWindow is how many recent tool calls the repeat detector
	// inspects. Zero disables detection.
	LoopWindow int

	Temperature float64
	MaxTokens   int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxRounds:           32,
		RequestTimeout:      120 * time.Second,
		ActionTimeout:       60 * time.Second,
		Retry:               backend.DefaultRetryPolicy(),
		ContextBudget:       200000,
		CompactionThreshold: 0.8,
		KeepRecent:          10,
		MaxMessages:         100,
		LoopWindow:          6,
		MaxTokens:           8192,
	}
}

// Injector contributes extra system messages for one turn, e.g. skill
// documents referenced by $mention in the user input. Injected messages
// ride along on the turn's backend requests but are never persisted into
// the session history.
type Injector interface {
	Inject(input string) []backend.Message
}

// Controller drives one session: it sends the history to the backend,
// authorizes and executes requested tool calls, appends results, and loops
// until the model answers in plain text or a limit trips.
type Controller struct {
	session     *Session
	adapter     backend.Adapter
	model       string
	cfg         Config
	dispatchers []Dispatcher
	gate        *Gate
	injectors   []Injector
	summarizer  Summarizer
	emitter     *Emitter
	state       State
	log         zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithDispatchers registers tool executors, consulted in order.
func WithDispatchers(d ...Dispatcher) Option {
	return func(c *Controller) { c.dispatchers = append(c.dispatchers, d...) }
}

// WithGate replaces the default deny-all-asks gate.
func WithGate(g *Gate) Option {
	return func(c *Controller) { c.gate = g }
}

// WithInjector adds a context injector applied to each user input.
func WithInjector(in Injector) Option {
	return func(c *Controller) { c.injectors = append(c.injectors, in) }
}

// WithSummarizer sets the compaction summarizer. Without one, compaction
// uses a static placeholder summary.
func WithSummarizer(s Summarizer) Option {
	return func(c *Controller) { c.summarizer = s }
}

// NewController wires a controller around an existing session.
func NewController(session *Session, adapter backend.Adapter, model string, cfg Config, opts ...Option) *Controller {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultConfig().KeepRecent
	}

	c := &Controller{
		session: session,
		adapter: adapter,
		model:   model,
		cfg:     cfg,
		gate:    NewGate(nil),
		emitter: NewEmitter(session.ID()),
		state:   StateAwaitingInput,
		log:     log.With().Str("session", session.ID()).Str("profile", session.Profile().Name).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the controller's session.
func (c *Controller) Session() *Session { return c.session }

// State returns the current run-loop phase.
func (c *Controller) State() State { return c.state }

// Events returns the stream of run events. The channel closes when a run
// reaches a terminal state; each call to Run opens a fresh stream, so
// consumers re-subscribe per turn.
func (c *Controller) Events() <-chan Event { return c.emitter.Events() }

// Result is the outcome of one user turn.
type Result struct {
	Text   string
	State  State
	Rounds int
	Usage  backend.Usage
}

// Run executes one user turn to completion. It appends the (possibly
// injected) input, then alternates backend calls and tool execution until
// the model stops requesting tools. Terminal states close the event stream.
func (c *Controller) Run(ctx context.Context, input string) (*Result, error) {
	// A terminal state means a previous turn finished and closed its event
	// stream; start the next turn on a fresh one.
	if c.state == StateDone || c.state == StateFailed {
		c.emitter.Close()
		c.emitter = NewEmitter(c.session.ID())
		c.state = StateAwaitingInput
	}
	defer c.emitter.Close()

	var injected []backend.Message
	for _, in := range c.injectors {
		injected = append(injected, in.Inject(input)...)
	}

	if err := c.session.Append(backend.UserMessage(input)); err != nil {
		c.fail("recording user input: " + err.Error())
		return nil, err
	}
	c.emitter.Emit(EventTurnStart, map[string]interface{}{"input_chars": len(input)})

	tools := c.toolDefinitions()

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		c.maybeCompact(ctx)

		if open := c.session.Outstanding(); len(open) > 0 {
			err := fmt.Errorf("history has %d unanswered tool calls before send", len(open))
			c.fail(err.Error())
			return &Result{State: StateFailed, Rounds: round, Usage: c.session.Usage()}, err
		}

		c.state = StateSending
		resp, err := c.send(ctx, tools, injected)
		if err != nil {
			c.fail(err.Error())
			return &Result{State: StateFailed, Rounds: round, Usage: c.session.Usage()}, err
		}

		c.session.RecordUsage(resp.Usage)
		if err := c.session.Append(resp.Message); err != nil {
			c.fail("recording assistant message: " + err.Error())
			return nil, err
		}

		if !resp.Continues() {
			c.state = StateDone
			c.emitter.Emit(EventFinal, map[string]interface{}{
				"text":   resp.Message.Content,
				"rounds": round,
			})
			return &Result{
				Text:   resp.Message.Content,
				State:  StateDone,
				Rounds: round,
				Usage:  c.session.Usage(),
			}, nil
		}

		if c.cfg.LoopWindow > 0 && detectCallLoop(c.session.Messages(), c.cfg.LoopWindow) {
			c.log.Warn().Int("window", c.cfg.LoopWindow).Msg("repeating tool call pattern detected")
			c.emitter.Emit(EventWarning, map[string]interface{}{
				"reason": "repeating tool call pattern detected",
				"window": c.cfg.LoopWindow,
			})
		}

		c.state = StateActing
		if err := c.act(ctx, resp.Message.ToolCalls); err != nil {
			c.fail(err.Error())
			return &Result{State: StateFailed, Rounds: round, Usage: c.session.Usage()}, err
		}
	}

	// Round cap: close out any outstanding calls so the history stays
	// consistent, then fail the turn.
	for _, id := range c.session.Outstanding() {
		_ = c.session.Append(backend.ToolResultMessage(backend.ToolResult{
			ToolCallID: id,
			Content:    "aborted: turn exceeded the round limit",
			IsError:    true,
		}))
	}
	err := fmt.Errorf("turn exceeded %d rounds without a final answer", c.cfg.MaxRounds)
	c.fail(err.Error())
	return &Result{State: StateFailed, Rounds: c.cfg.MaxRounds, Usage: c.session.Usage()}, err
}

// send builds a request from the stored history plus this turn's injected
// system messages (slotted in after the profile prompt, never persisted)
// and calls the adapter under the retry policy.
func (c *Controller) send(ctx context.Context, tools []backend.ToolDefinition, injected []backend.Message) (*backend.Response, error) {
	history := c.session.Messages()
	messages := history
	if len(injected) > 0 {
		messages = make([]backend.Message, 0, len(history)+len(injected))
		rest := history
		if len(history) > 0 && history[0].Role == backend.RoleSystem {
			messages = append(messages, history[0])
			rest = history[1:]
		}
		messages = append(messages, injected...)
		messages = append(messages, rest...)
	}

	req := backend.Request{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	return backend.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (*backend.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		return c.adapter.Chat(callCtx, req)
	})
}

// act authorizes and executes each requested call in order, appending one
// result per call. Denials and execution failures become error results;
// only a store invariant violation aborts the turn.
func (c *Controller) act(ctx context.Context, calls []backend.ToolCall) error {
	for _, call := range calls {
		c.emitter.Emit(EventToolCallStart, map[string]interface{}{
			"tool": call.Name,
			"id":   call.ID,
		})

		result := c.executeOne(ctx, call)

		c.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"tool":   call.Name,
			"id":     call.ID,
			"is_err": result.IsError,
			"size":   len(result.Content),
		})

		if err := c.session.Append(backend.ToolResultMessage(result)); err != nil {
			return fmt.Errorf("recording result for %s: %w", call.ID, err)
		}

		// A cancelled turn context fails the turn here rather than riding
		// the error result into another send. Remaining calls in the batch
		// are closed out so the history stays consistent.
		if err := ctx.Err(); err != nil {
			for _, id := range c.session.Outstanding() {
				_ = c.session.Append(backend.ToolResultMessage(backend.ToolResult{
					ToolCallID: id,
					Content:    "aborted: turn cancelled",
					IsError:    true,
				}))
			}
			return fmt.Errorf("cancelled while executing %s: %w", call.Name, err)
		}
	}
	return nil
}

func (c *Controller) executeOne(ctx context.Context, call backend.ToolCall) backend.ToolResult {
	allowed, reason := c.gate.Authorize(ctx, call, c.session.Profile())
	if !allowed {
		c.log.Info().Str("tool", call.Name).Str("reason", reason).Msg("tool call blocked")
		return backend.ToolResult{ToolCallID: call.ID, Content: reason, IsError: true}
	}

	d := c.dispatcherFor(call.Name)
	if d == nil {
		return backend.ToolResult{
			ToolCallID: call.ID,
			Content:    "unknown tool: " + call.Name,
			IsError:    true,
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	out, err := d.Execute(execCtx, call)
	c.log.Debug().Str("tool", call.Name).Dur("elapsed", time.Since(start)).Err(err).Msg("tool executed")

	if err != nil {
		return backend.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return backend.ToolResult{ToolCallID: call.ID, Content: out}
}

func (c *Controller) dispatcherFor(name string) Dispatcher {
	for _, d := range c.dispatchers {
		for _, def := range d.Definitions() {
			if def.Name == name {
				return d
			}
		}
	}
	return nil
}

func (c *Controller) toolDefinitions() []backend.ToolDefinition {
	var defs []backend.ToolDefinition
	seen := map[string]bool{}
	for _, d := range c.dispatchers {
		for _, def := range d.Definitions() {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}
	return defs
}

// maybeCompact runs compaction when the history has outgrown the budget.
// Only complete exchanges older than the keep window are summarized.
func (c *Controller) maybeCompact(ctx context.Context) {
	if !c.session.NeedsCompaction(c.cfg.ContextBudget, c.cfg.CompactionThreshold, c.cfg.MaxMessages) {
		return
	}

	msgs := c.session.Messages()
	before := len(msgs)

	start := 0
	if before > 0 && msgs[0].Role == backend.RoleSystem {
		start = 1
	}
	cut := before - c.cfg.KeepRecent
	if cut <= start {
		return
	}
	for cut < before && msgs[cut].Role == backend.RoleTool {
		cut++
	}

	summary := summarizeOrFallback(ctx, c.summarizer, msgs[start:cut])
	if !c.session.Compact(summary, c.cfg.KeepRecent) {
		return
	}

	c.log.Info().Int("before", before).Int("after", c.session.Len()).Msg("history compacted")
	c.emitter.Emit(EventCompaction, map[string]interface{}{
		"before": before,
		"after":  c.session.Len(),
	})
}

func (c *Controller) fail(reason string) {
	c.state = StateFailed
	c.log.Error().Str("reason", reason).Msg("turn failed")
	c.emitter.Emit(EventFailed, map[string]interface{}{"reason": reason})
}
