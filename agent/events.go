package agent

import (
	"sync"
	"time"
)

// EventKind identifies what happened during a controller run.
type EventKind string

const (
	EventTurnStart     EventKind = "turn_start"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventFinal         EventKind = "final"
	EventCompaction    EventKind = "compaction"
	EventWarning       EventKind = "warning"
	EventFailed        EventKind = "failed"
)

// Event is one observable step of a run. Data carries kind-specific fields
// (tool name, result size, failure reason) keyed by short snake_case names.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter fans controller events out to a buffered channel. Emission never
// blocks the run loop: when the consumer falls behind the event is dropped.
type Emitter struct {
	sessionID string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

const eventBuffer = 256

// NewEmitter creates an emitter for the given session.
func NewEmitter(sessionID string) *Emitter {
	return &Emitter{
		sessionID: sessionID,
		ch:        make(chan Event, eventBuffer),
	}
}

// Events returns the receive side of the event stream.
func (e *Emitter) Events() <-chan Event { return e.ch }

// Emit sends an event, dropping it when the buffer is full. Emitting on a
// closed emitter is a no-op.
func (e *Emitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Close terminates the stream. The controller calls this once the run
// reaches a terminal state; consumers see the channel close after the
// final or failed event. Closing twice is safe.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
