package agent

import (
	"context"

	"github.com/stewardhq/steward/backend"
)

// Dispatcher executes tool calls. The controller consults each registered
// dispatcher in order and routes a call to the first one whose definitions
// include the call's name.
//
// Execute returns the textual result to append as a tool message. A non-nil
// error marks the result as a failure but never aborts the run; the error
// text is surfaced to the model so it can react.
type Dispatcher interface {
	Definitions() []backend.ToolDefinition
	Execute(ctx context.Context, call backend.ToolCall) (string, error)
}
