// Package agent implements the orchestration engine that drives a
// conversational agent: the turn controller, the conversation store, the
// permission gate, and recursion-limited delegation.
//
// A Controller owns one Session and loops: send the conversation through a
// backend.Adapter, execute any tool calls the response requests (each one
// authorized by the Gate and dispatched sequentially through a Dispatcher),
// append the results, repeat until the backend answers with plain text or a
// round limit trips. Each state transition emits a typed Event on the
// controller's channel for the host surface to render.
//
// Sessions are append-only and invariant-checked: every tool call appended
// to the history must be answered by exactly one tool result before the
// next backend call. Forking produces an independent value copy for
// delegated sub-tasks; compaction replaces the oldest complete exchanges
// with a single summary message once the context budget runs low.
package agent
