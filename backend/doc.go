// Package backend normalizes incompatible chat-completion wire protocols
// into one neutral request/response shape.
//
// The orchestration loop in package agent only ever sees backend.Request and
// backend.Response. Each remote vendor is wrapped by an Adapter that owns the
// translation in both directions; the loop stays agnostic to which vendor
// answered a request. Adapters are selected through a Registry keyed by
// "vendor/model" identifiers (a bare model name defaults to openai).
//
// Three adapters ship with the package:
//
//   - OpenAIAdapter: the neutral shape matches the Chat Completions API
//     almost field for field, so translation is near-identity.
//   - AnthropicAdapter: the Messages API differs structurally (top-level
//     system field, tool calls as content blocks, tool results grouped into
//     a single user message, strict role alternation, input_schema key).
//     The adapter reconciles all of that without losing tool call ids,
//     names, arguments, or text.
//   - GollmAdapter: a text-only fallback for any provider the gollm library
//     supports; useful for summarization and other no-tool requests.
//
// Failures are classified into a typed hierarchy; IsRetryable separates
// transient conditions (rate limits, 5xx, network, timeout) from fatal ones
// (auth, malformed request). Retry wraps a call with exponential backoff.
package backend
