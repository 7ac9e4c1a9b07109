// Package actions implements the built-in tool surface: file reads and
// writes, exact-string edits, directory listing, glob and grep search,
// shell execution, and a per-session todo list.
//
// Executor implements agent.Dispatcher. Every result passes through a
// per-tool truncation pipeline before it reaches the conversation, so a
// single pathological command cannot flood the context window.
package actions
