package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/stewardhq/steward/backend"
)

// Executor dispatches the built-in tools against one Workspace. It
// implements agent.Dispatcher.
type Executor struct {
	ws           *Workspace
	todos        *TodoList
	shellTimeout time.Duration
	tools        []tool
}

type tool struct {
	def backend.ToolDefinition
	run func(ctx context.Context, args json.RawMessage) (string, error)
}

// DefaultShellTimeout bounds shell commands that do not set their own.
const DefaultShellTimeout = 2 * time.Minute

// NewExecutor creates the built-in tool surface for a workspace.
func NewExecutor(ws *Workspace) *Executor {
	e := &Executor{
		ws:           ws,
		todos:        NewTodoList(),
		shellTimeout: DefaultShellTimeout,
	}
	e.tools = []tool{
		{readFileDef(), e.readFile},
		{writeFileDef(), e.writeFile},
		{editFileDef(), e.editFile},
		{listFilesDef(), e.listFiles},
		{globDef(), e.glob},
		{grepDef(), e.grep},
		{shellDef(), e.shell},
		{todoDef(), e.todo},
	}
	return e
}

// Definitions lists every built-in tool schema.
func (e *Executor) Definitions() []backend.ToolDefinition {
	defs := make([]backend.ToolDefinition, len(e.tools))
	for i, t := range e.tools {
		defs[i] = t.def
	}
	return defs
}

// Execute routes a call by name and truncates the result per the tool's
// output limits.
func (e *Executor) Execute(ctx context.Context, call backend.ToolCall) (string, error) {
	for _, t := range e.tools {
		if t.def.Name != call.Name {
			continue
		}
		out, err := t.run(ctx, call.Arguments)
		if err != nil {
			return "", err
		}
		return TruncateOutput(out, call.Name), nil
	}
	return "", errors.Errorf("unknown tool: %s", call.Name)
}

// decodeArgs unmarshals raw JSON arguments into a typed struct, tolerating
// the loose numeric types models emit.
func decodeArgs(raw json.RawMessage, out interface{}) error {
	var m map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return errors.Wrap(err, "parsing tool arguments")
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(dec.Decode(m), "decoding tool arguments")
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func readFileDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file. Returns line-numbered content.",
		Parameters: objectSchema(map[string]interface{}{
			"file_path": strProp("Path to the file, absolute or workspace-relative."),
			"offset":    intProp("1-based line number to start from."),
			"limit":     intProp("Maximum lines to read. Default 2000."),
		}, "file_path"),
	}
}

func (e *Executor) readFile(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		FilePath string `mapstructure:"file_path"`
		Offset   int    `mapstructure:"offset"`
		Limit    int    `mapstructure:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.FilePath == "" {
		return "", errors.New("file_path is required")
	}
	if args.Limit == 0 {
		args.Limit = 2000
	}
	return e.ws.ReadFile(args.FilePath, args.Offset, args.Limit)
}

func writeFileDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		Parameters: objectSchema(map[string]interface{}{
			"file_path": strProp("Path to write to."),
			"content":   strProp("Full file content."),
		}, "file_path", "content"),
	}
}

func (e *Executor) writeFile(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		FilePath string `mapstructure:"file_path"`
		Content  string `mapstructure:"content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.FilePath == "" {
		return "", errors.New("file_path is required")
	}
	if err := e.ws.WriteFile(args.FilePath, args.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.FilePath), nil
}

func editFileDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace an exact string in a file. old_string must be unique unless replace_all is set.",
		Parameters: objectSchema(map[string]interface{}{
			"file_path":   strProp("Path to the file to edit."),
			"old_string":  strProp("Exact text to find."),
			"new_string":  strProp("Replacement text."),
			"replace_all": boolProp("Replace every occurrence instead of requiring uniqueness."),
		}, "file_path", "old_string", "new_string"),
	}
}

func (e *Executor) editFile(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		FilePath   string `mapstructure:"file_path"`
		OldString  string `mapstructure:"old_string"`
		NewString  string `mapstructure:"new_string"`
		ReplaceAll bool   `mapstructure:"replace_all"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.FilePath == "" || args.OldString == "" {
		return "", errors.New("file_path and old_string are required")
	}
	n, err := e.ws.EditFile(args.FilePath, args.OldString, args.NewString, args.ReplaceAll)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", n, args.FilePath), nil
}

func listFilesDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "list_files",
		Description: "List directory entries. Directories end with a slash.",
		Parameters: objectSchema(map[string]interface{}{
			"path": strProp("Directory to list. Defaults to the workspace root."),
		}),
	}
}

func (e *Executor) listFiles(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path string `mapstructure:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return e.ws.ListDir(args.Path)
}

func globDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "glob",
		Description: "Find files matching a glob pattern.",
		Parameters: objectSchema(map[string]interface{}{
			"pattern": strProp("Glob pattern, e.g. *.go or cmd/*/main.go."),
			"path":    strProp("Directory to match under. Defaults to the workspace root."),
		}, "pattern"),
	}
}

func (e *Executor) glob(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Pattern string `mapstructure:"pattern"`
		Path    string `mapstructure:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Pattern == "" {
		return "", errors.New("pattern is required")
	}
	matches, err := e.ws.Glob(args.Pattern, args.Path)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No files matched.", nil
	}
	return strings.Join(matches, "\n"), nil
}

func grepDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents with a regular expression.",
		Parameters: objectSchema(map[string]interface{}{
			"pattern":          strProp("Regular expression to search for."),
			"path":             strProp("File or directory to search. Defaults to the workspace root."),
			"glob":             strProp("Restrict to files matching this glob."),
			"case_insensitive": boolProp("Ignore case."),
		}, "pattern"),
	}
}

func (e *Executor) grep(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Pattern         string `mapstructure:"pattern"`
		Path            string `mapstructure:"path"`
		Glob            string `mapstructure:"glob"`
		CaseInsensitive bool   `mapstructure:"case_insensitive"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Pattern == "" {
		return "", errors.New("pattern is required")
	}
	out, err := e.ws.Grep(ctx, args.Pattern, args.Path, GrepOptions{
		GlobFilter:      args.Glob,
		CaseInsensitive: args.CaseInsensitive,
		MaxResults:      200,
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "No matches.", nil
	}
	return out, nil
}

func shellDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "shell",
		Description: "Run a shell command in the workspace and return its output.",
		Parameters: objectSchema(map[string]interface{}{
			"command":    strProp("The command to run."),
			"timeout_ms": intProp("Timeout in milliseconds. Default 120000."),
		}, "command"),
	}
}

func (e *Executor) shell(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Command   string `mapstructure:"command"`
		TimeoutMs int    `mapstructure:"timeout_ms"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Command == "" {
		return "", errors.New("command is required")
	}
	timeout := e.shellTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}
	res, err := e.ws.Exec(ctx, args.Command, timeout)
	if err != nil {
		return "", err
	}
	return res.Output(), nil
}

func todoDef() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "todo",
		Description: "Track task progress. Actions: add, done, list.",
		Parameters: objectSchema(map[string]interface{}{
			"action": strProp("One of add, done, list."),
			"item":   strProp("Item text for add, or item number for done."),
		}, "action"),
	}
}

func (e *Executor) todo(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Action string `mapstructure:"action"`
		Item   string `mapstructure:"item"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	return e.todos.Apply(args.Action, args.Item)
}
