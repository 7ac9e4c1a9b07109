package actions

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Workspace anchors all tool operations to one directory. Relative paths
// resolve against it; absolute paths are used as given.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir, defaulting to the
// current directory.
func NewWorkspace(dir string) *Workspace {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return &Workspace{root: dir}
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

// ReadFile returns line-numbered content. offset is a 1-based starting
// line; limit caps the number of lines returned.
func (w *Workspace) ReadFile(path string, offset, limit int) (string, error) {
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		return "", errors.Wrap(err, "read_file")
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteFile writes content, creating parent directories as needed.
func (w *Workspace) WriteFile(path, content string) error {
	resolved := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return errors.Wrap(err, "write_file")
	}
	return errors.Wrap(os.WriteFile(resolved, []byte(content), 0644), "write_file")
}

// EditFile replaces oldStr with newStr. Unless replaceAll is set, oldStr
// must occur exactly once; ambiguity is an error rather than a guess.
func (w *Workspace) EditFile(path, oldStr, newStr string, replaceAll bool) (int, error) {
	resolved := w.resolve(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return 0, errors.Wrap(err, "edit_file")
	}
	content := string(data)

	count := strings.Count(content, oldStr)
	if count == 0 {
		return 0, errors.New("edit_file: old_string not found in file")
	}
	if count > 1 && !replaceAll {
		return 0, errors.Errorf("edit_file: old_string occurs %d times; provide more context or set replace_all", count)
	}

	if replaceAll {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
		count = 1
	}

	info, err := os.Stat(resolved)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(resolved, []byte(content), mode); err != nil {
		return 0, errors.Wrap(err, "edit_file")
	}
	return count, nil
}

// ListDir returns one line per entry, directories suffixed with a slash.
func (w *Workspace) ListDir(path string) (string, error) {
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(w.resolve(path))
	if err != nil {
		return "", errors.Wrap(err, "list_files")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

// Glob matches a pattern under the workspace and returns relative paths.
func (w *Workspace) Glob(pattern, path string) ([]string, error) {
	base := w.root
	if path != "" {
		base = w.resolve(path)
	}
	matches, err := filepath.Glob(filepath.Join(base, pattern))
	if err != nil {
		return nil, errors.Wrap(err, "glob")
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		if rel, err := filepath.Rel(w.root, m); err == nil {
			out[i] = rel
		} else {
			out[i] = m
		}
	}
	return out, nil
}

// GrepOptions tunes a search.
type GrepOptions struct {
	GlobFilter      string
	CaseInsensitive bool
	MaxResults      int
}

// Grep searches file contents, preferring ripgrep when installed. A
// missing match is an empty result, not an error.
func (w *Workspace) Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error) {
	target := w.root
	if path != "" {
		target = w.resolve(path)
	}

	if rg, err := exec.LookPath("rg"); err == nil {
		args := []string{pattern, target, "--line-number", "--no-heading"}
		if opts.CaseInsensitive {
			args = append(args, "-i")
		}
		if opts.GlobFilter != "" {
			args = append(args, "--glob", opts.GlobFilter)
		}
		if opts.MaxResults > 0 {
			args = append(args, "--max-count", fmt.Sprintf("%d", opts.MaxResults))
		}
		return runSearch(ctx, rg, args, w.root)
	}

	args := []string{"-rn", pattern, target}
	if opts.CaseInsensitive {
		args = append([]string{"-i"}, args...)
	}
	return runSearch(ctx, "grep", args, w.root)
}

func runSearch(ctx context.Context, bin string, args []string, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // exit 1 means no matches
	return stdout.String(), nil
}

// ExecResult holds one shell invocation's outcome.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	DurationMs int64
}

// Output renders the result for the conversation: combined streams plus a
// trailer when the command failed or timed out.
func (r ExecResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	switch {
	case r.TimedOut:
		out += "\n[command timed out]"
	case r.ExitCode != 0:
		out += fmt.Sprintf("\n[exit code %d]", r.ExitCode)
	}
	return strings.TrimLeft(out, "\n")
}

// sensitiveEnvSuffixes mark variables stripped from child environments.
var sensitiveEnvSuffixes = []string{
	"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func filteredEnviron() []string {
	var out []string
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if safeEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			out = append(out, kv)
		}
	}
	return out
}

// Exec runs a shell command in its own process group so a timeout kills
// the whole tree, not just the shell.
func (w *Workspace) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = w.root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filteredEnviron()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, errors.Wrap(err, "shell")
		}
	}
	return result, nil
}
