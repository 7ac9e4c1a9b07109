package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardhq/steward/backend"
)

// ProjectDocName is the instruction filename checked at each directory
// level between the working directory and the repository root.
const ProjectDocName = "AGENTS.md"

// MaxProjectDocBytes caps the total bytes read across all discovered
// instruction files. Later files are truncated when the budget runs out.
const MaxProjectDocBytes = 32 * 1024

// findGitRoot walks upward from start looking for a .git entry. A .git
// file counts too, so worktrees and submodules resolve correctly.
func findGitRoot(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// DiscoverProjectDocPaths returns the instruction files found on the path
// from the repository root down to workingDir, ordered shallowest first so
// that deeper, more specific instructions come last when concatenated.
// Without a repository root the walk continues to the filesystem root.
func DiscoverProjectDocPaths(workingDir string) []string {
	cwd, err := filepath.Abs(workingDir)
	if err != nil {
		return nil
	}
	root, found := findGitRoot(cwd)

	var chain []string
	dir := cwd
	for {
		chain = append(chain, dir)
		if found && dir == root {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var paths []string
	for i := len(chain) - 1; i >= 0; i-- {
		candidate := filepath.Join(chain[i], ProjectDocName)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			paths = append(paths, candidate)
		}
	}
	return paths
}

// ReadProjectDocs concatenates the discovered instruction files, each under
// an "Instructions from: <path>" header so the model knows which directory
// a block applies to. Returns "" when nothing was found.
func ReadProjectDocs(workingDir string) string {
	return readProjectDocs(workingDir, MaxProjectDocBytes)
}

func readProjectDocs(workingDir string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}

	remaining := maxBytes
	var parts []string
	for _, path := range DiscoverProjectDocPaths(workingDir) {
		if remaining <= 0 {
			break
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(raw) > remaining {
			raw = raw[:remaining]
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Instructions from: %s\n%s", path, text))
		remaining -= len(raw)
	}
	return strings.Join(parts, "\n\n")
}

// ProjectDocs injects the workspace's instruction files as a per-turn
// system message. It implements the controller's Injector interface, so
// the documents ride along on every request without ever persisting into
// the session history.
type ProjectDocs struct {
	WorkingDir string
}

func (p *ProjectDocs) Inject(input string) []backend.Message {
	docs := ReadProjectDocs(p.WorkingDir)
	if docs == "" {
		return nil
	}
	return []backend.Message{backend.SystemMessage(docs)}
}
