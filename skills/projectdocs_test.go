package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRepo creates a directory that looks like a git checkout with a nested
// working directory.
func newRepo(t *testing.T) (root, workDir string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	workDir = filepath.Join(root, "packages", "app")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	return root, workDir
}

func writeDoc(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ProjectDocName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFindGitRootFromSubdirectory(t *testing.T) {
	root, workDir := newRepo(t)

	found, ok := findGitRoot(workDir)
	require.True(t, ok)
	assert.Equal(t, root, found)
}

func TestDiscoverProjectDocPathsRootFirst(t *testing.T) {
	root, workDir := newRepo(t)
	rootDoc := writeDoc(t, root, "repo instructions")
	deepDoc := writeDoc(t, workDir, "app instructions")

	paths := DiscoverProjectDocPaths(workDir)
	assert.Equal(t, []string{rootDoc, deepDoc}, paths)
}

func TestDiscoverProjectDocPathsEmpty(t *testing.T) {
	_, workDir := newRepo(t)
	assert.Empty(t, DiscoverProjectDocPaths(workDir))
}

func TestReadProjectDocsHeadersAndOrder(t *testing.T) {
	root, workDir := newRepo(t)
	rootDoc := writeDoc(t, root, "use tabs")
	deepDoc := writeDoc(t, workDir, "run the app tests")

	docs := ReadProjectDocs(workDir)
	assert.Contains(t, docs, "Instructions from: "+rootDoc)
	assert.Contains(t, docs, "Instructions from: "+deepDoc)

	// Repo-level block precedes the more specific one.
	assert.Less(t, strings.Index(docs, "use tabs"), strings.Index(docs, "run the app tests"))
}

func TestReadProjectDocsByteBudget(t *testing.T) {
	root, workDir := newRepo(t)
	writeDoc(t, root, "0123456789")
	writeDoc(t, workDir, "abcdefghij")

	// The first file consumes 10 of 12 bytes, leaving 2 for the second.
	docs := readProjectDocs(workDir, 12)
	assert.Contains(t, docs, "0123456789")
	assert.Contains(t, docs, "ab")
	assert.NotContains(t, docs, "abc")

	assert.Empty(t, readProjectDocs(workDir, 0))
}

func TestReadProjectDocsSkipsBlankFiles(t *testing.T) {
	root, workDir := newRepo(t)
	writeDoc(t, root, "   \n\t\n")
	writeDoc(t, workDir, "only real content")

	docs := ReadProjectDocs(workDir)
	assert.NotContains(t, docs, "Instructions from: "+filepath.Join(root, ProjectDocName))
	assert.Contains(t, docs, "only real content")
}

func TestProjectDocsInject(t *testing.T) {
	root, workDir := newRepo(t)
	writeDoc(t, root, "always lint before committing")

	injector := &ProjectDocs{WorkingDir: workDir}
	msgs := injector.Inject("any user input")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "always lint before committing")

	emptyRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(emptyRoot, ".git"), 0755))
	assert.Empty(t, (&ProjectDocs{WorkingDir: emptyRoot}).Inject("any user input"))
}
