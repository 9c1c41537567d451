package workspace

import (
	"context"
	"os"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
}

func TestLocalSearchFind(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"main.go",
		"pkg/a.go",
		"pkg/a_test.go",
		"pkg/readme.md",
		"node_modules/lib/index.js",
		"web/node_modules/x/y.go",
		"vendor/dep/dep.go",
	)
	s := NewLocalSearch(root)

	got, err := s.Find(context.Background(), "**/*.go", DefaultExclude, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "pkg/a.go", "pkg/a_test.go"}, got)

	got, err = s.Find(context.Background(), "**/*.go", "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = s.Find(context.Background(), "", DefaultExclude, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Find(context.Background(), "docs/**/*.md", DefaultExclude, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type readDirLog struct {
	fstest.MapFS
	read []string
}

func (l *readDirLog) ReadDir(name string) ([]fs.DirEntry, error) {
	l.read = append(l.read, name)
	return l.MapFS.ReadDir(name)
}

func TestLocalSearchSkipsExcludedDirs(t *testing.T) {
	fsys := &readDirLog{MapFS: fstest.MapFS{
		"main.go":                   {},
		"node_modules/lib/index.go": {},
		"web/node_modules/x/y.go":   {},
		"web/app.go":                {},
		"build/out/gen.go":          {},
		"build/keep.txt":            {},
	}}
	s := &LocalSearch{fsys: fsys}

	got, err := s.Find(context.Background(), "**/*.go", DefaultExclude, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "web/app.go", "build/out/gen.go"}, got)
	assert.NotContains(t, fsys.read, "node_modules")
	assert.NotContains(t, fsys.read, "node_modules/lib")
	assert.NotContains(t, fsys.read, "web/node_modules")

	fsys.read = nil
	got, err = s.Find(context.Background(), "**/*", "build", 0)
	require.NoError(t, err)
	assert.NotContains(t, got, "build/keep.txt")
	assert.NotContains(t, fsys.read, "build")
}

func TestLocalSearchInvalidPattern(t *testing.T) {
	s := NewLocalSearch(t.TempDir())
	_, err := s.Find(context.Background(), "[", "", 0)
	assert.Error(t, err)
}

func TestLocalSearchHonoursContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalSearch(root).Find(ctx, "**/*", "", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
