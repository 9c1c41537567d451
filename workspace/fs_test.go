package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFSRoundTrip(t *testing.T) {
	root := t.TempDir()
	fsys, err := NewLocalFS(root)
	require.NoError(t, err)

	require.NoError(t, fsys.Write("deep/nested/file.txt", []byte("hello")))

	data, err := fsys.Read("deep/nested/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := fsys.Stat(`deep\nested\file.txt`)
	require.NoError(t, err)
	assert.Equal(t, "deep/nested/file.txt", info.Path)
	assert.EqualValues(t, 5, info.Size)
	assert.False(t, info.IsDir)

	require.NoError(t, fsys.Delete("deep/nested/file.txt"))
	_, err = fsys.Stat("deep/nested/file.txt")
	assert.True(t, IsNotExist(err))

	// Deleting again is fine.
	assert.NoError(t, fsys.Delete("deep/nested/file.txt"))
}

func TestLocalFSRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	fsys, err := NewLocalFS(root)
	require.NoError(t, err)

	for _, p := range []string{"../x", "/tmp/x", "C:/x", ""} {
		assert.ErrorIs(t, fsys.Write(p, []byte("no")), ErrUnsafePath, p)
		_, err := fsys.Read(p)
		assert.ErrorIs(t, err, ErrUnsafePath, p)
	}

	_, err = os.Stat(filepath.Join(filepath.Dir(root), "x"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalFSCreateDir(t *testing.T) {
	fsys, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fsys.CreateDir("a/b/c"))
	info, err := fsys.Stat("a/b/c")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}
