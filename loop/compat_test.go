package loop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/workspace"
)

func TestExtractEdits(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    []Edit
		wantErr bool
	}{
		{name: "no block", text: "just prose"},
		{name: "empty block", text: "<edits>  </edits>"},
		{
			name: "case-insensitive tags",
			text: "before\n<EDITS>[{\"path\":\"a.go\",\"content\":\"package a\"}]</Edits>\nafter",
			want: []Edit{{Path: "a.go", Content: "package a"}},
		},
		{
			name: "skips entries without a path",
			text: `<edits>[{"content":"x"},"str",{"path":"","content":"y"},{"path":"b.txt"}]</edits>`,
			want: []Edit{{Path: "b.txt"}},
		},
		{
			name: "first block wins",
			text: `<edits>[{"path":"one"}]</edits><edits>[{"path":"two"}]</edits>`,
			want: []Edit{{Path: "one"}},
		},
		{name: "not an array", text: `<edits>{"path":"a"}</edits>`, wantErr: true},
		{name: "not json", text: `<edits>path=a</edits>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractEdits(tt.text)
			if tt.wantErr {
				var ce *CompatEditError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyEdits(t *testing.T) {
	root := t.TempDir()
	fs, err := workspace.NewLocalFS(root)
	require.NoError(t, err)

	written, err := ApplyEdits(fs, []Edit{
		{Path: " dir/a.txt", Content: "A"},
		{Path: `dir\b.txt`, Content: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a.txt", "dir/b.txt"}, written)
	data, err := os.ReadFile(filepath.Join(root, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))

	written, err = ApplyEdits(fs, []Edit{
		{Path: "ok.txt", Content: "ok"},
		{Path: "../out.txt", Content: "no"},
		{Path: "never.txt", Content: "no"},
	})
	var ce *CompatEditError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "../out.txt", ce.Path)
	assert.Equal(t, []string{"ok.txt"}, written)
	_, err = os.Stat(filepath.Join(root, "never.txt"))
	assert.True(t, os.IsNotExist(err))
}
