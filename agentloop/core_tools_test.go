package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/workspace"
)

type toolHarness struct {
	root  string
	reg   *ToolRegistry
	diags *workspace.StaticDiagnostics
}

func newToolHarness(t *testing.T) *toolHarness {
	t.Helper()
	root := t.TempDir()
	fs, err := workspace.NewLocalFS(root)
	require.NoError(t, err)
	h := &toolHarness{root: root, reg: NewToolRegistry(), diags: workspace.NewStaticDiagnostics()}
	RegisterWorkspaceTools(h.reg, WorkspaceTools{FS: fs, Search: workspace.NewLocalSearch(root), Diagnostics: h.diags})
	return h
}

func (h *toolHarness) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// call invokes a tool and round-trips its result through JSON, the way the
// model sees it.
func (h *toolHarness) call(t *testing.T, name, args string) (bool, map[string]interface{}, string) {
	t.Helper()
	tool := h.reg.Get(name)
	require.NotNil(t, tool, name)
	res, err := tool.Invoke(context.Background(), json.RawMessage(args))
	if err != nil {
		return false, nil, err.Error()
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded struct {
		OK    bool                   `json:"ok"`
		Data  map[string]interface{} `json:"data"`
		Error string                 `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded.OK, decoded.Data, decoded.Error
}

func TestReadFile(t *testing.T) {
	h := newToolHarness(t)
	h.write(t, "notes.txt", "one\r\ntwo\nthree\nfour")

	ok, data, _ := h.call(t, "read_file", `{"path":"notes.txt"}`)
	require.True(t, ok)
	assert.Equal(t, "one\r\ntwo\nthree\nfour", data["content"])

	ok, data, _ = h.call(t, "read_file", `{"path":"notes.txt","startLine":2,"endLine":3}`)
	require.True(t, ok)
	assert.Equal(t, "two\nthree", data["content"])

	ok, data, _ = h.call(t, "read_file", `{"path":"notes.txt","startLine":3,"endLine":1}`)
	require.True(t, ok)
	assert.Equal(t, "three", data["content"])

	ok, data, _ = h.call(t, "read_file", `{"path":"notes.txt","startLine":10}`)
	require.True(t, ok)
	assert.Equal(t, "", data["content"])

	ok, _, errMsg := h.call(t, "read_file", `{"path":"../secret"}`)
	assert.False(t, ok)
	assert.Equal(t, "invalid path", errMsg)

	ok, _, _ = h.call(t, "read_file", `{"path":"missing.txt"}`)
	assert.False(t, ok)
}

func TestReadFileTruncates(t *testing.T) {
	h := newToolHarness(t)
	h.write(t, "big.txt", strings.Repeat("x", 1000))

	ok, data, _ := h.call(t, "read_file", `{"path":"big.txt","maxChars":10}`)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 200)+TruncatedMarker, data["content"])
}

func TestWriteFile(t *testing.T) {
	h := newToolHarness(t)

	ok, data, _ := h.call(t, "write_file", `{"path":"src/app.go","content":"package app\n"}`)
	require.True(t, ok)
	assert.Equal(t, "src/app.go", data["path"])
	got, err := os.ReadFile(filepath.Join(h.root, "src", "app.go"))
	require.NoError(t, err)
	assert.Equal(t, "package app\n", string(got))

	ok, _, errMsg := h.call(t, "write_file", `{"path":"/etc/passwd","content":"x"}`)
	assert.False(t, ok)
	assert.Equal(t, "invalid path", errMsg)
}

func TestWriteFileRepairsArguments(t *testing.T) {
	h := newToolHarness(t)
	ok, _, _ := h.call(t, "write_file", `{"path":"a.txt","content":"hi",}`)
	require.True(t, ok)
	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestListFiles(t *testing.T) {
	h := newToolHarness(t)
	for i := 0; i < 5; i++ {
		h.write(t, filepath.Join("pkg", string(rune('a'+i))+".go"), "package pkg")
	}
	h.write(t, "node_modules/dep/index.go", "x")

	ok, data, _ := h.call(t, "list_files", `{"glob":"**/*.go"}`)
	require.True(t, ok)
	assert.Len(t, data["files"], 5)

	ok, data, _ = h.call(t, "list_files", `{"glob":"**/*.go","maxResults":0}`)
	require.True(t, ok)
	assert.Len(t, data["files"], 1)

	ok, data, _ = h.call(t, "list_files", `{"glob":"**/*.rs"}`)
	require.True(t, ok)
	assert.Equal(t, []interface{}{}, data["files"])
}

func TestSearch(t *testing.T) {
	h := newToolHarness(t)
	h.write(t, "a.go", "package a\nfunc Foo() {}\n")
	h.write(t, "b.go", "package b\nfunc Bar() {}\nfunc Foo2() {}\n")
	h.write(t, "c.md", "Foo in docs "+strings.Repeat("y", 400))

	ok, data, _ := h.call(t, "search", `{"query":"Foo","includePattern":"**/*.go"}`)
	require.True(t, ok)
	results := data["results"].([]interface{})
	assert.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "a.go", first["path"])
	assert.Equal(t, float64(2), first["line"])

	ok, data, _ = h.call(t, "search", `{"query":"^func \\w+\\(\\)","isRegex":true,"maxResults":2}`)
	require.True(t, ok)
	assert.Len(t, data["results"], 2)

	ok, data, _ = h.call(t, "search", `{"query":"docs"}`)
	require.True(t, ok)
	hit := data["results"].([]interface{})[0].(map[string]interface{})
	assert.Len(t, hit["text"], searchMaxLineChars)

	ok, _, errMsg := h.call(t, "search", `{"query":"   "}`)
	assert.False(t, ok)
	assert.Equal(t, "empty query", errMsg)

	ok, _, _ = h.call(t, "search", `{"query":"(","isRegex":true}`)
	assert.False(t, ok)
}

func TestGetDiagnostics(t *testing.T) {
	h := newToolHarness(t)
	h.diags.Set(
		workspace.FileDiagnostics{Path: "a.go", Items: []workspace.Diagnostic{{
			Severity: workspace.SeverityError,
			Message:  "undefined: x",
			Range:    workspace.Range{Start: workspace.Position{Line: 3, Column: 2}, End: workspace.Position{Line: 3, Column: 3}},
			Source:   "go vet",
		}}},
		workspace.FileDiagnostics{Path: "b.go", Items: []workspace.Diagnostic{{Severity: workspace.SeverityWarning, Message: "unused"}}},
	)

	ok, data, _ := h.call(t, "get_diagnostics", `{}`)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["count"])
	item := data["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "error", item["severity"])
	assert.Equal(t, "3:2-3:3", item["range"])
	assert.Equal(t, "go vet", item["source"])

	ok, data, _ = h.call(t, "get_diagnostics", `{"path":"b.go"}`)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["count"])

	ok, _, errMsg := h.call(t, "get_diagnostics", `{"path":"../x"}`)
	assert.False(t, ok)
	assert.Equal(t, "invalid path", errMsg)
}

func TestGetDiagnosticsCapsItems(t *testing.T) {
	h := newToolHarness(t)
	fd := workspace.FileDiagnostics{Path: "a.go"}
	for i := 0; i < 250; i++ {
		fd.Items = append(fd.Items, workspace.Diagnostic{Message: "e"})
	}
	h.diags.Set(fd)

	ok, data, _ := h.call(t, "get_diagnostics", ``)
	require.True(t, ok)
	assert.Equal(t, float64(250), data["count"])
	assert.Len(t, data["items"], maxDiagnosticItems)
}
