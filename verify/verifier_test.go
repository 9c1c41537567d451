package verify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/taskrun"
	"github.com/martinemde/ralphloop/workspace"
)

// countingFS counts Stat and Read calls on top of a LocalFS.
type countingFS struct {
	*workspace.LocalFS
	stats, reads int
}

func (c *countingFS) Stat(p string) (workspace.FileInfo, error) {
	c.stats++
	return c.LocalFS.Stat(p)
}

func (c *countingFS) Read(p string) ([]byte, error) {
	c.reads++
	return c.LocalFS.Read(p)
}

// fakeRunner resolves tasks from a table and counts runs.
type fakeRunner struct {
	results map[string]taskrun.Result
	runs    map[string]int
}

func (f *fakeRunner) List(ctx context.Context) ([]taskrun.Task, error) { return nil, nil }

func (f *fakeRunner) Run(ctx context.Context, label string, timeout time.Duration) taskrun.Result {
	f.runs[label]++
	if r, ok := f.results[label]; ok {
		return r
	}
	return taskrun.Result{Label: label, Outcome: taskrun.OutcomeNotFound, ExitCode: -1, Err: &taskrun.NotFoundError{Label: label}}
}

type fixture struct {
	root   string
	fs     *countingFS
	diags  *workspace.StaticDiagnostics
	runner *fakeRunner
	prompt *workspace.AutoPrompt
	v      *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	local, err := workspace.NewLocalFS(root)
	require.NoError(t, err)

	f := &fixture{
		root:  root,
		fs:    &countingFS{LocalFS: local},
		diags: workspace.NewStaticDiagnostics(),
		runner: &fakeRunner{
			results: map[string]taskrun.Result{
				"build": {Outcome: taskrun.OutcomeExited, ExitCode: 0},
				"test":  {Outcome: taskrun.OutcomeExited, ExitCode: 1},
				"slow":  {Outcome: taskrun.OutcomeTimeout, ExitCode: -1, Err: errors.New(`task "slow" timed out after 1s`)},
			},
			runs: map[string]int{},
		},
		prompt: &workspace.AutoPrompt{Answer: true},
	}
	f.v = New(Deps{
		FS:          f.fs,
		Search:      workspace.NewLocalSearch(root),
		Diagnostics: f.diags,
		Runner:      f.runner,
		Prompt:      f.prompt,
	})
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func errorsIn(path string, n int) workspace.FileDiagnostics {
	fd := workspace.FileDiagnostics{Path: path}
	for i := 0; i < n; i++ {
		fd.Items = append(fd.Items, workspace.Diagnostic{Severity: workspace.SeverityError, Message: "bad"})
	}
	return fd
}

func TestVerifyOne(t *testing.T) {
	f := newFixture(t)
	f.write(t, "README.md", "# Hello\nusage: ralphloop run")
	f.write(t, "pkg/a.go", "package pkg")
	f.write(t, "pkg/b.go", "package pkg")
	f.write(t, "node_modules/x/c.go", "package x")

	tests := []struct {
		name   string
		check  plan.Check
		pass   bool
		reason string
	}{
		{"file exists", plan.FileExistsCheck{Path: "README.md"}, true, ""},
		{"file missing", plan.FileExistsCheck{Path: "CHANGELOG.md"}, false, "does not exist"},
		{"unsafe path", plan.FileExistsCheck{Path: "../etc/passwd"}, false, "unsafe"},
		{"contains", plan.FileContainsCheck{Path: "README.md", Text: "usage:"}, true, ""},
		{"not contains", plan.FileContainsCheck{Path: "README.md", Text: "license"}, false, "does not contain"},
		{"contains missing file", plan.FileContainsCheck{Path: "nope.md", Text: "x"}, false, "does not exist"},
		{"glob enough", plan.GlobExistsCheck{Glob: "**/*.go", MinCount: 2}, true, ""},
		{"glob excludes deps", plan.GlobExistsCheck{Glob: "**/*.go", MinCount: 3}, false, "need at least 3"},
		{"glob zero", plan.GlobExistsCheck{Glob: "**/*.rs", MinCount: 0}, true, ""},
		{"task passes", plan.TaskRunCheck{Label: "build", TimeoutMs: 1000}, true, ""},
		{"task exit code", plan.TaskRunCheck{Label: "test", TimeoutMs: 1000}, false, "exited with code 1"},
		{"task timeout", plan.TaskRunCheck{Label: "slow", TimeoutMs: 1000}, false, "timed out"},
		{"task missing", plan.TaskRunCheck{Label: "deploy", TimeoutMs: 1000}, false, "not found"},
		{"task no label", plan.TaskRunCheck{TimeoutMs: 1000}, false, "no label"},
		{"confirm yes", plan.UserConfirmCheck{Question: "ok?"}, true, ""},
		{"unsupported", plan.UnsupportedCheck{Type: "teleport"}, false, "unsupported"},
		{"diagnostics clean", plan.DiagnosticsCheck{MaxErrors: 0}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.v.VerifyOne(context.Background(), tt.check, nil)
			if tt.pass {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Contains(t, got.Reason, tt.reason)
			assert.Equal(t, tt.check, got.Check)
		})
	}
}

func TestVerifyOneDiagnosticsThreshold(t *testing.T) {
	f := newFixture(t)
	f.diags.Set(errorsIn("a.go", 2), workspace.FileDiagnostics{Path: "b.go", Items: []workspace.Diagnostic{{Severity: workspace.SeverityWarning}}})

	assert.Nil(t, f.v.VerifyOne(context.Background(), plan.DiagnosticsCheck{MaxErrors: 2}, nil))
	got := f.v.VerifyOne(context.Background(), plan.DiagnosticsCheck{MaxErrors: 1}, nil)
	require.NotNil(t, got)
	assert.Contains(t, got.Reason, "2 diagnostic error(s)")
}

func TestVerifyOneUserConfirm(t *testing.T) {
	f := newFixture(t)
	f.prompt.Answer = false

	got := f.v.VerifyOne(context.Background(), plan.UserConfirmCheck{Question: "Ship?"}, nil)
	require.NotNil(t, got)
	assert.Contains(t, got.Reason, "did not confirm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got = f.v.VerifyOne(ctx, plan.UserConfirmCheck{Question: "Again?"}, nil)
	require.NotNil(t, got)
	assert.Contains(t, got.Reason, "cancelled")
	assert.Equal(t, []string{"Ship?"}, f.prompt.Asked, "no prompt after cancellation")

	signal, stop := context.WithCancel(context.Background())
	stop()
	rt := NewRuntime(taskrun.NewCache(0, nil), signal)
	got = f.v.VerifyOne(context.Background(), plan.UserConfirmCheck{Question: "Third?"}, rt)
	require.NotNil(t, got)
	assert.Len(t, f.prompt.Asked, 1)
}

func TestVerifyOneUsesRuntimeCache(t *testing.T) {
	f := newFixture(t)
	rt := NewRuntime(taskrun.NewCache(0, nil), nil)
	check := plan.TaskRunCheck{Label: "build", TimeoutMs: 2000}

	assert.Nil(t, f.v.VerifyOne(context.Background(), check, rt))
	assert.Nil(t, f.v.VerifyOne(context.Background(), check, rt))
	assert.Equal(t, 1, f.runner.runs["build"])

	rt.Reset(2)
	assert.Nil(t, f.v.VerifyOne(context.Background(), check, rt))
	assert.Equal(t, 2, f.runner.runs["build"])
	assert.Equal(t, 2, rt.Iteration)
}

func TestVerifyTasksIsExhaustive(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha")
	f.diags.Set(errorsIn("main.go", 3))

	tasks := []plan.Task{
		{ID: "t1", Checks: plan.Checks{
			plan.FileExistsCheck{Path: "missing-1"},
			plan.FileContainsCheck{Path: "a.txt", Text: "beta"},
			plan.FileExistsCheck{Path: "a.txt"},
		}},
		{ID: "t2"},
		{ID: "t3", Checks: plan.Checks{
			plan.FileExistsCheck{Path: "missing-2"},
			plan.DiagnosticsCheck{MaxErrors: 0},
		}},
	}

	report := f.v.VerifyTasks(context.Background(), tasks, nil)

	// Every check ran: three Stats, one Read, one per-check diagnostics
	// query plus the aggregate one.
	assert.Equal(t, 3, f.fs.stats)
	assert.Equal(t, 1, f.fs.reads)
	assert.Equal(t, 2, f.diags.Calls())

	assert.False(t, report.AllPassed)
	assert.Equal(t, 3, report.Errors)
	require.Len(t, report.Failures, 6)

	var ids []string
	for _, fl := range report.Failures {
		ids = append(ids, fl.TaskID)
	}
	assert.Equal(t, []string{"t1", "t1", "t2", "t3", "t3", ""}, ids)
	assert.Contains(t, report.Failures[2].Reason, "cannot be verified")
	assert.Nil(t, report.Failures[2].Check)
	assert.Contains(t, report.Failures[5].Reason, "3 diagnostic error(s)")
}

func TestVerifyTasksAllPassed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "done.txt", "DONE")

	report := f.v.VerifyTasks(context.Background(), []plan.Task{
		{ID: "t1", Checks: plan.Checks{plan.FileContainsCheck{Path: "done.txt", Text: "DONE"}}},
	}, nil)

	assert.True(t, report.AllPassed)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, report.Errors)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"allPassed":true,"errors":0,"failures":[]}`, string(raw))
}

func TestReportJSONIncludesCheckType(t *testing.T) {
	r := NewReport(0, []Failure{{TaskID: "t1", Check: plan.FileExistsCheck{Path: "x"}, Reason: "missing"}})
	raw, err := json.MarshalIndent(r, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"type": "fileExists"`))
	assert.False(t, r.AllPassed)
}

type failingDiagnostics struct{}

func (failingDiagnostics) GetAll(ctx context.Context) ([]workspace.FileDiagnostics, error) {
	return nil, errors.New("linter crashed")
}

func TestVerifyWrapsEvaluationErrors(t *testing.T) {
	f := newFixture(t)
	v := New(Deps{FS: f.fs, Search: workspace.NewLocalSearch(f.root), Diagnostics: failingDiagnostics{}, Runner: f.runner, Prompt: f.prompt})

	got := v.VerifyOne(context.Background(), plan.DiagnosticsCheck{}, nil)
	require.NotNil(t, got)
	assert.Contains(t, got.Reason, "diagnostics check failed: linter crashed")

	report := v.VerifyTasks(context.Background(), nil, nil)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "linter crashed")
}
