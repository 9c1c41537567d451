package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/agentloop"
	"github.com/martinemde/ralphloop/loop"
	"github.com/martinemde/ralphloop/workspace"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	logger = zap.NewNop()
	os.Exit(m.Run())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(loop.StateDone))
	assert.Equal(t, 2, exitCode(loop.StateNeedsClarification))
	assert.Equal(t, 3, exitCode(loop.StateExhausted))
	assert.Equal(t, 130, exitCode(loop.StateCancelled))
	assert.Equal(t, 1, exitCode(loop.OutcomeFailed))
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   agentloop.Event
		want string
	}{
		{agentloop.Event{Kind: agentloop.EventIterationStart, Data: map[string]interface{}{"iteration": 2, "max_iterations": 5}}, "── iteration 2/5"},
		{agentloop.Event{Kind: agentloop.EventToolCallStart, Data: map[string]interface{}{"tool": "read_file"}}, "  → read_file"},
		{agentloop.Event{Kind: agentloop.EventToolCallEnd, Data: map[string]interface{}{"tool": "read_file", "ok": true}}, ""},
		{agentloop.Event{Kind: agentloop.EventToolCallEnd, Data: map[string]interface{}{"tool": "run_task", "ok": false, "error": "boom"}}, "  ✗ run_task: boom"},
		{agentloop.Event{Kind: agentloop.EventVerification, Data: map[string]interface{}{"all_passed": true}}, "  verification passed"},
		{agentloop.Event{Kind: agentloop.EventDecision, Data: map[string]interface{}{"verdict": "done"}}, "  ✓ done"},
		{agentloop.Event{Kind: agentloop.EventRunEnd, Data: map[string]interface{}{"outcome": "EXHAUSTED", "iterations": 3}}, "EXHAUSTED after 3 iteration(s)"},
		{agentloop.Event{Kind: agentloop.EventTextDelta, Data: map[string]interface{}{"delta": "hi"}}, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev))
		})
	}
}

func TestRenderEventSkipsHidden(t *testing.T) {
	var buf bytes.Buffer
	orig := out
	out = &buf
	t.Cleanup(func() { out = orig })

	renderEvent(agentloop.Event{Kind: agentloop.EventTextDelta})
	renderEvent(agentloop.Event{Kind: agentloop.EventError, Data: map[string]interface{}{"error": "x"}})
	assert.Equal(t, "  error: x\n", buf.String())
}

func TestCancelRecorded(t *testing.T) {
	fs, err := workspace.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	scratch := loop.NewScratch(fs, "")

	var signalled []int
	interrupt := func(pid int) error {
		signalled = append(signalled, pid)
		return nil
	}

	rec, err := cancelRecorded(scratch, interrupt)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, signalled)

	require.NoError(t, scratch.Write(loop.ScratchRecord{RunID: "r", PID: 999999, StartedAt: time.Now(), Iteration: 1, MaxIterations: 3}))
	rec, err = cancelRecorded(scratch, interrupt)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []int{999999}, signalled)
	_, err = scratch.Read()
	assert.True(t, workspace.IsNotExist(err))

	require.NoError(t, scratch.Write(loop.ScratchRecord{RunID: "self", PID: os.Getpid()}))
	_, err = cancelRecorded(scratch, interrupt)
	require.NoError(t, err)
	assert.Len(t, signalled, 1, "never signals itself")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
	assert.Equal(t, "12345678", short("1234567890"))
}
