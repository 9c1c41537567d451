package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/llm/llmtest"
)

func echoRegistry() *ToolRegistry {
	reg := NewToolRegistry()
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{Name: "echo", Parameters: objectSchema(map[string]interface{}{})},
		Invoke: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
			return Success(json.RawMessage(args)), nil
		},
	})
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{Name: "fail"},
		Invoke: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
			return ToolResult{}, errors.New("disk full")
		},
	})
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{Name: "panic"},
		Invoke: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
			panic("boom")
		},
	})
	return reg
}

func toolResults(t *testing.T, msgs []llm.Message) []ToolResult {
	t.Helper()
	var out []ToolResult
	for _, m := range msgs {
		if m.Role != llm.RoleTool {
			continue
		}
		require.Len(t, m.Content, 1)
		var r ToolResult
		require.NoError(t, json.Unmarshal(m.Content[0].ToolResult.Content, &r))
		out = append(out, r)
	}
	return out
}

func TestSessionReturnsTextWithoutToolCalls(t *testing.T) {
	adapter := llmtest.New(llmtest.Text("all done\nDONE"))
	s := NewSession(llmtest.NewClient(adapter), "m", echoRegistry())

	text, err := s.Run(context.Background(), []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "all done\nDONE", text)

	reqs := adapter.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"echo", "fail", "panic"}, []string{reqs[0].ToolDefs[0].Name, reqs[0].ToolDefs[1].Name, reqs[0].ToolDefs[2].Name})
	require.NotNil(t, reqs[0].ToolChoice)
	assert.Equal(t, "auto", reqs[0].ToolChoice.Mode)
}

func TestSessionDispatchesToolCalls(t *testing.T) {
	adapter := llmtest.New(
		llmtest.Calls("thinking... ",
			llmtest.Call("echo", `{"x":1}`),
			llmtest.Call("nope", `{}`),
			llmtest.Call("fail", `{}`),
			llmtest.Call("panic", `{}`),
		),
		llmtest.Text("finished"),
	)
	s := NewSession(llmtest.NewClient(adapter), "m", echoRegistry())

	text, err := s.Run(context.Background(), []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "thinking... finished", text)

	reqs := adapter.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	// seed + 4 call/result pairs
	require.Len(t, second, 9)
	for i := 1; i < 9; i += 2 {
		assert.Equal(t, llm.RoleAssistant, second[i].Role)
		require.Len(t, second[i].ToolCalls(), 1)
		assert.Equal(t, llm.RoleTool, second[i+1].Role)
		assert.Equal(t, second[i].ToolCalls()[0].ID, second[i+1].ToolCallID)
	}

	results := toolResults(t, second)
	require.Len(t, results, 4)
	assert.True(t, results[0].OK)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, results[0].Data)
	assert.False(t, results[1].OK)
	assert.Equal(t, "Unknown tool: nope", results[1].Error)
	assert.False(t, results[2].OK)
	assert.Contains(t, results[2].Error, "disk full")
	assert.False(t, results[3].OK)
	assert.Contains(t, results[3].Error, "panic: boom")
	assert.True(t, second[4].Content[0].ToolResult.IsError)
}

func TestSessionRoundBudget(t *testing.T) {
	adapter := llmtest.New()
	adapter.Fallback = llmtest.Calls("r", llmtest.Call("echo", `{}`))
	s := NewSession(llmtest.NewClient(adapter), "m", echoRegistry(), WithMaxRounds(3))

	text, err := s.Run(context.Background(), []llm.Message{llm.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "rrr", text)
	assert.Len(t, adapter.Requests(), 3)
}

func TestSessionTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	adapter := llmtest.New(llmtest.Calls("", llmtest.Call("echo", `{}`)), llmtest.Turn{Err: boom})
	s := NewSession(llmtest.NewClient(adapter), "m", echoRegistry())

	_, err := s.Run(context.Background(), []llm.Message{llm.UserMessage("go")})
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
}

type streamFailAdapter struct{ llmtest.Adapter }

func (a *streamFailAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, 2)
	ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: "partial"}
	ch <- llm.StreamEvent{Type: llm.StreamError, Error: errors.New("connection reset")}
	close(ch)
	return ch, nil
}

func TestSessionStreamErrorEvent(t *testing.T) {
	a := &streamFailAdapter{}
	client := llm.NewClient(llm.WithProvider("broken", a), llm.WithRetryPolicy(llm.NoRetry()))
	s := NewSession(client, "m", NewToolRegistry())

	_, err := s.Run(context.Background(), nil)
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSessionEvents(t *testing.T) {
	adapter := llmtest.New(
		llmtest.Calls("", llmtest.Call("echo", `{}`), llmtest.Call("echo", `{}`)),
		llmtest.Text("ok"),
	)
	emitter := NewEventEmitter("run-1", 64)
	s := NewSession(llmtest.NewClient(adapter), "m", echoRegistry(), WithEmitter(emitter), WithLoopDetection(2))

	_, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	emitter.Close()

	var kinds []EventKind
	for ev := range emitter.Events() {
		assert.Equal(t, "run-1", ev.RunID)
		if ev.Kind != EventTextDelta {
			kinds = append(kinds, ev.Kind)
		}
	}
	assert.Equal(t, []EventKind{
		EventSessionStart,
		EventToolCallStart, EventToolCallEnd,
		EventToolCallStart, EventToolCallEnd,
		EventLoopDetection,
		EventSessionEnd,
	}, kinds)
}

func TestSessionCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession(llmtest.NewClient(llmtest.New(llmtest.Text("never"))), "m", NewToolRegistry())

	_, err := s.Run(ctx, nil)
	var te *llm.TransportError
	assert.ErrorAs(t, err, &te)
}
