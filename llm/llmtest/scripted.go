// Package llmtest provides a scripted provider adapter for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/ralphloop/llm"
)

// Turn is one scripted model reply. Err, when set, is returned instead of
// a reply (from Complete, or when opening a Stream).
type Turn struct {
	Text      string
	ToolCalls []llm.ToolCall
	Err       error
}

// Text returns a turn that replies with text only.
func Text(s string) Turn { return Turn{Text: s} }

// Call returns a tool call with a fresh ID.
func Call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + uuid.NewString()[:8], Name: name, Arguments: []byte(args)}
}

// Calls returns a turn that optionally says something and then requests
// tool calls.
func Calls(text string, calls ...llm.ToolCall) Turn {
	return Turn{Text: text, ToolCalls: calls}
}

// Adapter replays Turns in order, one per Complete or Stream call, and
// records every request it receives. When the script runs out it answers
// with Fallback.
type Adapter struct {
	Fallback Turn

	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request
	// OnRequest, if set, runs before each reply is produced.
	OnRequest func(n int, req llm.Request)
}

// New creates an Adapter with the given script.
func New(turns ...Turn) *Adapter {
	return &Adapter{turns: turns}
}

// NewClient wraps the adapter in a Client with retries disabled.
func NewClient(a *Adapter) *llm.Client {
	return llm.NewClient(llm.WithProvider(a.Name(), a), llm.WithRetryPolicy(llm.NoRetry()))
}

func (a *Adapter) Name() string { return "scripted" }

// Requests returns a copy of every request received so far.
func (a *Adapter) Requests() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Request(nil), a.requests...)
}

func (a *Adapter) next(req llm.Request) Turn {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	n := len(a.requests)
	t := a.Fallback
	if len(a.turns) > 0 {
		t = a.turns[0]
		a.turns = a.turns[1:]
	}
	hook := a.OnRequest
	a.mu.Unlock()
	if hook != nil {
		hook(n, req)
	}
	return t
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := a.next(req)
	if t.Err != nil {
		return nil, t.Err
	}
	msg := llm.AssistantMessage(t.Text)
	for _, c := range t.ToolCalls {
		msg.Content = append(msg.Content, llm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &llm.Response{
		ID:           fmt.Sprintf("scripted-%d", len(a.Requests())),
		Model:        req.Model,
		Provider:     a.Name(),
		Message:      msg,
		FinishReason: llm.FinishReason{Reason: "stop"},
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := a.next(req)
	if t.Err != nil {
		return nil, t.Err
	}
	ch := make(chan llm.StreamEvent, len(t.ToolCalls)+3)
	ch <- llm.StreamEvent{Type: llm.StreamStart}
	if t.Text != "" {
		ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: t.Text}
	}
	for i := range t.ToolCalls {
		c := t.ToolCalls[i]
		ch <- llm.StreamEvent{Type: llm.ToolCallEnd, ToolCall: &c}
	}
	reason := "stop"
	if len(t.ToolCalls) > 0 {
		reason = "tool_calls"
	}
	ch <- llm.StreamEvent{Type: llm.StreamFinish, FinishReason: &llm.FinishReason{Reason: reason}}
	close(ch)
	return ch, nil
}
