package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/llm"
)

const (
	// DefaultMaxRounds bounds the model round trips of one Run.
	DefaultMaxRounds = 30
	// DefaultLoopDetectionWindow is how many trailing tool calls are
	// inspected for a repeating pattern.
	DefaultLoopDetectionWindow = 10
)

// Session drives one bounded tool-calling conversation per Run call. It
// keeps no conversation state between runs.
type Session struct {
	client     *llm.Client
	model      string
	registry   *ToolRegistry
	maxRounds  int
	loopWindow int
	emitter    *EventEmitter
	logger     *zap.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxRounds overrides DefaultMaxRounds. Values below 1 are ignored.
func WithMaxRounds(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithEmitter sends session events to e.
func WithEmitter(e *EventEmitter) SessionOption {
	return func(s *Session) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLoopDetection sets the repeat-detection window; 0 disables it.
func WithLoopDetection(window int) SessionOption {
	return func(s *Session) { s.loopWindow = window }
}

// NewSession creates a session that talks to model through client and
// offers the tools in registry.
func NewSession(client *llm.Client, model string, registry *ToolRegistry, opts ...SessionOption) *Session {
	s := &Session{
		client:     client,
		model:      model,
		registry:   registry,
		maxRounds:  DefaultMaxRounds,
		loopWindow: DefaultLoopDetectionWindow,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sends seed plus the growing tool exchange to the model until a round
// produces no tool calls, and returns the text of every round concatenated
// in arrival order. Exhausting the round budget is not an error. A failed
// or broken stream is returned as *llm.TransportError.
func (s *Session) Run(ctx context.Context, seed []llm.Message) (string, error) {
	messages := append([]llm.Message(nil), seed...)
	defs := s.registry.Definitions()
	var out strings.Builder
	tracker := &callTracker{}

	s.emitter.Emit(EventSessionStart, map[string]interface{}{
		"tools":      len(defs),
		"max_rounds": s.maxRounds,
	})

	for round := 1; round <= s.maxRounds; round++ {
		text, calls, err := s.streamRound(ctx, messages, defs)
		if err != nil {
			s.logger.Warn("session round failed", zap.Int("round", round), zap.Error(err))
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error(), "round": round})
			return "", err
		}
		out.WriteString(text)

		if len(calls) == 0 {
			s.logger.Debug("session finished", zap.Int("rounds", round), zap.Int("chars", out.Len()))
			s.emitter.Emit(EventSessionEnd, map[string]interface{}{"rounds": round})
			return out.String(), nil
		}

		for _, call := range calls {
			result := s.dispatch(ctx, call)
			messages = append(messages,
				llm.ToolCallMessage(call),
				llm.ToolResultMessage(call.ID, encodeResult(result), !result.OK))
		}

		tracker.record(calls)
		if tracker.repeating(s.loopWindow) {
			s.logger.Warn("repeating tool calls", zap.Int("round", round), zap.Int("window", s.loopWindow))
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{
				"round":   round,
				"message": fmt.Sprintf("the last %d tool calls follow a repeating pattern", s.loopWindow),
			})
		}
	}

	s.logger.Info("session round budget exhausted", zap.Int("max_rounds", s.maxRounds))
	s.emitter.Emit(EventRoundLimit, map[string]interface{}{"rounds": s.maxRounds})
	return out.String(), nil
}

// streamRound sends one request and drains its event stream.
func (s *Session) streamRound(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (string, []llm.ToolCall, error) {
	req := llm.Request{
		Model:    s.model,
		Messages: messages,
		ToolDefs: defs,
	}
	if len(defs) > 0 {
		req.ToolChoice = &llm.ToolChoice{Mode: "auto"}
	}

	ch, err := s.client.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []llm.ToolCall
	for {
		select {
		case <-ctx.Done():
			go drain(ch)
			return "", nil, &llm.TransportError{Op: "stream", Err: &llm.AbortError{SDKError: llm.SDKError{Message: "stream cancelled", Cause: ctx.Err()}}}
		case ev, ok := <-ch:
			if !ok {
				return text.String(), calls, nil
			}
			switch ev.Type {
			case llm.TextDelta:
				text.WriteString(ev.Delta)
				s.emitter.Emit(EventTextDelta, map[string]interface{}{"delta": ev.Delta})
			case llm.ToolCallEnd:
				if ev.ToolCall == nil {
					continue
				}
				call := *ev.ToolCall
				if call.ID == "" {
					call.ID = "call_" + uuid.NewString()
				}
				calls = append(calls, call)
			case llm.StreamError:
				go drain(ch)
				return "", nil, &llm.TransportError{Op: "stream", Err: ev.Error}
			}
		}
	}
}

func drain(ch <-chan llm.StreamEvent) {
	for range ch {
	}
}

// dispatch runs one tool call. It never fails: unknown tools, invoker
// errors and panics all become failed results.
func (s *Session) dispatch(ctx context.Context, call llm.ToolCall) ToolResult {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool":    call.Name,
		"call_id": call.ID,
	})

	var result ToolResult
	if tool := s.registry.Get(call.Name); tool == nil {
		result = Failure("Unknown tool: %s", call.Name)
	} else {
		result = s.invoke(ctx, tool, call)
	}

	s.logger.Debug("tool call",
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Bool("ok", result.OK))
	end := map[string]interface{}{
		"tool":    call.Name,
		"call_id": call.ID,
		"ok":      result.OK,
	}
	if !result.OK {
		end["error"] = result.Error
	}
	s.emitter.Emit(EventToolCallEnd, end)
	return result
}

func (s *Session) invoke(ctx context.Context, tool *RegisteredTool, call llm.ToolCall) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("tool panicked", zap.Error(err))
			result = ToolResult{OK: false, Error: err.Error()}
		}
	}()

	res, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		te := &ToolExecutionError{Tool: call.Name, Err: err}
		s.logger.Warn("tool failed", zap.Error(te))
		return ToolResult{OK: false, Error: te.Error()}
	}
	return res
}

func encodeResult(r ToolResult) json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Failure("encode tool result: %v", err))
	}
	return data
}
