package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/martinemde/ralphloop/llm"
)

// ToolResult is what every tool reports back to the model.
type ToolResult struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Success wraps data in a passing ToolResult.
func Success(data interface{}) ToolResult {
	return ToolResult{OK: true, Data: data}
}

// Failure builds a failed ToolResult.
func Failure(format string, args ...interface{}) ToolResult {
	return ToolResult{OK: false, Error: fmt.Sprintf(format, args...)}
}

// ToolInvoker runs a tool. A returned error is reported to the model as a
// failed result; it never ends the session.
type ToolInvoker func(ctx context.Context, arguments json.RawMessage) (ToolResult, error)

// RegisteredTool pairs a tool definition with its invoker.
type RegisteredTool struct {
	Definition llm.ToolDefinition
	Invoke     ToolInvoker
}

// ToolExecutionError is raised when a tool's invoker fails or panics.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ToolRegistry holds tools in registration order so the definitions sent
// to the model are deterministic.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds or replaces a tool. A replaced tool keeps its position.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ParseToolArguments unmarshals tool call arguments into a map. Malformed
// JSON from the model is repaired once before giving up. Empty arguments
// decode to an empty map.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return args, nil
	}
	err := json.Unmarshal([]byte(s), &args)
	if err == nil {
		return args, nil
	}
	repaired, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	args = map[string]interface{}{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts a finite number argument, floored to an int.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Floor(n)), true
	case int:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Floor(f)), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument from parsed tool arguments.
func GetBoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
