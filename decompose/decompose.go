// Package decompose splits a free-text instruction into ordered, verifiable
// tasks with a single model call.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/plan"
)

// Result is the decomposer's parsed output. Both slices are non-nil.
type Result struct {
	Tasks          []plan.Task          `json:"tasks"`
	Clarifications []plan.Clarification `json:"clarifications"`
}

// NeedsClarification reports whether the loop cannot start: the model asked
// questions or produced nothing to do.
func (r *Result) NeedsClarification() bool {
	return len(r.Clarifications) > 0 || len(r.Tasks) == 0
}

// DecompositionError means the model's reply could not be parsed into a
// Result. Raw holds the reply verbatim.
type DecompositionError struct {
	Raw string
	Err error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition output is not valid JSON: %v", e.Err)
}

func (e *DecompositionError) Unwrap() error { return e.Err }

// Decomposer asks a model to split instructions into tasks.
type Decomposer struct {
	client *llm.Client
	model  string
	logger *zap.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Decomposer) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Decomposer that sends requests for model through client.
func New(client *llm.Client, model string, opts ...Option) *Decomposer {
	d := &Decomposer{client: client, model: model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose sends one request and parses the reply. Tasks come back sorted
// by Order. Transport failures are returned as *llm.TransportError and
// unparseable replies as *DecompositionError; neither is retried here.
func (d *Decomposer) Decompose(ctx context.Context, instruction string) (*Result, error) {
	resp, err := d.client.Complete(ctx, llm.Request{
		Model: d.model,
		Messages: []llm.Message{
			llm.SystemMessage(systemFraming),
			llm.UserMessage(instruction),
		},
	})
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	res, err := Parse(text)
	if err != nil {
		d.logger.Warn("decomposition unparseable", zap.Int("reply_chars", len(text)), zap.Error(err))
		return nil, err
	}
	d.logger.Info("instruction decomposed",
		zap.Int("tasks", len(res.Tasks)),
		zap.Int("clarifications", len(res.Clarifications)))
	return res, nil
}

// Parse decodes a decomposition reply. It tries the text as-is, then the
// span from the first '{' to the last '}', then that span after JSON
// repair. Missing task IDs become "task-N" and tasks are sorted by Order.
func Parse(text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)

	res, err := decode(trimmed)
	if err != nil {
		first := strings.Index(trimmed, "{")
		last := strings.LastIndex(trimmed, "}")
		if first < 0 || last <= first {
			return nil, &DecompositionError{Raw: text, Err: err}
		}
		slice := trimmed[first : last+1]
		if res, err = decode(slice); err != nil {
			repaired, rerr := jsonrepair.JSONRepair(slice)
			if rerr != nil {
				return nil, &DecompositionError{Raw: text, Err: err}
			}
			if res, err = decode(repaired); err != nil {
				return nil, &DecompositionError{Raw: text, Err: err}
			}
		}
	}

	for i := range res.Tasks {
		if strings.TrimSpace(res.Tasks[i].ID) == "" {
			res.Tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		if res.Tasks[i].Checks == nil {
			res.Tasks[i].Checks = plan.Checks{}
		}
	}
	res.Tasks = plan.SortTasks(res.Tasks)
	return res, nil
}

// decode requires a JSON object. Fields that are absent or not arrays are
// treated as empty.
func decode(s string) (*Result, error) {
	var raw struct {
		Tasks          json.RawMessage `json:"tasks"`
		Clarifications json.RawMessage `json:"clarifications"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	res := &Result{Tasks: []plan.Task{}, Clarifications: []plan.Clarification{}}
	if isArray(raw.Tasks) {
		if err := json.Unmarshal(raw.Tasks, &res.Tasks); err != nil {
			return nil, fmt.Errorf("tasks: %w", err)
		}
	}
	if isArray(raw.Clarifications) {
		if err := json.Unmarshal(raw.Clarifications, &res.Clarifications); err != nil {
			return nil, fmt.Errorf("clarifications: %w", err)
		}
	}
	return res, nil
}

func isArray(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "[")
}
