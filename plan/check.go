// Package plan holds the data produced by decomposition: ordered tasks, the
// machine-checkable criteria attached to them, and clarification requests.
package plan

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/martinemde/ralphloop/taskrun"
)

// Kind is the discriminant of a Check.
type Kind string

const (
	KindDiagnostics  Kind = "diagnostics"
	KindFileExists   Kind = "fileExists"
	KindFileContains Kind = "fileContains"
	KindGlobExists   Kind = "globExists"
	KindTaskRun      Kind = "taskRun"
	KindUserConfirm  Kind = "userConfirm"

	// kindTaskRunAlias is an older wire name for KindTaskRun.
	kindTaskRunAlias = "vscodeTask"

	// DefaultGlob is used when a globExists check names no pattern.
	DefaultGlob = "**/*"
)

// Check is one machine-checkable completion criterion. The set of
// implementations is closed; switch on the concrete type.
type Check interface {
	Kind() Kind
	// Describe renders the check for humans and prompts.
	Describe() string
	isCheck()
}

// DiagnosticsCheck passes when the workspace has at most MaxErrors errors.
type DiagnosticsCheck struct {
	MaxErrors int `json:"maxErrors"`
}

// FileExistsCheck passes when Path exists.
type FileExistsCheck struct {
	Path string `json:"path"`
}

// FileContainsCheck passes when Path contains Text.
type FileContainsCheck struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// GlobExistsCheck passes when at least MinCount files match Glob.
type GlobExistsCheck struct {
	Glob     string `json:"glob"`
	MinCount int    `json:"minCount"`
}

// TaskRunCheck passes when the named task exits zero within TimeoutMs.
type TaskRunCheck struct {
	Label     string `json:"label"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// UserConfirmCheck passes when a person answers yes to Question.
type UserConfirmCheck struct {
	Question string `json:"question"`
}

// UnsupportedCheck records a criterion that could not be decoded. It never
// passes.
type UnsupportedCheck struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func (DiagnosticsCheck) Kind() Kind   { return KindDiagnostics }
func (FileExistsCheck) Kind() Kind    { return KindFileExists }
func (FileContainsCheck) Kind() Kind  { return KindFileContains }
func (GlobExistsCheck) Kind() Kind    { return KindGlobExists }
func (TaskRunCheck) Kind() Kind       { return KindTaskRun }
func (UserConfirmCheck) Kind() Kind   { return KindUserConfirm }
func (c UnsupportedCheck) Kind() Kind { return Kind(c.Type) }

func (DiagnosticsCheck) isCheck()  {}
func (FileExistsCheck) isCheck()   {}
func (FileContainsCheck) isCheck() {}
func (GlobExistsCheck) isCheck()   {}
func (TaskRunCheck) isCheck()      {}
func (UserConfirmCheck) isCheck()  {}
func (UnsupportedCheck) isCheck()  {}

func (c DiagnosticsCheck) Describe() string {
	return fmt.Sprintf("diagnostics: at most %d error(s)", c.MaxErrors)
}

func (c FileExistsCheck) Describe() string {
	return fmt.Sprintf("file exists: %s", c.Path)
}

func (c FileContainsCheck) Describe() string {
	return fmt.Sprintf("file %s contains %q", c.Path, c.Text)
}

func (c GlobExistsCheck) Describe() string {
	return fmt.Sprintf("at least %d file(s) match %s", c.MinCount, c.Glob)
}

func (c TaskRunCheck) Describe() string {
	return fmt.Sprintf("task %q succeeds within %dms", c.Label, c.TimeoutMs)
}

func (c UserConfirmCheck) Describe() string {
	return fmt.Sprintf("user confirms: %s", c.Question)
}

func (c UnsupportedCheck) Describe() string {
	if c.Reason != "" {
		return fmt.Sprintf("unsupported check %q: %s", c.Type, c.Reason)
	}
	return fmt.Sprintf("unsupported check %q", c.Type)
}

func marshalTagged(kind Kind, v any) ([]byte, error) {
	fields, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(kind)
	m["type"] = tag
	return json.Marshal(m)
}

func (c DiagnosticsCheck) MarshalJSON() ([]byte, error) {
	type plain DiagnosticsCheck
	return marshalTagged(c.Kind(), plain(c))
}

func (c FileExistsCheck) MarshalJSON() ([]byte, error) {
	type plain FileExistsCheck
	return marshalTagged(c.Kind(), plain(c))
}

func (c FileContainsCheck) MarshalJSON() ([]byte, error) {
	type plain FileContainsCheck
	return marshalTagged(c.Kind(), plain(c))
}

func (c GlobExistsCheck) MarshalJSON() ([]byte, error) {
	type plain GlobExistsCheck
	return marshalTagged(c.Kind(), plain(c))
}

func (c TaskRunCheck) MarshalJSON() ([]byte, error) {
	type plain TaskRunCheck
	return marshalTagged(c.Kind(), plain(c))
}

func (c UserConfirmCheck) MarshalJSON() ([]byte, error) {
	type plain UserConfirmCheck
	return marshalTagged(c.Kind(), plain(c))
}

// rawCheck is the permissive wire shape of every variant.
type rawCheck struct {
	Type      string   `json:"type"`
	MaxErrors *float64 `json:"maxErrors"`
	Path      string   `json:"path"`
	Text      string   `json:"text"`
	Glob      string   `json:"glob"`
	MinCount  *float64 `json:"minCount"`
	Label     string   `json:"label"`
	TimeoutMs *float64 `json:"timeoutMs"`
	Question  string   `json:"question"`
}

func floorInt(f *float64, def int) int {
	if f == nil || math.IsNaN(*f) {
		return def
	}
	n := int(math.Floor(*f))
	if n < 0 {
		return 0
	}
	return n
}

// ParseCheck decodes one criterion, dispatching solely on its "type" field
// and applying defaults.
func ParseCheck(data []byte) (Check, error) {
	var raw rawCheck
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode check: %w", err)
	}

	switch Kind(raw.Type) {
	case KindDiagnostics:
		return DiagnosticsCheck{MaxErrors: floorInt(raw.MaxErrors, 0)}, nil
	case KindFileExists:
		return FileExistsCheck{Path: raw.Path}, nil
	case KindFileContains:
		return FileContainsCheck{Path: raw.Path, Text: raw.Text}, nil
	case KindGlobExists:
		glob := raw.Glob
		if glob == "" {
			glob = DefaultGlob
		}
		return GlobExistsCheck{Glob: glob, MinCount: floorInt(raw.MinCount, 1)}, nil
	case KindTaskRun, kindTaskRunAlias:
		var ms int64
		if raw.TimeoutMs != nil && !math.IsNaN(*raw.TimeoutMs) {
			ms = int64(math.Floor(*raw.TimeoutMs))
		}
		return TaskRunCheck{Label: raw.Label, TimeoutMs: taskrun.NormalizeTimeoutMs(ms)}, nil
	case KindUserConfirm:
		return UserConfirmCheck{Question: raw.Question}, nil
	case "":
		return nil, fmt.Errorf("check has no type")
	default:
		return nil, fmt.Errorf("unknown check type %q", raw.Type)
	}
}

// Checks is a list of criteria with lenient decoding: an entry that cannot
// be decoded becomes an UnsupportedCheck instead of failing the list.
type Checks []Check

func (cs *Checks) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*cs = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("criteriaChecks: %w", err)
	}
	out := make(Checks, 0, len(items))
	for _, item := range items {
		c, err := ParseCheck(item)
		if err != nil {
			var probe struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(item, &probe)
			c = UnsupportedCheck{Type: probe.Type, Reason: err.Error()}
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}
