package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	default:
		return "hint"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Position is a 1-based line/column pair.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// String renders the range as "line:col-line:col".
func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Column, r.End.Line, r.End.Column)
}

// Diagnostic is one compiler or linter finding.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Range    Range    `json:"range"`
	Source   string   `json:"source,omitempty"`
	Code     string   `json:"code,omitempty"`
}

// FileDiagnostics groups findings for one workspace path. An empty Path
// holds findings that could not be attributed to a file.
type FileDiagnostics struct {
	Path  string       `json:"path"`
	Items []Diagnostic `json:"items"`
}

// Diagnostics is the workspace-wide diagnostics source.
type Diagnostics interface {
	GetAll(ctx context.Context) ([]FileDiagnostics, error)
}

// ErrorCount counts error-severity items across all files.
func ErrorCount(all []FileDiagnostics) int {
	n := 0
	for _, f := range all {
		for _, d := range f.Items {
			if d.Severity == SeverityError {
				n++
			}
		}
	}
	return n
}

// StaticDiagnostics is an in-memory Diagnostics whose contents are set by
// the caller.
type StaticDiagnostics struct {
	mu    sync.Mutex
	files []FileDiagnostics
	calls int
}

// NewStaticDiagnostics returns a store holding files.
func NewStaticDiagnostics(files ...FileDiagnostics) *StaticDiagnostics {
	return &StaticDiagnostics{files: files}
}

// Set replaces the stored diagnostics.
func (s *StaticDiagnostics) Set(files ...FileDiagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
}

// Calls reports how many times GetAll has been invoked.
func (s *StaticDiagnostics) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticDiagnostics) GetAll(ctx context.Context) ([]FileDiagnostics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([]FileDiagnostics, len(s.files))
	copy(out, s.files)
	return out, nil
}

// diagLine matches "path:line[:col]: [severity:] message", the format used
// by go vet, gcc, eslint --format unix, tsc --pretty false and friends.
var diagLine = regexp.MustCompile(`^(?:\./)?([^\s:][^:]*):(\d+)(?::(\d+))?:\s*(?:(error|warning|note|info)\s*:?\s*)?(.+)$`)

// CommandDiagnostics collects diagnostics by running check commands in the
// workspace and parsing their output.
type CommandDiagnostics struct {
	root     string
	commands []string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCommandDiagnostics creates a collector that runs commands in root.
func NewCommandDiagnostics(root string, commands []string, timeout time.Duration, logger *zap.Logger) *CommandDiagnostics {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandDiagnostics{root: root, commands: commands, timeout: timeout, logger: logger}
}

func (c *CommandDiagnostics) GetAll(ctx context.Context) ([]FileDiagnostics, error) {
	byPath := map[string]*FileDiagnostics{}
	var order []string
	add := func(path string, d Diagnostic) {
		f, ok := byPath[path]
		if !ok {
			f = &FileDiagnostics{Path: path}
			byPath[path] = f
			order = append(order, path)
		}
		f.Items = append(f.Items, d)
	}

	for _, command := range c.commands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		out, exitCode, err := c.run(ctx, command)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		source := strings.Fields(command)[0]

		parsed := 0
		scanner := bufio.NewScanner(strings.NewReader(out))
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			path, d, ok := c.parseLine(scanner.Text(), source)
			if !ok {
				continue
			}
			add(path, d)
			parsed++
		}

		if err != nil || (exitCode != 0 && parsed == 0) {
			msg := fmt.Sprintf("%s exited with code %d", command, exitCode)
			if err != nil {
				msg = fmt.Sprintf("%s: %v", command, err)
			}
			add("", Diagnostic{Severity: SeverityError, Message: msg, Source: source})
		}
		c.logger.Debug("diagnostics command finished",
			zap.String("command", command),
			zap.Int("exit_code", exitCode),
			zap.Int("findings", parsed))
	}

	files := make([]FileDiagnostics, 0, len(order))
	for _, p := range order {
		files = append(files, *byPath[p])
	}
	return files, nil
}

func (c *CommandDiagnostics) parseLine(line, source string) (string, Diagnostic, bool) {
	m := diagLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", Diagnostic{}, false
	}
	path := filepath.ToSlash(m[1])
	if filepath.IsAbs(m[1]) {
		if rel, err := filepath.Rel(c.root, m[1]); err == nil {
			path = filepath.ToSlash(rel)
		}
	}
	ln, _ := strconv.Atoi(m[2])
	col := 1
	if m[3] != "" {
		col, _ = strconv.Atoi(m[3])
	}
	sev := SeverityError
	switch m[4] {
	case "warning":
		sev = SeverityWarning
	case "note", "info":
		sev = SeverityInformation
	}
	pos := Position{Line: ln, Column: col}
	return path, Diagnostic{
		Severity: sev,
		Message:  strings.TrimSpace(m[5]),
		Range:    Range{Start: pos, End: pos},
		Source:   source,
	}, true
}

func (c *CommandDiagnostics) run(ctx context.Context, command string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	shell, flag := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd.exe", "/c"
	}
	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = c.root
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), nil
	}
	if err != nil {
		return string(out), -1, err
	}
	return string(out), 0, nil
}
