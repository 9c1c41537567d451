// Package taskrun runs named workspace tasks (build, test, lint commands) as
// external processes and caches their outcomes for one loop iteration.
package taskrun

import (
	"context"
	"time"
)

const (
	// DefaultTimeoutMs applies when a caller asks for no specific timeout.
	DefaultTimeoutMs int64 = 300_000
	// MinTimeoutMs is the smallest timeout a caller may request.
	MinTimeoutMs int64 = 1_000
	// maxListedLabels caps the labels quoted back in a NotFoundError.
	maxListedLabels = 50
)

// NormalizeTimeoutMs applies the default and the floor.
func NormalizeTimeoutMs(ms int64) int64 {
	if ms <= 0 {
		return DefaultTimeoutMs
	}
	if ms < MinTimeoutMs {
		return MinTimeoutMs
	}
	return ms
}

// Task is a named command the loop may run.
type Task struct {
	Label   string            `json:"label" yaml:"label"`
	Command string            `json:"command" yaml:"command"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Detail  string            `json:"detail,omitempty" yaml:"detail,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Outcome is how a task run resolved.
type Outcome string

const (
	OutcomeExited      Outcome = "exited"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeLaunchError Outcome = "launch_error"
	OutcomeNotFound    Outcome = "not_found"
)

// Result is the resolution of one task run. ExitCode is meaningful only
// when Outcome is OutcomeExited; it is -1 if the process ended without one.
type Result struct {
	Label    string
	Outcome  Outcome
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

// OK reports whether the process ran to completion, whatever its exit code.
func (r Result) OK() bool {
	return r.Outcome == OutcomeExited
}

// Runner lists and runs named tasks.
type Runner interface {
	List(ctx context.Context) ([]Task, error)
	// Run blocks until the task resolves. It never returns without a Result.
	Run(ctx context.Context, label string, timeout time.Duration) Result
}
