package verify

import (
	"context"
	"fmt"

	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/taskrun"
)

// Failure is one failed criterion. TaskID is empty for workspace-wide
// failures; Check is nil when no single criterion applies.
type Failure struct {
	TaskID string     `json:"taskId,omitempty"`
	Check  plan.Check `json:"check,omitempty"`
	Reason string     `json:"reason"`
}

// Report is the outcome of verifying every task. AllPassed is true exactly
// when Failures is empty.
type Report struct {
	AllPassed bool      `json:"allPassed"`
	Errors    int       `json:"errors"`
	Failures  []Failure `json:"failures"`
}

// NewReport builds a Report, deriving AllPassed from failures.
func NewReport(errors int, failures []Failure) Report {
	if failures == nil {
		failures = []Failure{}
	}
	return Report{AllPassed: len(failures) == 0, Errors: errors, Failures: failures}
}

// CheckError wraps an error raised while evaluating a criterion.
type CheckError struct {
	Check plan.Check
	Err   error
}

func (e *CheckError) Error() string {
	if e.Check == nil {
		return fmt.Sprintf("verification failed: %v", e.Err)
	}
	return fmt.Sprintf("%s check failed: %v", e.Check.Kind(), e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// Runtime is the per-iteration state shared by the verifier and the loop's
// tools. The controller owns it and resets it at the start of every
// iteration.
type Runtime struct {
	Iteration int
	TaskRuns  *taskrun.Cache
	// Report is the last verification report produced this iteration.
	Report *Report
	// Signal is cancelled when the run is asked to stop. Task runs and
	// confirmation prompts started on behalf of the loop observe it.
	Signal context.Context
}

// NewRuntime creates a runtime at iteration 0.
func NewRuntime(cache *taskrun.Cache, signal context.Context) *Runtime {
	if signal == nil {
		signal = context.Background()
	}
	return &Runtime{TaskRuns: cache, Signal: signal}
}

// Reset starts a new iteration: cached task runs and the cached report are
// dropped.
func (rt *Runtime) Reset(iteration int) {
	rt.Iteration = iteration
	rt.Report = nil
	if rt.TaskRuns != nil {
		rt.TaskRuns.Reset()
	}
}

// Cancelled reports whether the run has been asked to stop.
func (rt *Runtime) Cancelled() bool {
	return rt != nil && rt.Signal != nil && rt.Signal.Err() != nil
}
