package loop

import (
	"context"
	"time"
)

// RunRecord describes a run when it starts.
type RunRecord struct {
	ID                string
	StartedAt         time.Time
	Prompt            string
	CompletionPromise string
	MaxIterations     int
}

// IterationRecord summarises one finished iteration.
type IterationRecord struct {
	RunID     string
	Iteration int
	StartedAt time.Time
	Duration  time.Duration
	Verdict   Verdict
	LastLine  string
	AllPassed bool
	Errors    int
	Failures  int
	Narrative string
}

// Recorder keeps a ledger of runs. Recording failures are logged and never
// stop a run.
type Recorder interface {
	StartRun(ctx context.Context, run RunRecord) error
	RecordIteration(ctx context.Context, it IterationRecord) error
	FinishRun(ctx context.Context, runID string, outcome Outcome, iterations int, finishedAt time.Time) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, RunRecord) error                        { return nil }
func (nopRecorder) RecordIteration(context.Context, IterationRecord) error           { return nil }
func (nopRecorder) FinishRun(context.Context, string, Outcome, int, time.Time) error { return nil }
