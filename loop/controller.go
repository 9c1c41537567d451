// Package loop drives an instruction to verified completion: it decomposes
// the instruction once, then runs tool-calling iterations until the
// verifier passes and the model ends with the completion promise, or the
// iteration budget runs out.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/agentloop"
	"github.com/martinemde/ralphloop/decompose"
	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/taskrun"
	"github.com/martinemde/ralphloop/verify"
	"github.com/martinemde/ralphloop/workspace"
)

// State is a controller state.
type State string

const (
	StateInit               State = "INIT"
	StateDecomposing        State = "DECOMPOSING"
	StateExecuting          State = "EXECUTING"
	StateNeedsClarification State = "NEEDS_CLARIFICATION"
	StateDone               State = "DONE"
	StateExhausted          State = "EXHAUSTED"
	StateCancelled          State = "CANCELLED"
)

// Outcome is the terminal state of a run.
type Outcome = State

// OutcomeFailed is recorded when a run aborts with an error (for example
// an unparseable decomposition). Run returns the error in that case.
const OutcomeFailed Outcome = "FAILED"

// Decomposer turns an instruction into tasks.
type Decomposer interface {
	Decompose(ctx context.Context, instruction string) (*decompose.Result, error)
}

// RunResult is what a finished run reports.
type RunResult struct {
	RunID          string
	Outcome        Outcome
	Iterations     int
	Tasks          []plan.Task
	Clarifications []plan.Clarification
	LastReport     *verify.Report
	LastLine       string
	// LastFailure is the narrative that would have been sent to the next
	// iteration.
	LastFailure string
}

// Deps are the controller's collaborators. Client and Model are required;
// Decomposer defaults to a decompose.Decomposer on the same client.
type Deps struct {
	Client      *llm.Client
	Model       string
	Decomposer  Decomposer
	FS          workspace.FileSystem
	Search      workspace.FileSearch
	Diagnostics workspace.Diagnostics
	Runner      taskrun.Runner
	Prompt      workspace.HumanPrompt
	Recorder    Recorder
	Emitter     *agentloop.EventEmitter
	Logger      *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithGuard replaces the process-wide run guard.
func WithGuard(g *Guard) Option {
	return func(c *Controller) { c.guard = g }
}

// WithScratchPath moves the scratch record.
func WithScratchPath(path string) Option {
	return func(c *Controller) { c.scratch = NewScratch(c.deps.FS, path) }
}

// WithMaxToolRounds bounds the tool-calling rounds per iteration.
func WithMaxToolRounds(n int) Option {
	return func(c *Controller) { c.maxToolRounds = n }
}

// WithCacheSize bounds the per-iteration task run cache.
func WithCacheSize(n int) Option {
	return func(c *Controller) { c.cacheSize = n }
}

// Controller runs loops. At most one run is active per Guard.
type Controller struct {
	deps          Deps
	guard         *Guard
	scratch       *Scratch
	verifier      *verify.Verifier
	decomposer    Decomposer
	recorder      Recorder
	emitter       *agentloop.EventEmitter
	logger        *zap.Logger
	maxToolRounds int
	cacheSize     int
}

// NewController creates a Controller.
func NewController(d Deps, opts ...Option) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		deps:          d,
		guard:         processGuard,
		scratch:       NewScratch(d.FS, DefaultScratchPath),
		decomposer:    d.Decomposer,
		recorder:      d.Recorder,
		emitter:       d.Emitter,
		logger:        logger,
		maxToolRounds: agentloop.DefaultMaxRounds,
	}
	if c.decomposer == nil {
		c.decomposer = decompose.New(d.Client, d.Model, decompose.WithLogger(logger))
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	c.verifier = verify.New(verify.Deps{
		FS:          d.FS,
		Search:      d.Search,
		Diagnostics: d.Diagnostics,
		Runner:      d.Runner,
		Prompt:      d.Prompt,
		Logger:      logger,
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Active returns the run currently holding the controller's guard.
func (c *Controller) Active() (ActiveRun, bool) {
	return c.guard.Active()
}

// Cancel asks the active run to stop at its next iteration boundary and
// deletes the scratch record, whether or not a run is active. In-flight
// model calls are allowed to finish. It reports whether a run was
// signalled.
func (c *Controller) Cancel() bool {
	signalled := c.guard.Cancel()
	if err := c.scratch.Delete(); err != nil {
		c.logger.Warn("delete scratch record", zap.String("path", c.scratch.Path()), zap.Error(err))
	}
	c.logger.Info("cancel requested", zap.Bool("active", signalled))
	return signalled
}

// Run validates cfg and drives the loop to a terminal state. Cancelling
// ctx aborts in-flight model calls; Cancel stops the run gracefully at the
// next iteration boundary. Validation errors, ErrAlreadyRunning, and
// decomposition or artifact failures are returned as errors; every other
// terminal state is reported in the RunResult.
func (c *Controller) Run(ctx context.Context, cfg Config) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signal, cancel := context.WithCancel(ctx)
	run := &ActiveRun{ID: uuid.NewString(), StartedAt: time.Now(), Config: cfg, cancel: cancel}
	if err := c.guard.Acquire(run); err != nil {
		cancel()
		return nil, err
	}

	logger := c.logger.With(zap.String("run_id", run.ID))
	result := &RunResult{RunID: run.ID, Outcome: OutcomeFailed}
	record := context.WithoutCancel(ctx)

	defer func() {
		cancel()
		if err := c.scratch.Delete(); err != nil {
			logger.Warn("delete scratch record", zap.Error(err))
		}
		c.guard.Release(run)
		if err := c.recorder.FinishRun(record, run.ID, result.Outcome, result.Iterations, time.Now()); err != nil {
			logger.Warn("record run end", zap.Error(err))
		}
		c.emitter.Emit(agentloop.EventRunEnd, map[string]interface{}{
			"outcome":    string(result.Outcome),
			"iterations": result.Iterations,
		})
		logger.Info("loop finished", zap.String("outcome", string(result.Outcome)), zap.Int("iterations", result.Iterations))
	}()

	c.emitter.SetRunID(run.ID)
	c.emitter.Emit(agentloop.EventRunStart, map[string]interface{}{
		"max_iterations":     cfg.MaxIterations,
		"completion_promise": cfg.CompletionPromise,
	})
	logger.Info("loop started", zap.Int("max_iterations", cfg.MaxIterations), zap.String("completion_promise", cfg.CompletionPromise))
	if err := c.recorder.StartRun(record, RunRecord{
		ID:                run.ID,
		StartedAt:         run.StartedAt,
		Prompt:            cfg.Prompt,
		CompletionPromise: cfg.CompletionPromise,
		MaxIterations:     cfg.MaxIterations,
	}); err != nil {
		logger.Warn("record run start", zap.Error(err))
	}
	c.writeScratch(logger, run, 0)

	logger.Debug("state", zap.String("state", string(StateDecomposing)))
	dec, err := c.decomposer.Decompose(ctx, cfg.Prompt)
	if err != nil {
		c.emitter.Emit(agentloop.EventError, map[string]interface{}{"error": err.Error(), "state": string(StateDecomposing)})
		return nil, fmt.Errorf("decompose instruction: %w", err)
	}
	tasks := plan.SortTasks(dec.Tasks)
	result.Tasks = tasks
	result.Clarifications = dec.Clarifications
	c.emitter.Emit(agentloop.EventDecomposed, map[string]interface{}{
		"tasks":          len(tasks),
		"clarifications": len(dec.Clarifications),
	})

	if dec.NeedsClarification() {
		if err := writeArtifact(c.deps.FS, ClarificationsFile, RenderClarifications(cfg.Prompt, dec.Clarifications)); err != nil {
			return nil, err
		}
		logger.Warn("instruction needs clarification", zap.Int("questions", len(dec.Clarifications)), zap.String("artifact", ClarificationsFile))
		result.Outcome = StateNeedsClarification
		return result, nil
	}
	if err := writeArtifact(c.deps.FS, PlanFile, RenderPlan(cfg, tasks)); err != nil {
		return nil, err
	}

	rt := verify.NewRuntime(taskrun.NewCache(c.cacheSize, logger), signal)
	registry := agentloop.NewToolRegistry()
	agentloop.RegisterAll(registry,
		agentloop.WorkspaceTools{FS: c.deps.FS, Search: c.deps.Search, Diagnostics: c.deps.Diagnostics},
		agentloop.LoopTools{Runner: c.deps.Runner, Verifier: c.verifier, Tasks: tasks, Runtime: rt})
	session := agentloop.NewSession(c.deps.Client, c.deps.Model, registry,
		agentloop.WithMaxRounds(c.maxToolRounds),
		agentloop.WithEmitter(c.emitter),
		agentloop.WithLogger(logger))

	lastFailure := ""
	for i := 1; i <= cfg.MaxIterations; i++ {
		if signal.Err() != nil {
			logger.Info("cancellation observed", zap.Int("before_iteration", i))
			result.Outcome = StateCancelled
			return result, nil
		}

		started := time.Now()
		result.Iterations = i
		rt.Reset(i)
		c.writeScratch(logger, run, i)
		c.emitter.Emit(agentloop.EventIterationStart, map[string]interface{}{
			"iteration":      i,
			"max_iterations": cfg.MaxIterations,
		})

		prompt := buildPrompt(cfg, tasks, c.diagnosticsSummary(signal, registry), lastFailure)
		seed := []llm.Message{
			llm.UserMessage(iterationMarker(i)),
			llm.UserMessage(prompt),
		}

		it := IterationRecord{RunID: run.ID, Iteration: i, StartedAt: started}
		verdict, narrative, report := c.iterate(ctx, signal, logger, session, rt, cfg, tasks, seed, result)
		lastFailure = narrative
		result.LastFailure = narrative

		it.Verdict = verdict
		it.Duration = time.Since(started)
		it.LastLine = result.LastLine
		it.Narrative = narrative
		if report != nil {
			it.AllPassed = report.AllPassed
			it.Errors = report.Errors
			it.Failures = len(report.Failures)
		}
		if err := c.recorder.RecordIteration(record, it); err != nil {
			logger.Warn("record iteration", zap.Error(err))
		}
		c.emitter.Emit(agentloop.EventDecision, map[string]interface{}{
			"iteration": i,
			"verdict":   string(verdict),
			"narrative": narrative,
		})

		if verdict == VerdictDone {
			result.Outcome = StateDone
			return result, nil
		}
	}

	logger.Warn("iteration budget exhausted; task not completed", zap.Int("max_iterations", cfg.MaxIterations))
	result.Outcome = StateExhausted
	return result, nil
}

// iterate runs the request, compat-edit, verify and decide steps of one
// iteration and returns the verdict with the narrative for the next one.
// report is nil when verification was skipped.
func (c *Controller) iterate(
	ctx, signal context.Context,
	logger *zap.Logger,
	session *agentloop.Session,
	rt *verify.Runtime,
	cfg Config,
	tasks []plan.Task,
	seed []llm.Message,
	result *RunResult,
) (Verdict, string, *verify.Report) {
	result.LastLine = ""

	text, err := session.Run(ctx, seed)
	if err != nil {
		logger.Warn("model request failed", zap.Int("iteration", rt.Iteration), zap.Error(err))
		return VerdictTransportError, transportNarrative(err), nil
	}

	edits, err := ExtractEdits(text)
	if err == nil && len(edits) > 0 {
		var written []string
		written, err = ApplyEdits(c.deps.FS, edits)
		c.emitter.Emit(agentloop.EventCompatEdit, map[string]interface{}{"written": written})
		logger.Info("applied edits block", zap.Strings("paths", written))
	}
	if err != nil {
		var ce *CompatEditError
		if !errors.As(err, &ce) {
			err = &CompatEditError{Err: err}
		}
		logger.Warn("edits block failed", zap.Int("iteration", rt.Iteration), zap.Error(err))
		return VerdictCompatEdit, compatNarrative(err), nil
	}

	lastLine := LastNonEmptyLine(text)
	result.LastLine = lastLine

	report := c.verifier.VerifyTasks(signal, tasks, rt)
	rt.Report = &report
	result.LastReport = &report
	c.emitter.Emit(agentloop.EventVerification, map[string]interface{}{
		"iteration":  rt.Iteration,
		"all_passed": report.AllPassed,
		"errors":     report.Errors,
		"failures":   len(report.Failures),
		"last_line":  lastLine,
	})

	verdict, narrative := decide(report, lastLine, cfg.CompletionPromise)
	logger.Info("iteration decided",
		zap.Int("iteration", rt.Iteration),
		zap.String("verdict", string(verdict)),
		zap.Bool("all_passed", report.AllPassed),
		zap.Bool("promise_matched", lastLine == cfg.CompletionPromise))
	return verdict, narrative, &report
}

// diagnosticsSummary snapshots diagnostics through the get_diagnostics
// tool so the prompt shows exactly what the model would see.
func (c *Controller) diagnosticsSummary(ctx context.Context, registry *agentloop.ToolRegistry) string {
	tool := registry.Get("get_diagnostics")
	if tool == nil {
		return "diagnostics: unavailable"
	}
	res, err := tool.Invoke(ctx, json.RawMessage(`{}`))
	if err != nil {
		return fmt.Sprintf("diagnostics: unavailable (%v)", err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf("diagnostics: unavailable (%v)", err)
	}
	return string(data)
}

func (c *Controller) writeScratch(logger *zap.Logger, run *ActiveRun, iteration int) {
	err := c.scratch.Write(ScratchRecord{
		RunID:             run.ID,
		PID:               os.Getpid(),
		StartedAt:         run.StartedAt,
		Iteration:         iteration,
		MaxIterations:     run.Config.MaxIterations,
		CompletionPromise: run.Config.CompletionPromise,
		Prompt:            run.Config.Prompt,
	})
	if err != nil {
		logger.Warn("write scratch record", zap.Int("iteration", iteration), zap.Error(err))
	}
}
