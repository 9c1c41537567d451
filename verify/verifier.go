// Package verify evaluates decomposed tasks' completion criteria against the
// workspace and produces a VerificationReport.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/taskrun"
	"github.com/martinemde/ralphloop/workspace"
)

// globSearchLimit bounds how many matches a globExists check collects.
const globSearchLimit = 500

// Deps are the collaborators a Verifier consults.
type Deps struct {
	FS          workspace.FileSystem
	Search      workspace.FileSearch
	Diagnostics workspace.Diagnostics
	Runner      taskrun.Runner
	Prompt      workspace.HumanPrompt
	Logger      *zap.Logger
}

// Verifier evaluates criteria. It holds no state between calls.
type Verifier struct {
	fs     workspace.FileSystem
	search workspace.FileSearch
	diags  workspace.Diagnostics
	runner taskrun.Runner
	prompt workspace.HumanPrompt
	logger *zap.Logger
}

// New creates a Verifier.
func New(d Deps) *Verifier {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		fs:     d.FS,
		search: d.Search,
		diags:  d.Diagnostics,
		runner: d.Runner,
		prompt: d.Prompt,
		logger: logger,
	}
}

// VerifyOne evaluates a single criterion. It returns nil when the criterion
// holds. ctx doubles as the cancellation signal consulted before prompting a
// person. rt may be nil, in which case task runs bypass the cache.
func (v *Verifier) VerifyOne(ctx context.Context, check plan.Check, rt *Runtime) *Failure {
	reason, err := v.evaluate(ctx, check, rt)
	if err != nil {
		reason = (&CheckError{Check: check, Err: err}).Error()
	}
	if reason == "" {
		v.logger.Debug("check passed", zap.String("check", check.Describe()))
		return nil
	}
	v.logger.Debug("check failed", zap.String("check", check.Describe()), zap.String("reason", reason))
	return &Failure{Check: check, Reason: reason}
}

// evaluate returns a non-empty reason for a failed criterion, or an error
// if the criterion could not be evaluated at all.
func (v *Verifier) evaluate(ctx context.Context, check plan.Check, rt *Runtime) (string, error) {
	switch c := check.(type) {
	case plan.DiagnosticsCheck:
		all, err := v.diags.GetAll(ctx)
		if err != nil {
			return "", err
		}
		if n := workspace.ErrorCount(all); n > c.MaxErrors {
			return fmt.Sprintf("%d diagnostic error(s), at most %d allowed", n, c.MaxErrors), nil
		}
		return "", nil

	case plan.FileExistsCheck:
		p, err := workspace.SanitizeRelativePath(c.Path)
		if err != nil {
			return err.Error(), nil
		}
		if _, err := v.fs.Stat(p); err != nil {
			if workspace.IsNotExist(err) {
				return fmt.Sprintf("file does not exist: %s", p), nil
			}
			return "", err
		}
		return "", nil

	case plan.FileContainsCheck:
		p, err := workspace.SanitizeRelativePath(c.Path)
		if err != nil {
			return err.Error(), nil
		}
		data, err := v.fs.Read(p)
		if err != nil {
			if workspace.IsNotExist(err) {
				return fmt.Sprintf("file does not exist: %s", p), nil
			}
			return "", err
		}
		if !strings.Contains(string(data), c.Text) {
			return fmt.Sprintf("file %s does not contain %q", p, c.Text), nil
		}
		return "", nil

	case plan.GlobExistsCheck:
		glob := c.Glob
		if glob == "" {
			glob = plan.DefaultGlob
		}
		limit := max(globSearchLimit, c.MinCount)
		matches, err := v.search.Find(ctx, glob, workspace.DefaultExclude, limit)
		if err != nil {
			return "", err
		}
		if len(matches) < c.MinCount {
			return fmt.Sprintf("%d file(s) match %s, need at least %d", len(matches), glob, c.MinCount), nil
		}
		return "", nil

	case plan.TaskRunCheck:
		if strings.TrimSpace(c.Label) == "" {
			return "taskRun check has no label", nil
		}
		timeout := time.Duration(taskrun.NormalizeTimeoutMs(c.TimeoutMs)) * time.Millisecond
		var entry taskrun.Entry
		if rt != nil && rt.TaskRuns != nil {
			entry, _ = rt.TaskRuns.Run(ctx, v.runner, c.Label, timeout, false)
		} else {
			entry = taskrun.EntryFromResult(v.runner.Run(ctx, c.Label, timeout), time.Now())
		}
		if !entry.OK {
			return fmt.Sprintf("task %q did not complete: %s", c.Label, entry.Error), nil
		}
		if !entry.Passed() {
			return fmt.Sprintf("task %q exited with code %d", c.Label, *entry.ExitCode), nil
		}
		return "", nil

	case plan.UserConfirmCheck:
		if ctx.Err() != nil || rt.Cancelled() {
			return "cancelled before confirmation", nil
		}
		ok, err := v.prompt.Ask(ctx, c.Question)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("user did not confirm: %s", c.Question), nil
		}
		return "", nil

	case plan.UnsupportedCheck:
		return c.Describe(), nil

	default:
		return fmt.Sprintf("unsupported check type %T", check), nil
	}
}

// VerifyTasks evaluates every criterion of every task without
// short-circuiting, then adds a workspace-wide diagnostics failure when any
// errors remain. Tasks with no criteria fail as unverifiable.
func (v *Verifier) VerifyTasks(ctx context.Context, tasks []plan.Task, rt *Runtime) Report {
	var failures []Failure
	for _, t := range tasks {
		if len(t.Checks) == 0 {
			failures = append(failures, Failure{
				TaskID: t.ID,
				Reason: "task has no criteriaChecks and cannot be verified; add machine-checkable criteria",
			})
			continue
		}
		for _, c := range t.Checks {
			if f := v.VerifyOne(ctx, c, rt); f != nil {
				f.TaskID = t.ID
				failures = append(failures, *f)
			}
		}
	}

	errCount := 0
	all, err := v.diags.GetAll(ctx)
	switch {
	case err != nil:
		failures = append(failures, Failure{Reason: (&CheckError{Err: fmt.Errorf("collect diagnostics: %w", err)}).Error()})
	default:
		errCount = workspace.ErrorCount(all)
		if errCount > 0 {
			failures = append(failures, Failure{Reason: fmt.Sprintf("workspace still has %d diagnostic error(s)", errCount)})
		}
	}

	report := NewReport(errCount, failures)
	v.logger.Info("verification finished",
		zap.Int("tasks", len(tasks)),
		zap.Int("failures", len(report.Failures)),
		zap.Int("errors", report.Errors),
		zap.Bool("all_passed", report.AllPassed))
	return report
}
