package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/taskrun"
	"github.com/martinemde/ralphloop/verify"
)

// maxTaskOutputChars bounds the task output echoed back by run_task.
const maxTaskOutputChars = 4000

// TaskVerifier verifies a task list against the workspace.
type TaskVerifier interface {
	VerifyTasks(ctx context.Context, tasks []plan.Task, rt *verify.Runtime) verify.Report
}

// LoopTools are the collaborators behind list_tasks, run_task and
// loop_verify. Runtime is shared with the controller, which resets it
// every iteration; task runs and verification observe Runtime.Signal.
type LoopTools struct {
	Runner   taskrun.Runner
	Verifier TaskVerifier
	Tasks    []plan.Task
	Runtime  *verify.Runtime
}

// RegisterLoopTools registers list_tasks, run_task and loop_verify.
func RegisterLoopTools(reg *ToolRegistry, l LoopTools) {
	registerListTasks(reg, l.Runner)
	registerRunTask(reg, l.Runner, l.Runtime)
	registerLoopVerify(reg, l.Verifier, l.Tasks, l.Runtime)
}

// RegisterAll registers the loop tools followed by the workspace tools.
func RegisterAll(reg *ToolRegistry, w WorkspaceTools, l LoopTools) {
	RegisterLoopTools(reg, l)
	RegisterWorkspaceTools(reg, w)
}

type taskSummary struct {
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

func registerListTasks(reg *ToolRegistry, runner taskrun.Runner) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "list_tasks",
			Description: "List the named tasks (build, test, lint...) that can be run for verification. Input: {}",
			Parameters:  objectSchema(map[string]interface{}{}),
		},
		Invoke: func(ctx context.Context, _ json.RawMessage) (ToolResult, error) {
			tasks, err := runner.List(ctx)
			if err != nil {
				return ToolResult{}, err
			}
			list := make([]taskSummary, 0, len(tasks))
			for _, t := range tasks {
				list = append(list, taskSummary{Label: t.Label, Detail: t.Detail})
			}
			return Success(map[string]interface{}{"tasks": list}), nil
		},
	})
}

func registerRunTask(reg *ToolRegistry, runner taskrun.Runner, rt *verify.Runtime) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "run_task",
			Description: "Run a named task and return its exit code. Results are cached for the current iteration. Input: {label, timeoutMs?, force?}",
			Parameters: objectSchema(map[string]interface{}{
				"label":     prop("string", "Task label from list_tasks."),
				"timeoutMs": prop("number", "Hard timeout in milliseconds. Default: 300000, minimum 1000."),
				"force":     prop("boolean", "Ignore the cached result and run again."),
			}, "label"),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			label, _ := GetStringArg(args, "label")
			label = strings.TrimSpace(label)
			var ms int64
			if n, ok := GetIntArg(args, "timeoutMs"); ok {
				ms = max(int64(n), taskrun.MinTimeoutMs)
			}
			ms = taskrun.NormalizeTimeoutMs(ms)
			force, _ := GetBoolArg(args, "force")

			entry, cached := rt.TaskRuns.Run(rt.Signal, runner, label, time.Duration(ms)*time.Millisecond, force)
			if !entry.OK {
				return ToolResult{OK: false, Error: entry.Error}, nil
			}
			return Success(map[string]interface{}{
				"label":             label,
				"exitCode":          *entry.ExitCode,
				"cached":            cached,
				"cachedAtIteration": rt.Iteration,
				"output":            TruncateOutput(entry.Output, maxTaskOutputChars, TruncateTail),
			}), nil
		},
	})
}

func registerLoopVerify(reg *ToolRegistry, verifier TaskVerifier, tasks []plan.Task, rt *verify.Runtime) {
	reg.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "loop_verify",
			Description: "Run the loop's own verifier and report whether every criteriaCheck passes. Cached for the current iteration. Input: {force?}",
			Parameters: objectSchema(map[string]interface{}{
				"force": prop("boolean", "Ignore the cached report and verify again."),
			}),
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (ToolResult, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return ToolResult{}, err
			}
			force, _ := GetBoolArg(args, "force")
			if force || rt.Report == nil {
				report := verifier.VerifyTasks(rt.Signal, tasks, rt)
				rt.Report = &report
			}
			return Success(map[string]interface{}{
				"allPassed":         rt.Report.AllPassed,
				"errors":            rt.Report.Errors,
				"failures":          rt.Report.Failures,
				"cachedAtIteration": rt.Iteration,
			}), nil
		},
	})
}
