package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/martinemde/ralphloop/agentloop"
	"github.com/martinemde/ralphloop/loop"
	"github.com/martinemde/ralphloop/taskrun"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

func printLine(s string) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, s)
}

// formatEvent renders one loop event, or "" for events that are not shown.
func formatEvent(ev agentloop.Event) string {
	d := ev.Data
	switch ev.Kind {
	case agentloop.EventRunStart:
		return bold(fmt.Sprintf("run %s: up to %v iterations, promise %q", short(ev.RunID), d["max_iterations"], d["completion_promise"]))
	case agentloop.EventDecomposed:
		return blue(fmt.Sprintf("plan: %v task(s), %v clarification(s)", d["tasks"], d["clarifications"]))
	case agentloop.EventIterationStart:
		return bold(cyan(fmt.Sprintf("── iteration %v/%v", d["iteration"], d["max_iterations"])))
	case agentloop.EventToolCallStart:
		return gray(fmt.Sprintf("  → %v", d["tool"]))
	case agentloop.EventToolCallEnd:
		if ok, _ := d["ok"].(bool); !ok {
			return yellow(fmt.Sprintf("  ✗ %v: %v", d["tool"], truncate(fmt.Sprint(d["error"]), 200)))
		}
		return ""
	case agentloop.EventCompatEdit:
		return blue(fmt.Sprintf("  edits block wrote %v", d["written"]))
	case agentloop.EventVerification:
		if passed, _ := d["all_passed"].(bool); passed {
			return green("  verification passed")
		}
		return yellow(fmt.Sprintf("  verification: %v failure(s), %v diagnostic error(s)", d["failures"], d["errors"]))
	case agentloop.EventDecision:
		verdict := fmt.Sprint(d["verdict"])
		if verdict == string(loop.VerdictDone) {
			return green("  ✓ " + verdict)
		}
		return yellow("  " + verdict)
	case agentloop.EventLoopDetection, agentloop.EventRoundLimit, agentloop.EventWarning:
		return yellow(fmt.Sprintf("  ! %s %v", ev.Kind, d))
	case agentloop.EventError:
		return red(fmt.Sprintf("  error: %v", d["error"]))
	case agentloop.EventRunEnd:
		outcome := fmt.Sprint(d["outcome"])
		line := fmt.Sprintf("%s after %v iteration(s)", outcome, d["iterations"])
		if outcome == string(loop.StateDone) {
			return bold(green(line))
		}
		return bold(yellow(line))
	}
	return ""
}

func renderEvent(ev agentloop.Event) {
	if s := formatEvent(ev); s != "" {
		printLine(s)
	}
}

func renderTaskNotification(n taskrun.Notification) {
	switch n.Kind {
	case taskrun.NotifyStart:
		printLine(gray(fmt.Sprintf("  task %s started", n.Label)))
	case taskrun.NotifyEnd:
		printLine(gray(fmt.Sprintf("  task %s finished (exit %d)", n.Label, n.ExitCode)))
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
