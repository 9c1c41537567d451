package loop

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/verify"
)

const noPreviousFailure = "(none)"

var lineSplit = regexp.MustCompile(`\r?\n`)

// LastNonEmptyLine returns the last line of text that is not blank, with
// surrounding whitespace removed, or "" if there is none.
func LastNonEmptyLine(text string) string {
	lines := lineSplit.Split(text, -1)
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func iterationMarker(i int) string {
	return fmt.Sprintf("[system] This is iteration %d.", i)
}

// buildPrompt renders the instruction sent at the start of every iteration.
func buildPrompt(cfg Config, tasks []plan.Task, diagnostics, lastFailure string) string {
	if lastFailure == "" {
		lastFailure = noPreviousFailure
	}

	var sb strings.Builder
	sb.WriteString("You will modify the current workspace to complete the tasks below.\n")
	sb.WriteString("Every iteration repeats the same instruction together with the previous failure, if any.\n")
	sb.WriteString("Follow the task breakdown and its acceptance criteria in order, and use the tools to read, write, search and diagnose.\n")
	sb.WriteString("IMPORTANT: only output the completion promise once the loop's verifier passes (loop_verify returns allPassed=true).\n")
	sb.WriteString("Printing the completion promise early counts as a failure and starts another iteration.\n\n")
	sb.WriteString("To change a file call write_file (full overwrite).\n")
	sb.WriteString("To inspect the workspace call read_file, search or list_files.\n")
	sb.WriteString("To verify, prefer list_tasks and run_task (for example build or test). get_diagnostics reports errors and warnings.\n")
	fmt.Fprintf(&sb, "Last line rule: only when you are sure every acceptance criterion holds, end with exactly this line: %s\n", cfg.CompletionPromise)
	sb.WriteString("Otherwise end with any other line.\n\n")

	sb.WriteString("--- Instruction ---\n")
	sb.WriteString(cfg.Prompt)
	sb.WriteString("\n\n--- Tasks (complete in order) ---\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "(%d) %s\n- instruction: %s\n- criteria: %s\n", t.Order, t.ID, t.Instruction, t.CompletionCriteria)
	}
	sb.WriteString("\n--- Current diagnostics ---\n")
	sb.WriteString(diagnostics)
	sb.WriteString("\n\n--- Previous failure ---\n")
	sb.WriteString(lastFailure)
	return sb.String()
}

// Verdict is the decision taken at the end of an iteration.
type Verdict string

const (
	VerdictDone           Verdict = "done"
	VerdictMissingPromise Verdict = "missing_promise"
	VerdictPremature      Verdict = "premature"
	VerdictFailed         Verdict = "failed"
	VerdictTransportError Verdict = "transport_error"
	VerdictCompatEdit     Verdict = "compat_edit_error"
)

// decide applies the completion rule: DONE needs both a passing report and
// an exact promise match. Otherwise it returns the narrative for the next
// iteration.
func decide(report verify.Report, lastLine, promise string) (Verdict, string) {
	matched := lastLine == promise
	switch {
	case report.AllPassed && matched:
		return VerdictDone, ""
	case report.AllPassed:
		return VerdictMissingPromise, strings.Join([]string{
			"The loop's verifier passed, but your last line was not the completion promise.",
			fmt.Sprintf("Make sure the last line, with no blank lines after it, is exactly: %s", promise),
		}, "\n")
	case matched:
		return VerdictPremature, strings.Join([]string{
			"You output the completion promise but the loop's verifier did not pass. Completing early is not allowed.",
			"Failure details (fix each one):",
			renderReport(report),
		}, "\n")
	default:
		return VerdictFailed, strings.Join([]string{
			"Verification did not pass; continuing with the next iteration.",
			"completion-promise matched: false",
			"Verifier report:",
			renderReport(report),
		}, "\n")
	}
}

func transportNarrative(err error) string {
	return fmt.Sprintf("Model request failed: %v", err)
}

func compatNarrative(err error) string {
	return fmt.Sprintf("Writing files failed: %v", err)
}

func renderReport(r verify.Report) string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", r)
	}
	return string(data)
}
