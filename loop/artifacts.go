package loop

import (
	"fmt"
	"strings"

	"github.com/martinemde/ralphloop/plan"
	"github.com/martinemde/ralphloop/workspace"
)

const (
	PlanFile           = "ralph-loop.plan.md"
	ClarificationsFile = "ralph-loop.clarifications.md"
)

// RenderPlan renders the ordered task list written at the start of a run.
func RenderPlan(cfg Config, tasks []plan.Task) string {
	var sb strings.Builder
	sb.WriteString("# Ralph Loop - Plan\n\n")
	sb.WriteString("## Instruction\n```\n")
	sb.WriteString(cfg.Prompt)
	sb.WriteString("\n```\n\n")
	sb.WriteString("## Completion promise (exact match)\n```\n")
	sb.WriteString(cfg.CompletionPromise)
	sb.WriteString("\n```\n\n")
	fmt.Fprintf(&sb, "## Tasks (in order, at most %d iterations)\n", cfg.MaxIterations)
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- [%s] (order=%d)\n  - instruction: %s\n  - criteria: %s\n", t.ID, t.Order, t.Instruction, t.CompletionCriteria)
		for _, c := range t.Checks {
			fmt.Fprintf(&sb, "  - check: %s\n", c.Describe())
		}
	}
	return sb.String()
}

// RenderClarifications renders the questions the model needs answered.
func RenderClarifications(prompt string, clarifications []plan.Clarification) string {
	var sb strings.Builder
	sb.WriteString("# Ralph Loop - More information needed\n\n")
	sb.WriteString("Original instruction:\n\n```\n")
	sb.WriteString(prompt)
	sb.WriteString("\n```\n\n## Clarifications\n")
	if len(clarifications) == 0 {
		sb.WriteString("The instruction could not be split into any verifiable task. Describe the expected result and how to check it.\n")
	}
	for i, c := range clarifications {
		fmt.Fprintf(&sb, "%d. %s\n   - why: %s\n", i+1, c.Question, c.Why)
	}
	sb.WriteString("\nAnswer these in the instruction and run the loop again.\n")
	return sb.String()
}

func writeArtifact(fs workspace.FileSystem, path, content string) error {
	if err := fs.Write(path, []byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
