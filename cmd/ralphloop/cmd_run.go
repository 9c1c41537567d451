package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/martinemde/ralphloop/loop"
)

// exitError carries a process exit code for a terminal loop outcome.
type exitError struct {
	code    int
	outcome loop.Outcome
}

func (e *exitError) Error() string {
	return fmt.Sprintf("loop ended %s", e.outcome)
}

// exitCode maps a terminal outcome to the process exit status.
func exitCode(o loop.Outcome) int {
	switch o {
	case loop.StateDone:
		return 0
	case loop.StateNeedsClarification:
		return 2
	case loop.StateExhausted:
		return 3
	case loop.StateCancelled:
		return 130
	default:
		return 1
	}
}

var startCmd = &cobra.Command{
	Use:   `start ["<verb> \"<prompt>\" --completion-promise \"<phrase>\" --max-iterations <N>"]`,
	Short: "Start a loop from a raw command line",
	Long: `Parses a raw loop command, the way it would be typed into a chat, and runs it.
The first word is the command verb and is ignored.

Example:
  ralphloop start '/ralph-loop "Add a CHANGELOG" --completion-promise "SHIPPED" --max-iterations 5'

With no argument on a terminal, the command is asked for interactively.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw string
		if len(args) == 1 {
			raw = args[0]
		} else {
			var err error
			if raw, err = askCommand(); err != nil {
				return err
			}
		}
		lc, err := loop.ParseCommand(raw)
		if err != nil {
			return err
		}
		return runLoop(cmd, lc)
	},
}

var (
	runPromise    string
	runIterations int
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a loop with flags",
	Example: `  ralphloop run "Fix the failing tests" --completion-promise DONE --max-iterations 10
  echo "Write docs" | ralphloop run - --completion-promise DONE --max-iterations 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := args[0]
		if prompt == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read prompt from stdin: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		lc := loop.Config{Prompt: prompt, CompletionPromise: runPromise, MaxIterations: runIterations}
		if err := lc.Validate(); err != nil {
			return err
		}
		return runLoop(cmd, lc)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPromise, "completion-promise", "p", "", "Exact last line that ends the loop (required)")
	runCmd.Flags().IntVarP(&runIterations, "max-iterations", "n", 0, "Iteration budget (required, > 0)")
}

func runLoop(cmd *cobra.Command, lc loop.Config) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.execute(cmd.Context(), lc)
	if err != nil {
		if errors.Is(err, loop.ErrAlreadyRunning) {
			return fmt.Errorf("%w (see %s)", err, cfg.Loop.ScratchPath)
		}
		return err
	}

	switch res.Outcome {
	case loop.StateNeedsClarification:
		printLine(yellow(fmt.Sprintf("More information is needed; see %s", loop.ClarificationsFile)))
		for i, c := range res.Clarifications {
			printLine(fmt.Sprintf("  %d. %s", i+1, c.Question))
		}
	case loop.StateExhausted:
		printLine(yellow("Iteration budget exhausted; the task was not completed."))
		if res.LastFailure != "" {
			printLine(gray(res.LastFailure))
		}
	case loop.StateCancelled:
		printLine(yellow("Loop cancelled."))
	}

	if code := exitCode(res.Outcome); code != 0 {
		return &exitError{code: code, outcome: res.Outcome}
	}
	return nil
}

func askCommand() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return "", errors.New("no command given and stdin is not a terminal")
	}
	prompt := promptui.Prompt{
		Label: "Loop command",
		Validate: func(s string) error {
			_, err := loop.ParseCommand(s)
			return err
		},
	}
	return prompt.Run()
}
