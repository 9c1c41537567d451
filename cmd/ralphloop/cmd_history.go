package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/ralphloop/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or the iterations of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(filepath.Join(workDir, cfg.Loop.HistoryPath))
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := cmd.Context()

		if len(args) == 1 {
			run, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			its, err := store.Iterations(ctx, run.ID)
			if err != nil {
				return err
			}
			printLine(formatRun(run))
			printLine(gray("  " + run.Prompt))
			for _, it := range its {
				printLine(fmt.Sprintf("  %2d  %-18s  %6s  failures=%d errors=%d  %s",
					it.Iteration, it.Verdict, it.Duration.Round(time.Second), it.Failures, it.Errors, truncate(it.LastLine, 60)))
			}
			return nil
		}

		runs, err := store.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			printLine("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			printLine(formatRun(r))
		}
		printLine(strings.Repeat("─", 50))
		printLine(fmt.Sprintf("Total: %d run(s)", len(runs)))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Runs to list")
}

func formatRun(r history.Run) string {
	outcome := r.Outcome
	if outcome == "" {
		outcome = "RUNNING?"
	}
	return fmt.Sprintf("%s  %s  %-20s  %d/%d  %s",
		r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), outcome, r.Iterations, r.MaxIterations,
		truncate(r.Prompt, 50))
}
