package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/loop"
	"github.com/martinemde/ralphloop/workspace"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the loop running in this workspace",
	Long: `Interrupts the process named in the scratch record, which then stops at
its next iteration boundary, and deletes the record. With no record there
is nothing to stop, but the command still succeeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := workspace.NewLocalFS(workDir)
		if err != nil {
			return err
		}
		scratch := loop.NewScratch(fs, cfg.Loop.ScratchPath)
		rec, err := cancelRecorded(scratch, interruptProcess)
		if err != nil {
			return err
		}
		if rec == nil {
			printLine("No loop is running.")
			return nil
		}
		printLine(fmt.Sprintf("Asked run %s (pid %d, iteration %d/%d) to stop.",
			short(rec.RunID), rec.PID, rec.Iteration, rec.MaxIterations))
		return nil
	},
}

// cancelRecorded signals the process in the scratch record, unless it is
// this process, and then deletes the record. It returns the record, or nil
// when there was none.
func cancelRecorded(scratch *loop.Scratch, interrupt func(pid int) error) (*loop.ScratchRecord, error) {
	rec, err := scratch.Read()
	if err != nil && !workspace.IsNotExist(err) {
		logger.Warn("unreadable scratch record", zap.String("path", scratch.Path()), zap.Error(err))
	}
	if rec != nil && rec.PID > 0 && rec.PID != os.Getpid() {
		if err := interrupt(rec.PID); err != nil {
			logger.Warn("signal loop process", zap.Int("pid", rec.PID), zap.Error(err))
		}
	}
	if err := scratch.Delete(); err != nil {
		return rec, fmt.Errorf("delete scratch record: %w", err)
	}
	return rec, nil
}

func interruptProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(os.Interrupt)
}
