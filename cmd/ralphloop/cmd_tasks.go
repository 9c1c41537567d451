package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/martinemde/ralphloop/taskrun"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the tasks the loop may run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := taskrun.NewShellRunner(workDir, cfg.Tasks, taskrun.WithLogger(logger))
		tasks, err := runner.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			printLine("No tasks configured. Add them under tasks: in .ralph/config.yaml.")
			return nil
		}
		for _, t := range tasks {
			line := fmt.Sprintf("%s  %s", bold(t.Label), gray(t.Command))
			if t.Detail != "" {
				line += "  " + t.Detail
			}
			printLine(line)
		}
		return nil
	},
}
