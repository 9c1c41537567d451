// Command ralphloop runs an instruction against the current workspace
// until a verifier confirms it is done.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workDir    string
	autoYes    bool
	noColor    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ralphloop",
	Short: "Drive an instruction to verified completion",
	Long: `ralphloop splits an instruction into verifiable tasks, then lets a model
work on the workspace in iterations. A run ends only when every task's
checks pass and the model's last line is exactly the completion promise,
or when the iteration budget runs out.

Configuration is read from .ralph/config.yaml and RALPH_* variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		if workDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			workDir = wd
		}

		var err error
		cfg, err = config.Load(workDir, configPath)
		if err != nil {
			return err
		}
		logger, err = cfg.Logging.NewLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("configuration loaded",
			zap.String("workspace", workDir),
			zap.String("file", cfg.File),
			zap.String("provider", cfg.Model.Provider),
			zap.Int("tasks", len(cfg.Tasks)))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default .ralph/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", "", "Workspace root (default current directory)")
	rootCmd.PersistentFlags().BoolVarP(&autoYes, "yes", "y", false, "Answer yes to every confirmation check")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(startCmd, runCmd, cancelCmd, historyCmd, tasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}
