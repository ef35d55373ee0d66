package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
	"github.com/sells-group/prospect-intel/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "prospect-cli",
	Short: "Prospect intelligence pipeline",
	Long:  "Ingests company spreadsheets, crawls company websites, runs technical, OSINT, pentest and SEO probes, and grades each company as a sales opportunity.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// Exit codes of batch execution.
const (
	exitOK         = 0
	exitInfra      = 1
	exitBadInput   = 2
	exitCodeCancel = 130
)

// exitCode maps a command error onto the process exit code: 2 for bad
// input or an unknown id, 1 for everything else that aborted the run.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, store.ErrNotFound) {
		return exitBadInput
	}
	switch orchestrator.Classify(err) {
	case model.ErrKindInput:
		return exitBadInput
	case model.ErrKindCancelled:
		return exitCodeCancel
	}
	return exitInfra
}

// exitError forces an exit code for an error that does not classify on
// its own, such as a finished batch with no successful company.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func badInput(err error) error {
	return &exitError{code: exitBadInput, err: err}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
