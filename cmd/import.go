package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import companies from a spreadsheet without analyzing them",
	Long:  "Reads an .xlsx or .csv spreadsheet, validates every row, and saves new companies. Rows matching an existing company by name, website, or address are counted as duplicates.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("batch"); err != nil {
			return badInput(err)
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		o := orchestrator.New(orchestrator.Deps{Store: st, Metrics: monitoring.NewMetrics()}, orchestrator.Options{})
		res, err := o.Import(ctx, args[0])
		if err != nil {
			return err
		}

		for _, w := range res.Warnings {
			zap.L().Warn("import: row warning",
				zap.Int("row", w.Row),
				zap.String("field", w.Field),
				zap.String("message", w.Message),
				zap.Bool("skipped", w.Skipped),
			)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, res)
		}
		formatBatch(os.Stdout, res, nil)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("json", false, "print the import result as JSON")
	rootCmd.AddCommand(importCmd)
}
