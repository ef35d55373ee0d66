package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the corpus schema in store.database_url and, when
broker.url is set, the job tables of the Postgres broker. Migrations are
idempotent.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		_ = st.Close()
		zap.L().Info("store migrated", zap.String("database_url", cfg.Store.DatabaseURL))

		if cfg.Broker.URL == "" {
			return nil
		}
		b, err := initBroker(ctx)
		if err != nil {
			return err
		}
		_ = b.Close()
		zap.L().Info("broker migrated")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every company, analysis, and report",
	Long:  "Remove all corpus data. Groups and API tokens are kept. Requires --yes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return badInput(eris.New("clear: refusing to delete the corpus without --yes"))
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ClearAll(ctx); err != nil {
			return eris.Wrap(err, "clear")
		}
		fmt.Println("Corpus cleared.")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("yes", false, "confirm deletion")
	rootCmd.AddCommand(migrateCmd, clearCmd)
}
