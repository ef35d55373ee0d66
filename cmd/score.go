package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/scorer"
	"github.com/sells-group/prospect-intel/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score [company-id...]",
	Short: "Recompute opportunity grades from stored signals",
	Long: `Rescore companies from their latest technical, pentest, OSINT, and
scraping results without fetching anything. The grade and its breakdown
are saved on each company.

Examples:
  # Score two companies and show their breakdown
  score 12 42

  # Rescore every company of an analysis
  score --analysis 3

  # Rescore the whole corpus
  score --all`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.Bool("all", false, "rescore every company")
	f.Int64("analysis", 0, "rescore the companies of one analysis")
	f.Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	all, _ := cmd.Flags().GetBool("all")
	analysisID, _ := cmd.Flags().GetInt64("analysis")
	asJSON, _ := cmd.Flags().GetBool("json")
	if len(args) == 0 && !all && analysisID == 0 {
		return badInput(eris.New("score: pass company ids, --analysis, or --all"))
	}

	log := zap.L().With(zap.String("command", "score"))

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if len(args) > 0 {
		type scored struct {
			CompanyID  int64              `json:"company_id"`
			Grade      string             `json:"grade"`
			Score      int                `json:"score"`
			Breakdown  map[string]float64 `json:"breakdown"`
			Indicators []string           `json:"indicators"`
		}
		var results []scored
		for _, raw := range args {
			id, err := parseID(raw)
			if err != nil {
				return err
			}
			opp, err := scorer.Recompute(ctx, st, id)
			if err != nil {
				return err
			}
			results = append(results, scored{id, string(opp.Grade), opp.Score, opp.Breakdown, opp.Indicators})
		}
		if asJSON {
			return writeJSON(os.Stdout, results)
		}
		for _, r := range results {
			fmt.Printf("%d\t%s\t%d\n", r.CompanyID, r.Grade, r.Score)
			for _, k := range sortedKeys(r.Breakdown) {
				fmt.Printf("  %-20s %6.1f\n", k, r.Breakdown[k])
			}
			for _, ind := range r.Indicators {
				fmt.Printf("  - %s\n", ind)
			}
		}
		return nil
	}

	filter := store.CompanyFilter{}
	if analysisID > 0 {
		filter.AnalysisID = &analysisID
	}
	companies, _, err := st.ListCompanies(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "score: list companies")
	}
	ids := make([]int64, len(companies))
	for i, c := range companies {
		ids[i] = c.ID
	}

	n, err := scorer.RecomputeAll(ctx, st, ids)
	if err != nil {
		return err
	}
	log.Info("score complete", zap.Int("companies", len(ids)), zap.Int("scored", n))

	stats, err := st.Statistics(ctx, filter.AnalysisID)
	if err != nil {
		return eris.Wrap(err, "score: statistics")
	}
	if asJSON {
		return writeJSON(os.Stdout, map[string]any{"companies": len(ids), "scored": n, "by_opportunity": stats.ByOpportunity})
	}
	fmt.Printf("Scored %d of %d companies\n", n, len(ids))
	for _, k := range sortedKeys(stats.ByOpportunity) {
		fmt.Printf("  %-10s %d\n", k, stats.ByOpportunity[k])
	}
	return nil
}
