package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <company-id>",
	Short: "Crawl one company's website and rescore it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompanyStage(cmd, args[0], model.JobScrape,
			func(ctx context.Context, o *orchestrator.Orchestrator, id int64, sink orchestrator.Sink) orchestrator.Outcome {
				return o.Scrape(ctx, id, sink)
			})
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <company-id>",
	Short: "Run technical, OSINT, pentest, or SEO probes on one company",
	Long: `Run probes against a stored company's website, save their reports, and
rescore the company. Probes whose CLI tools are missing degrade to the
checks that need no external tool.

Examples:
  probe 42
  probe 42 --probes pentest,seo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("probes")
		var kinds []model.ProbeKind
		if raw != "" {
			var err error
			if kinds, err = orchestrator.ParseProbes(splitAndTrim(raw)); err != nil {
				return badInput(err)
			}
		}
		return runCompanyStage(cmd, args[0], model.JobProbe,
			func(ctx context.Context, o *orchestrator.Orchestrator, id int64, sink orchestrator.Sink) orchestrator.Outcome {
				return o.Probe(ctx, id, kinds, sink)
			})
	},
}

func init() {
	for _, c := range []*cobra.Command{scrapeCmd, probeCmd} {
		f := c.Flags()
		f.Bool("enqueue", false, "queue the job on the broker instead of running it here")
		f.Bool("wait", false, "with --enqueue, poll the job until it finishes")
		f.Bool("json", false, "print progress events and the result as JSON")
		f.Bool("quiet", false, "do not print progress events")
		rootCmd.AddCommand(c)
	}
	probeCmd.Flags().String("probes", "", "comma-separated probes to run (default from config)")
}

type stageFunc func(ctx context.Context, o *orchestrator.Orchestrator, id int64, sink orchestrator.Sink) orchestrator.Outcome

func runCompanyStage(cmd *cobra.Command, rawID string, kind model.JobKind, run stageFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := parseID(rawID)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if enqueue, _ := cmd.Flags().GetBool("enqueue"); enqueue {
		wait, _ := cmd.Flags().GetBool("wait")
		var probes []model.ProbeKind
		if kind == model.JobProbe {
			raw, _ := cmd.Flags().GetString("probes")
			if probes, err = orchestrator.ParseProbes(splitAndTrim(raw)); err != nil {
				return badInput(err)
			}
		}
		return enqueueJob(ctx, kind, orchestrator.CompanyPayload(id, probes), wait, asJSON)
	}

	env, err := initPipeline(ctx, "batch", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	out := run(ctx, env.Orch, id, progressSink(cmd))
	if asJSON {
		if err := writeJSON(os.Stdout, out); err != nil {
			return err
		}
	} else {
		formatOutcome(os.Stdout, out)
	}
	if out.Err != nil {
		return out.Err
	}
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badInput(eris.Errorf("invalid company id %q", raw))
	}
	return id, nil
}
