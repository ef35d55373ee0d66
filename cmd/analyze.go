package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/broker"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze every company of a spreadsheet",
	Long: `Ingest an .xlsx or .csv spreadsheet, save its rows as companies, and run
the analysis, scraping, probing, and scoring stages for each of them.

Exit status is 0 when at least one company completed, 1 on infrastructure
failure or when every company failed, and 2 on bad input.

Examples:
  # Run locally with 5 workers and only the technical and SEO probes
  analyze leads.xlsx --workers 5 --probes technical,seo

  # Queue the batch for a worker process and follow its progress
  analyze leads.xlsx --enqueue --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.Int("workers", 0, "concurrent companies (default from config)")
	f.String("probes", "", "comma-separated probes to run (technical,osint,pentest,seo)")
	f.Bool("skip-scrape", false, "skip the site scraping stage")
	f.Bool("skip-probes", false, "skip the probing stage")
	f.Bool("enqueue", false, "queue the batch on the broker instead of running it here")
	f.Bool("wait", false, "with --enqueue, poll the job until it finishes")
	f.Bool("json", false, "print progress events and the result as JSON")
	f.Bool("quiet", false, "do not print progress events")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return badInput(eris.Wrap(err, "analyze: resolve path"))
	}
	if _, err := os.Stat(path); err != nil {
		return badInput(eris.Wrap(err, "analyze: spreadsheet"))
	}

	enqueue, _ := cmd.Flags().GetBool("enqueue")
	asJSON, _ := cmd.Flags().GetBool("json")
	if enqueue {
		wait, _ := cmd.Flags().GetBool("wait")
		return enqueueJob(ctx, model.JobAnalyze, orchestrator.AnalyzePayload(path), wait, asJSON)
	}

	tune, err := tuneFromFlags(cmd)
	if err != nil {
		return err
	}
	env, err := initPipeline(ctx, "batch", tune)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Orch.RunBatch(ctx, path, progressSink(cmd))
	if res == nil {
		return err
	}

	failures := recordFailures(res.Outcomes)
	if asJSON {
		if werr := writeJSON(os.Stdout, struct {
			*orchestrator.BatchResult
			Failures any `json:"failures,omitempty"`
		}{res, failures.Entries()}); werr != nil {
			return werr
		}
	} else {
		formatBatch(os.Stdout, res, failures)
	}
	if err != nil {
		return err
	}

	if ids := failures.Retryable(); len(ids) > 0 {
		zap.L().Info("analyze: companies with transient failures can be retried",
			zap.Int64s("company_ids", ids))
	}
	if res.Status == model.AnalysisFailed {
		return &exitError{code: exitInfra, err: eris.Errorf("analyze: no company completed (%d failed)", res.Failed)}
	}
	return nil
}

// tuneFromFlags reads the orchestrator overrides shared by analyze,
// scrape, and probe.
func tuneFromFlags(cmd *cobra.Command) (func(*orchestrator.Options), error) {
	workers, _ := cmd.Flags().GetInt("workers")
	skipScrape, _ := cmd.Flags().GetBool("skip-scrape")
	skipProbes, _ := cmd.Flags().GetBool("skip-probes")
	raw, _ := cmd.Flags().GetString("probes")

	var probes []model.ProbeKind
	if raw != "" {
		var err error
		probes, err = orchestrator.ParseProbes(splitAndTrim(raw))
		if err != nil {
			return nil, badInput(err)
		}
	}
	return func(o *orchestrator.Options) {
		if workers > 0 {
			o.Workers = workers
		}
		if len(probes) > 0 {
			o.Probes = probes
		}
		o.SkipScrape = o.SkipScrape || skipScrape
		o.SkipProbes = o.SkipProbes || skipProbes
	}, nil
}

// progressSink prints events to stderr unless --quiet is set.
func progressSink(cmd *cobra.Command) orchestrator.Sink {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return nil
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	p := &eventPrinter{out: os.Stderr, asJSON: asJSON}
	return p.sink
}

// enqueueJob queues a job on the configured broker. With wait it polls
// the job state and maps the final state onto the exit status.
func enqueueJob(ctx context.Context, kind model.JobKind, payload map[string]any, wait, asJSON bool) error {
	if cfg.Broker.URL == "" {
		return badInput(eris.New("--enqueue requires broker.url (PROSPECT_BROKER_URL)"))
	}
	b, err := initBroker(ctx)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	job, err := b.Enqueue(ctx, kind, payload)
	if err != nil {
		return &orchestrator.InfraError{Err: err}
	}
	zap.L().Info("job queued", zap.String("job_id", job.ID), zap.String("kind", string(kind)))
	if !wait {
		if asJSON {
			return writeJSON(os.Stdout, job)
		}
		fmt.Println(job.ID)
		return nil
	}

	var lastMsg string
	st, err := broker.Wait(ctx, b, job.ID, cfg.Broker.PollInterval(), func(s model.JobState) {
		if s.Meta.Message != "" && s.Meta.Message != lastMsg {
			lastMsg = s.Meta.Message
			fmt.Fprintf(os.Stderr, "%-8s %5.1f%% %s\n", s.State, float64(s.Meta.Progress), s.Meta.Message)
		}
	})
	if err != nil {
		return err
	}
	if asJSON {
		if err := writeJSON(os.Stdout, st); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s %s\n", job.ID, st.State)
	}

	switch st.State {
	case model.JobSuccess:
		return nil
	case model.JobRevoked:
		return &exitError{code: exitCodeCancel, err: eris.Errorf("job %s revoked", job.ID)}
	}
	err = eris.Errorf("job %s failed: %s", job.ID, st.Meta.Error)
	if st.Meta.ErrorKind == model.ErrKindInput {
		return badInput(err)
	}
	return &exitError{code: exitInfra, err: err}
}

func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
