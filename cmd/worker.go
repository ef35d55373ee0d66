package main

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and run queued jobs",
	Long: `Run a worker that claims analyze, scrape, and probe jobs from the
Postgres broker and publishes their progress as job states. Stop it with
SIGINT or SIGTERM; running jobs are cancelled and marked REVOKED.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "worker", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = workerName("worker")
		}

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			r := chi.NewRouter()
			r.Handle("/metrics", promhttp.HandlerFor(env.Metrics.Registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				zap.L().Info("worker: serving metrics", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("worker: metrics server", zap.Error(err))
				}
			}()
			defer srv.Close() //nolint:errcheck

			collector := monitoring.NewCollector(env.Store, env.Fetcher.Breakers())
			go monitoring.NewRefresher(collector, env.Metrics, time.Minute).Run(ctx)
		}

		var sink orchestrator.Sink
		if verbose, _ := cmd.Flags().GetBool("events"); verbose {
			sink = (&eventPrinter{out: cmd.ErrOrStderr()}).sink
		}

		w := &orchestrator.Worker{
			Broker:      env.Broker,
			Orch:        env.Orch,
			Name:        name,
			Poll:        cfg.Broker.PollInterval(),
			Concurrency: concurrency,
			Sink:        sink,
		}
		return w.Run(ctx)
	},
}

func init() {
	f := workerCmd.Flags()
	f.Int("concurrency", 1, "jobs run at the same time")
	f.String("name", "", "worker name recorded on claimed jobs (default host-pid)")
	f.String("metrics-addr", "", "address serving /metrics, e.g. :9090")
	f.Bool("events", false, "print job progress events to stderr")
	rootCmd.AddCommand(workerCmd)
}
