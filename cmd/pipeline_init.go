package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/broker"
	"github.com/sells-group/prospect-intel/internal/crawl"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
	"github.com/sells-group/prospect-intel/internal/probe"
	"github.com/sells-group/prospect-intel/internal/scrape"
	"github.com/sells-group/prospect-intel/internal/store"
)

// pipelineEnv holds the store, broker, and orchestrator needed by the
// analyze/scrape/probe/worker/serve commands.
type pipelineEnv struct {
	Store   store.Store
	Broker  broker.Broker
	Fetcher *fetcher.HTTPFetcher
	Metrics *monitoring.Metrics
	Prober  *probe.Prober
	Orch    *orchestrator.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Broker != nil {
		_ = pe.Broker.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the corpus database and applies migrations. Failures
// are infrastructure errors.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, &orchestrator.InfraError{Err: eris.Wrap(err, "open store")}
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, &orchestrator.InfraError{Err: eris.Wrap(err, "migrate store")}
	}
	return st, nil
}

// initBroker opens the job broker selected by broker.url.
func initBroker(ctx context.Context) (broker.Broker, error) {
	b, err := broker.Open(ctx, broker.Options{
		URL:      cfg.Broker.URL,
		MaxConns: cfg.Broker.MaxConns,
		MinConns: cfg.Broker.MinConns,
	})
	if err != nil {
		return nil, &orchestrator.InfraError{Err: err}
	}
	return b, nil
}

// initPipeline validates the config for mode, opens the store and the
// broker, detects the optional CLI tools, and builds the orchestrator.
// tune, when non-nil, adjusts the orchestrator options derived from the
// config. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, tune func(*orchestrator.Options)) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, badInput(err)
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	b, err := initBroker(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	f := fetcher.FromConfig(cfg.Fetch, metrics)
	crawler := crawl.New(f, crawl.FromConfig(cfg.Crawl, scrape.NewPathMatcher(cfg.Crawl.ExcludePaths)), metrics)

	caps := probe.DetectCapabilities(ctx, probe.ExecRunner{Prefix: cfg.Tools.Bridge}, cfg.Tools.Disabled)
	zap.L().Info("probe tools detected", zap.Strings("available", caps.Available()))
	prober := probe.FromConfig(cfg.Tools, f, caps)

	opts := orchestrator.OptionsFromConfig(cfg.Orchestrator)
	if tune != nil {
		tune(&opts)
	}
	orch := orchestrator.New(orchestrator.Deps{
		Store:   st,
		Fetcher: f,
		Scraper: scrape.NewSiteScraper(crawler),
		Prober:  prober,
		Metrics: metrics,
	}, opts)

	return &pipelineEnv{
		Store:   st,
		Broker:  b,
		Fetcher: f,
		Metrics: metrics,
		Prober:  prober,
		Orch:    orch,
	}, nil
}
