// Package orchestrator drives companies through the enrichment stages:
// analyzing, scraping, probing and scoring. Companies advance in
// parallel on a bounded worker pool; a failure stays attached to its
// company unless shared infrastructure is down.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/probe"
	"github.com/sells-group/prospect-intel/internal/scrape"
	"github.com/sells-group/prospect-intel/internal/store"
)

// Scraper crawls one company site.
type Scraper interface {
	Scrape(ctx context.Context, t scrape.Target, progress scrape.ProgressFunc) (*scrape.Result, error)
}

// Prober runs one deep probe.
type Prober interface {
	Run(ctx context.Context, kind model.ProbeKind, t probe.Target, progress probe.ProgressFunc) (any, error)
}

// Options bound the work of the orchestrator.
type Options struct {
	Workers         int
	AnalysisTimeout time.Duration
	ScrapeTimeout   time.Duration
	ProbeTimeout    time.Duration
	Probes          []model.ProbeKind
	SkipScrape      bool
	SkipProbes      bool
}

// OptionsFromConfig builds Options from the orchestrator config section.
// Unknown probe names are dropped with a warning.
func OptionsFromConfig(cfg config.OrchestratorConfig) Options {
	opts := Options{
		Workers:         cfg.AnalysisWorkers,
		AnalysisTimeout: time.Duration(cfg.AnalysisTimeoutSecs) * time.Second,
		ScrapeTimeout:   time.Duration(cfg.ScrapeTimeoutSecs) * time.Second,
		ProbeTimeout:    time.Duration(cfg.ProbeTimeoutSecs) * time.Second,
	}
	kinds, err := ParseProbes(cfg.Probes)
	if err != nil {
		zap.L().Warn("orchestrator: ignoring unknown probes", zap.Error(err))
	}
	opts.Probes = kinds
	return opts
}

// ParseProbes converts probe names to kinds, keeping the known ones in
// execution order.
func ParseProbes(names []string) ([]model.ProbeKind, error) {
	want := make(map[model.ProbeKind]bool, len(names))
	var unknown []string
	for _, n := range names {
		k := model.ProbeKind(n)
		switch k {
		case model.ProbeTechnical, model.ProbeOSINT, model.ProbePentest, model.ProbeSEO:
			want[k] = true
		default:
			unknown = append(unknown, n)
		}
	}
	var out []model.ProbeKind
	for _, k := range model.AllProbes() {
		if want[k] {
			out = append(out, k)
		}
	}
	if len(unknown) > 0 {
		return out, &StageError{Stage: StagePending, Kind: model.ErrKindInput, Err: errors.New("unknown probes: " + strings.Join(unknown, ", "))}
	}
	return out, nil
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Store    store.Store
	Fetcher  fetcher.Fetcher
	Scraper  Scraper
	Prober   Prober
	Metrics  *monitoring.Metrics
	Taxonomy *extract.Taxonomy
	Now      func() time.Time
}

// Orchestrator runs the per-company stage machine.
type Orchestrator struct {
	d    Deps
	opts Options
}

// New creates an Orchestrator, filling zero options with defaults.
func New(d Deps, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 60 * time.Second
	}
	if opts.ScrapeTimeout <= 0 {
		opts.ScrapeTimeout = 300 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 120 * time.Second
	}
	if opts.Probes == nil {
		opts.Probes = model.AllProbes()
	}
	if d.Taxonomy == nil {
		d.Taxonomy = extract.DefaultTaxonomy()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{d: d, opts: opts}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// Outcome is where a company ended up.
type Outcome struct {
	CompanyID   int64              `json:"company_id"`
	Name        string             `json:"name"`
	Stage       Stage              `json:"stage"`
	Err         *StageError        `json:"-"`
	Opportunity *model.Opportunity `json:"opportunity,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// Failed reports whether the company stopped in a failed stage.
func (o Outcome) Failed() bool { return o.Err != nil }

// Process runs every stage for one stored company.
func (o *Orchestrator) Process(ctx context.Context, companyID int64, sink Sink) Outcome {
	c, err := o.d.Store.GetCompany(ctx, companyID)
	if err != nil {
		se := stageErr(StagePending, companyID, err)
		return Outcome{CompanyID: companyID, Stage: StageFailed, Err: se}
	}
	return o.run(ctx, c, sink)
}

// run advances c through the stages in order. It checks for cancellation
// between stages; an in-flight stage is left to finish or time out.
func (o *Orchestrator) run(ctx context.Context, c *model.Company, sink Sink) Outcome {
	start := o.d.Now()
	log := zap.L().With(zap.Int64("company_id", c.ID), zap.String("company", c.Name))
	out := Outcome{CompanyID: c.ID, Name: c.Name, Stage: StagePending}

	var known probe.Known
	steps := []struct {
		stage Stage
		skip  bool
		fn    func(context.Context) error
	}{
		{StageAnalyzing, false, func(ctx context.Context) error {
			return o.analyze(ctx, c, sink)
		}},
		{StageScraping, o.opts.SkipScrape || c.Website == "", func(ctx context.Context) error {
			k, err := o.scrape(ctx, c, sink)
			known = k
			return err
		}},
		{StageProbing, o.opts.SkipProbes || c.Website == "" || len(o.opts.Probes) == 0, func(ctx context.Context) error {
			return o.probe(ctx, c, o.opts.Probes, known, sink)
		}},
		{StageScoring, false, func(ctx context.Context) error {
			opp, err := o.score(ctx, c.ID)
			if err == nil {
				out.Opportunity = &opp
			}
			return err
		}},
	}

	for _, st := range steps {
		if st.skip {
			log.Debug("orchestrator: stage skipped", zap.String("stage", string(st.stage)))
			continue
		}
		out.Stage = st.stage
		if err := o.stage(ctx, c.ID, st.stage, st.fn); err != nil {
			out.Stage = StageFailed
			out.Err = err
			out.Duration = o.d.Now().Sub(start)
			if err.Kind == model.ErrKindCancelled {
				log.Info("orchestrator: cancelled", zap.String("stage", string(err.Stage)))
			} else {
				log.Error("orchestrator: stage failed",
					zap.String("stage", string(err.Stage)),
					zap.String("kind", string(err.Kind)),
					zap.Error(err.Err),
				)
			}
			return out
		}
	}

	out.Stage = StageDone
	out.Duration = o.d.Now().Sub(start)
	log.Info("orchestrator: company done", zap.Duration("duration", out.Duration))
	return out
}

// stage runs fn under the stage's timeout and records its outcome.
func (o *Orchestrator) stage(ctx context.Context, companyID int64, s Stage, fn func(context.Context) error) *StageError {
	if err := ctx.Err(); err != nil {
		return stageErr(s, companyID, err)
	}
	if t := o.timeout(s); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := o.d.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
	}
	o.d.Metrics.ObserveStage(string(s), outcome, o.d.Now().Sub(start))
	if err != nil {
		return stageErr(s, companyID, err)
	}
	return nil
}

func (o *Orchestrator) timeout(s Stage) time.Duration {
	switch s {
	case StageAnalyzing:
		return o.opts.AnalysisTimeout
	case StageScraping:
		return o.opts.ScrapeTimeout
	case StageProbing:
		// Probes run in parallel, each under its own cap; leave room for
		// the saves that follow.
		return o.opts.ProbeTimeout + 30*time.Second
	}
	return 0
}
