package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/probe"
	"github.com/sells-group/prospect-intel/internal/scorer"
	"github.com/sells-group/prospect-intel/internal/scrape"
)

// analyze fetches the homepage and writes the first-pass enrichment:
// contact email, responsible, sector, size, imagery and site age.
// Without a website only the sector is normalized.
func (o *Orchestrator) analyze(ctx context.Context, c *model.Company, sink Sink) error {
	o.emit(sink, model.Event{
		Kind:      model.EventAnalysisProgress,
		CompanyID: c.ID,
		Company:   c.Name,
		URL:       c.Website,
		Message:   "Analyzing " + c.Name,
	})

	if c.Website == "" {
		e := model.Enrichment{Sector: o.d.Taxonomy.Sector(c.Sector, "", nil)}
		e.Size = o.d.Taxonomy.CompanySize("", c.Sector)
		return eris.Wrap(o.d.Store.UpdateEnrichment(ctx, c.ID, e), "orchestrator: enrich")
	}

	home, err := fetcher.NormalizeURL(c.Website)
	if err != nil {
		return err
	}
	page, err := o.d.Fetcher.Get(ctx, home)
	if err != nil {
		return err
	}
	base := page.FinalURL
	if base == "" {
		base = home
	}
	p := extract.Parse(page.Body, base)
	text := p.Text()
	domain, _ := probe.Domain(base)

	e := model.Enrichment{
		Email:       o.contactEmail(ctx, p, domain),
		Responsible: extract.ExtractResponsible(p),
		Sector:      o.d.Taxonomy.Sector(c.Sector, text, p),
		Size:        o.d.Taxonomy.CompanySize(text, c.Sector),
		Logo:        extract.ExtractLogo(p),
		Favicon:     extract.Favicon(p),
		OGImage:     extract.OGImage(p),
	}
	if c.Summary == "" {
		e.Summary = extract.ExtractDescription(p)
	}
	age := extract.AnalyzeSiteAge(p)
	e.SiteAgeScore = &age.Score

	zap.L().Debug("orchestrator: analyzed homepage",
		zap.Int64("company_id", c.ID),
		zap.String("url", base),
		zap.String("sector", e.Sector),
		zap.Int("site_age", age.Score),
		zap.Bool("email", e.Email != ""),
	)
	return eris.Wrap(o.d.Store.UpdateEnrichment(ctx, c.ID, e), "orchestrator: enrich")
}

// contactEmail prefers an address on the company domain, then any address
// on the homepage, then the same search on the contact page.
func (o *Orchestrator) contactEmail(ctx context.Context, p *extract.Page, domain string) string {
	if e := firstEmail(p, domain); e != "" {
		return e
	}
	link := extract.FindContactPage(p)
	if link == "" {
		return ""
	}
	cp, err := o.d.Fetcher.Get(ctx, link)
	if err != nil {
		zap.L().Debug("orchestrator: contact page unavailable", zap.String("url", link), zap.Error(err))
		return ""
	}
	return firstEmail(extract.Parse(cp.Body, link), domain)
}

func firstEmail(p *extract.Page, domain string) string {
	if domain != "" {
		if found := extract.PageEmails(p, domain); len(found) > 0 {
			return found[0]
		}
	}
	if found := extract.PageEmails(p, ""); len(found) > 0 {
		return found[0]
	}
	return ""
}

// scrape crawls the site and saves the unified run. It returns what the
// probes can reuse.
func (o *Orchestrator) scrape(ctx context.Context, c *model.Company, sink Sink) (probe.Known, error) {
	base := model.Event{CompanyID: c.ID, Company: c.Name, URL: c.Website}

	ev := base
	ev.Kind = model.EventScrapingStarted
	ev.Message = "Scraping " + c.Website
	o.emit(sink, ev)

	res, err := o.d.Scraper.Scrape(ctx, scrape.Target{
		CompanyID: c.ID,
		Name:      c.Name,
		Category:  c.Sector,
		URL:       c.Website,
	}, func(ev model.Event) { o.emit(sink, ev) })
	if err == nil {
		_, err = scrape.Save(ctx, o.d.Store, c.ID, res)
	}
	if err != nil {
		ev = base
		ev.Kind = model.EventScrapingError
		ev.ErrorKind = Classify(err)
		ev.Error = err.Error()
		o.emit(sink, ev)
		return probe.Known{}, err
	}

	counters := res.Counters
	ev = base
	ev.Kind = model.EventScrapingComplete
	ev.Current = len(res.Visited)
	ev.Total = len(res.Visited)
	ev.Percentage = model.Percent(1, 1)
	ev.Counters = &counters
	ev.Message = "Scraping complete"
	o.emit(sink, ev)

	known := probe.Known{
		People:       res.Artifacts.People,
		Social:       res.Artifacts.Social,
		Technologies: res.Artifacts.Technologies,
	}
	for _, e := range res.Artifacts.Emails {
		known.Emails = append(known.Emails, e.Email)
	}
	return known, nil
}

// probe runs the given probes in parallel and saves every report. A probe
// that times out keeps its partial report. The stage fails only when no
// probe succeeded.
func (o *Orchestrator) probe(ctx context.Context, c *model.Company, kinds []model.ProbeKind, known probe.Known, sink Sink) error {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	fan := newFanIn(func(ev model.Event) { o.emit(sink, ev) }, names)
	target := probe.Target{CompanyID: c.ID, Name: c.Name, URL: c.Website, Known: known}
	log := zap.L().With(zap.Int64("company_id", c.ID), zap.String("stage", string(StageProbing)))

	var (
		mu       sync.Mutex
		failures = make(map[model.ProbeKind]error)
	)
	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			if err := o.runProbe(ctx, kind, target, fan.task(string(kind))); err != nil {
				mu.Lock()
				failures[kind] = err
				mu.Unlock()
				if !errors.Is(err, context.Canceled) {
					log.Warn("orchestrator: probe failed", zap.String("probe", string(kind)), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil && len(failures) > 0 {
		return err
	}
	if len(failures) < len(kinds) {
		return nil
	}
	for _, k := range kinds {
		if err := failures[k]; err != nil {
			return eris.Wrapf(err, "orchestrator: all probes failed, first %s", k)
		}
	}
	return nil
}

func (o *Orchestrator) runProbe(ctx context.Context, kind model.ProbeKind, t probe.Target, sink Sink) error {
	prefix := model.ProbePrefix(kind)
	base := model.Event{CompanyID: t.CompanyID, Company: t.Name, URL: t.URL}

	ev := base
	ev.Kind = model.Kind(prefix, model.PhaseStarted)
	ev.Message = "Starting " + prefix
	sink.emit(ev)

	pctx, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
	defer cancel()
	report, err := o.d.Prober.Run(pctx, kind, t, probe.ProgressFunc(sink))

	// A probe cut off by its own cap still returns what it gathered.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && hasReport(report) {
		zap.L().Warn("orchestrator: probe timed out, keeping partial report",
			zap.Int64("company_id", t.CompanyID), zap.String("probe", prefix))
		err = nil
	}
	if err == nil {
		_, err = probe.Save(ctx, o.d.Store, t.CompanyID, t.URL, report)
	}
	if err != nil {
		ev = base
		ev.Kind = model.Kind(prefix, model.PhaseError)
		ev.ErrorKind = Classify(err)
		ev.Error = err.Error()
		sink.emit(ev)
		return err
	}

	ev = base
	ev.Kind = model.Kind(prefix, model.PhaseComplete)
	ev.Current, ev.Total = 1, 1
	ev.Percentage = model.Percent(1, 1)
	ev.Message = prefix + " complete"
	sink.emit(ev)
	return nil
}

func hasReport(r any) bool {
	switch v := r.(type) {
	case *model.TechnicalReport:
		return v != nil
	case *model.OSINTReport:
		return v != nil
	case *model.PentestReport:
		return v != nil
	case *model.SEOReport:
		return v != nil
	}
	return false
}

func (o *Orchestrator) score(ctx context.Context, companyID int64) (model.Opportunity, error) {
	return scorer.Recompute(ctx, o.d.Store, companyID)
}

// emit stamps the event time, counts it and forwards it.
func (o *Orchestrator) emit(sink Sink, ev model.Event) {
	if ev.Time.IsZero() {
		ev.Time = o.d.Now()
	}
	o.d.Metrics.ObserveEvent(ev.Kind)
	sink.emit(ev)
}
