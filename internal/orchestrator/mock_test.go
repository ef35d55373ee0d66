package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/crawl"
	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/probe"
	"github.com/sells-group/prospect-intel/internal/scrape"
	"github.com/sells-group/prospect-intel/internal/store"
)

const acme = "https://acme.example"

const acmeHome = `<html lang="fr"><head>
<title>Acme Plomberie</title>
<meta name="description" content="Acme, plombier chauffagiste à Nancy : dépannage, installation de chaudières et salles de bain.">
<script src="/js/jquery-1.8.3.min.js"></script>
</head><body>
<header><img class="logo" src="/logo.png" alt="Acme logo"></header>
<p>Plombier et chauffagiste depuis vingt ans, Acme intervient pour vos dépannages et vos installations.</p>
<p>Écrivez-nous : contact@acme.example</p>
<a href="/contact">Contact</a>
<footer>© 2011 Acme Plomberie</footer>
</body></html>`

const acmeContact = `<html><body><h1>Contact</h1>
<p>Marie Durand, gérante : marie.durand@acme.example</p>
</body></html>`

func acmeSite() *fetchertest.Fake {
	return fetchertest.New().
		HTML(acme, acmeHome).
		HTML(acme+"/contact", acmeContact)
}

// fakeProber returns canned reports and records the probes it ran.
type fakeProber struct {
	errs  map[model.ProbeKind]error
	delay time.Duration

	mu    sync.Mutex
	calls []model.ProbeKind
}

func (f *fakeProber) Run(ctx context.Context, kind model.ProbeKind, t probe.Target, progress probe.ProgressFunc) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()

	if progress != nil {
		progress(model.Event{Kind: model.Kind(string(kind), model.PhaseProgress), CompanyID: t.CompanyID, Current: 1, Total: 2})
	}
	report := cannedReport(kind)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return report, nil
}

func (f *fakeProber) ran() []model.ProbeKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProbeKind(nil), f.calls...)
}

func cannedReport(kind model.ProbeKind) any {
	switch kind {
	case model.ProbeTechnical:
		perf := 45
		return &model.TechnicalReport{SecurityScore: 30, PerformanceScore: &perf, Hosting: "OVH"}
	case model.ProbeOSINT:
		return &model.OSINTReport{People: []model.OSINTPerson{{Name: "Marie Durand", Title: "Gérante", Source: "site"}}}
	case model.ProbePentest:
		return &model.PentestReport{RiskScore: 40, HighCount: 1}
	case model.ProbeSEO:
		return &model.SEOReport{}
	}
	return nil
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) sink(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) kinds() []model.EventKind {
	var out []model.EventKind
	for _, ev := range r.all() {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) ofKind(k model.EventKind) []model.Event {
	var out []model.Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "prospect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestOrchestrator(t *testing.T, st store.Store, f *fetchertest.Fake, p Prober, opts Options) *Orchestrator {
	t.Helper()
	cfg := crawl.Config{MaxDepth: 1, MaxWorkers: 2, MaxTime: 5 * time.Second, Grace: 100 * time.Millisecond}
	return New(Deps{
		Store:   st,
		Fetcher: f,
		Scraper: scrape.NewSiteScraper(crawl.New(f, cfg, nil)),
		Prober:  p,
	}, opts)
}

func saveCompany(t *testing.T, st store.Store, in model.CompanyInput) int64 {
	t.Helper()
	id, _, err := st.SaveCompany(context.Background(), nil, in, true)
	require.NoError(t, err)
	return id
}
