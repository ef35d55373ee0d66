// Package probe runs the deep-probe analyzers of a company website:
// technical, OSINT, pentest and SEO. Every probe degrades gracefully when
// an optional tool or network lookup is unavailable, recording what it
// could not do in the report's Diagnostic.
package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
)

// ProgressFunc receives probe progress events. It must not block.
type ProgressFunc func(model.Event)

// Target is the company a probe runs against. Known carries what the site
// scraper already found, so the OSINT probe can correlate it.
type Target struct {
	CompanyID int64
	Name      string
	URL       string
	Known     Known
}

// Known is scraper output reused by the probes.
type Known struct {
	Emails       []string
	People       []model.ScrapedPerson
	Social       []model.SocialProfile
	Technologies []model.Technology
}

// Budgets are the wall-clock caps of the slow external tools.
type Budgets struct {
	OSINT time.Duration
	SEO   time.Duration
	Nmap  time.Duration
}

// Deps are the collaborators of the probes. Zero fields take defaults in
// New, except Fetcher which is required.
type Deps struct {
	Fetcher    fetcher.Fetcher
	Runner     Runner
	Caps       *Capabilities
	Resolver   Resolver
	Whois      WhoisClient
	Certs      CertInspector
	Signatures *extract.Signatures
	Budgets    Budgets
	Now        func() time.Time
}

// Prober runs the four probes. It is safe for concurrent use.
type Prober struct {
	d Deps
}

// New creates a Prober.
func New(d Deps) *Prober {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Resolver == nil {
		d.Resolver = net.DefaultResolver
	}
	if d.Whois == nil {
		d.Whois = &NetWhois{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Certs == nil {
		d.Certs = &TLSInspector{Now: d.Now}
	}
	if d.Signatures == nil {
		d.Signatures = extract.DefaultSignatures()
	}
	if d.Budgets.OSINT <= 0 {
		d.Budgets.OSINT = 120 * time.Second
	}
	if d.Budgets.SEO <= 0 {
		d.Budgets.SEO = 180 * time.Second
	}
	if d.Budgets.Nmap <= 0 {
		d.Budgets.Nmap = 60 * time.Second
	}
	return &Prober{d: d}
}

// FromConfig builds a Prober from the tools section of the config.
// Capabilities should come from DetectCapabilities run once at startup.
func FromConfig(cfg config.ToolsConfig, f fetcher.Fetcher, caps *Capabilities) *Prober {
	return New(Deps{
		Fetcher: f,
		Runner:  ExecRunner{Prefix: cfg.Bridge},
		Caps:    caps,
		Budgets: Budgets{
			OSINT: time.Duration(cfg.OSINTTimeoutSecs) * time.Second,
			SEO:   time.Duration(cfg.SEOTimeoutSecs) * time.Second,
			Nmap:  time.Duration(cfg.NmapTimeoutSecs) * time.Second,
		},
	})
}

// Capabilities returns the tool set the prober was built with.
func (p *Prober) Capabilities() *Capabilities { return p.d.Caps }

// Run dispatches to the probe of the given kind. The result is one of
// *model.TechnicalReport, *model.OSINTReport, *model.PentestReport or
// *model.SEOReport.
func (p *Prober) Run(ctx context.Context, kind model.ProbeKind, t Target, progress ProgressFunc) (any, error) {
	switch kind {
	case model.ProbeTechnical:
		return p.Technical(ctx, t, progress)
	case model.ProbeOSINT:
		return p.OSINT(ctx, t, progress)
	case model.ProbePentest:
		return p.Pentest(ctx, t, progress)
	case model.ProbeSEO:
		return p.SEO(ctx, t, progress)
	}
	return nil, eris.Errorf("probe: unknown kind %q", kind)
}

// session tracks one probe execution: its steps, progress and diagnostic.
type session struct {
	kind     model.ProbeKind
	target   Target
	progress ProgressFunc
	diag     *model.Diagnostic
	total    int
	current  int
	log      *zap.Logger
}

func (p *Prober) newSession(kind model.ProbeKind, t Target, progress ProgressFunc, diag *model.Diagnostic, steps int) *session {
	return &session{
		kind:     kind,
		target:   t,
		progress: progress,
		diag:     diag,
		total:    steps,
		log: zap.L().With(
			zap.String("probe", string(kind)),
			zap.Int64("company_id", t.CompanyID),
		),
	}
}

// step runs one sub-analysis. Failures are recorded in the diagnostic and
// never abort the probe. It returns false once ctx is done.
func (s *session) step(ctx context.Context, name string, fn func(context.Context) error) bool {
	if ctx.Err() != nil {
		return false
	}
	s.current++
	if s.progress != nil {
		s.progress(model.Event{
			Kind:       model.Kind(model.ProbePrefix(s.kind), model.PhaseProgress),
			CompanyID:  s.target.CompanyID,
			Company:    s.target.Name,
			URL:        s.target.URL,
			Current:    s.current,
			Total:      s.total,
			Percentage: model.Percent(s.current, s.total),
			Message:    name,
		})
	}
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return false
		}
		s.diag.Fail(name, err)
		s.log.Debug("probe: step failed", zap.String("step", name), zap.Error(err))
	}
	return ctx.Err() == nil
}

// home is the fetched and parsed landing page of a target.
type home struct {
	page *fetcher.Page
	doc  *extract.Page
	base *url.URL
}

func (p *Prober) fetchHome(ctx context.Context, rawURL string) (*home, error) {
	page, err := p.d.Fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	final := page.FinalURL
	if final == "" {
		final = rawURL
	}
	base, err := url.Parse(final)
	if err != nil {
		return nil, eris.Wrapf(err, "probe: parse %s", final)
	}
	return &home{page: page, doc: extract.Parse(page.Body, final), base: base}, nil
}

// siteURL resolves path against the site root of h, or of rawURL when
// the landing page could not be fetched.
func siteURL(h *home, rawURL, path string) string {
	var u *url.URL
	if h != nil {
		u = h.base
	} else if parsed, err := url.Parse(rawURL); err == nil {
		u = parsed
	}
	if u == nil {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String()
}

// prepare normalizes the target URL and derives its domain.
func prepare(t Target) (string, string, error) {
	u, err := fetcher.NormalizeURL(t.URL)
	if err != nil {
		return "", "", eris.Wrap(err, "probe: target url")
	}
	d, err := Domain(u)
	if err != nil {
		return "", "", err
	}
	return u, d, nil
}

func headerValue(h *home, name string) string {
	if h == nil || h.page.Header == nil {
		return ""
	}
	return strings.TrimSpace(h.page.Header.Get(name))
}
