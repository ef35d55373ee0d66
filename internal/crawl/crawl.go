// Package crawl implements the per-site bounded breadth-first crawler.
package crawl

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/extract"
	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/monitoring"
)

// Excluder filters URLs out of the frontier.
type Excluder interface {
	IsExcluded(rawURL string) bool
}

// Config bounds a crawl.
type Config struct {
	MaxDepth          int
	MaxWorkers        int
	MaxPages          int // 0 means unbounded
	MaxTime           time.Duration
	Delay             time.Duration // minimum spacing between fetches to one host
	Grace             time.Duration // how long in-flight fetches may run after a stop
	IncludeSubdomains bool
	UseSitemap        bool
	Exclude           Excluder
}

// DefaultConfig returns the default crawl bounds.
func DefaultConfig() Config {
	return Config{
		MaxDepth:   3,
		MaxWorkers: 5,
		MaxTime:    300 * time.Second,
		Delay:      time.Second,
		Grace:      2 * time.Second,
	}
}

// FromConfig builds crawl bounds from the crawl configuration section.
func FromConfig(cfg config.CrawlConfig, exclude Excluder) Config {
	c := DefaultConfig()
	if cfg.MaxDepth > 0 {
		c.MaxDepth = cfg.MaxDepth
	}
	if cfg.MaxWorkers > 0 {
		c.MaxWorkers = cfg.MaxWorkers
	}
	if cfg.MaxTimeSecs > 0 {
		c.MaxTime = time.Duration(cfg.MaxTimeSecs) * time.Second
	}
	c.MaxPages = cfg.MaxPages
	c.Delay = time.Duration(cfg.DelayMS) * time.Millisecond
	c.IncludeSubdomains = cfg.IncludeSubdomains
	c.UseSitemap = cfg.UseSitemap
	c.Exclude = exclude
	return c
}

// Visit is a page the crawler fetched.
type Visit struct {
	URL     string // canonical URL
	Depth   int
	Fetched *fetcher.Page
	Page    *extract.Page
}

// Failure is a URL that could not be crawled.
type Failure struct {
	URL   string            `json:"url"`
	Depth int               `json:"depth"`
	Kind  fetcher.ErrorKind `json:"kind,omitempty"`
	Error string            `json:"error"`
}

// Result summarizes a crawl.
type Result struct {
	Seed     string        `json:"seed"`
	Visited  []VisitedURL  `json:"visited"`
	Pages    int           `json:"pages"`
	Failures []Failure     `json:"failures,omitempty"`
	Stop     StopReason    `json:"stop"`
	Elapsed  time.Duration `json:"elapsed"`
}

// VisitedURL is one attempted fetch.
type VisitedURL struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// VisitFunc receives every successfully fetched HTML page. It is called
// concurrently from the crawl workers.
type VisitFunc func(ctx context.Context, v *Visit)

// Crawler walks one site at a time.
type Crawler struct {
	fetch   fetcher.Fetcher
	cfg     Config
	metrics *monitoring.Metrics
}

// New creates a Crawler. metrics may be nil.
func New(f fetcher.Fetcher, cfg Config, metrics *monitoring.Metrics) *Crawler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	return &Crawler{fetch: f, cfg: cfg, metrics: metrics}
}

// Config returns the crawl bounds in use.
func (c *Crawler) Config() Config {
	return c.cfg
}

// Crawl walks the site rooted at seed breadth-first. Per-URL failures are
// recorded in the result and never abort the crawl; the returned error is
// non-nil only for an unusable seed.
func (c *Crawler) Crawl(ctx context.Context, seed string, visit VisitFunc) (*Result, error) {
	seedURL, err := fetcher.NormalizeURL(seed)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: seed")
	}
	root, err := url.Parse(seedURL)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: parse seed")
	}
	start := time.Now()
	log := zap.L().With(zap.String("seed", seedURL))

	crawlCtx := ctx
	var cancelCrawl context.CancelFunc = func() {}
	if c.cfg.MaxTime > 0 {
		crawlCtx, cancelCrawl = context.WithTimeout(ctx, c.cfg.MaxTime)
	}
	defer cancelCrawl()

	// In-flight fetches outlive a stop by the grace window.
	fetchCtx, cancelFetch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetch()

	r := &run{
		Crawler: c,
		root:    root,
		scope:   newScope(root, c.cfg.IncludeSubdomains),
		front:   newFrontier(c.cfg.MaxPages),
		hosts:   make(map[string]*rate.Limiter),
		visit:   visit,
		result:  &Result{Seed: seedURL},
		log:     log,
	}
	r.front.push(Canonicalize(root), 0)
	if c.cfg.UseSitemap && c.cfg.MaxDepth > 0 {
		r.seedSitemap(crawlCtx)
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-crawlCtx.Done():
			reason := StopCancelled
			if errors.Is(crawlCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				reason = StopTimeLimit
			}
			r.front.stop(reason)
			grace := time.NewTimer(c.cfg.Grace)
			defer grace.Stop()
			select {
			case <-grace.C:
				cancelFetch()
			case <-finished:
			}
		case <-finished:
		}
	}()

	g := new(errgroup.Group)
	for range c.cfg.MaxWorkers {
		g.Go(func() error {
			r.work(crawlCtx, fetchCtx)
			return nil
		})
	}
	_ = g.Wait()
	close(finished)

	res := r.result
	res.Stop = r.front.reason()
	res.Elapsed = time.Since(start)
	sort.SliceStable(res.Visited, func(i, j int) bool { return res.Visited[i].Depth < res.Visited[j].Depth })
	log.Debug("crawl: finished",
		zap.Int("visited", len(res.Visited)),
		zap.Int("pages", res.Pages),
		zap.Int("failures", len(res.Failures)),
		zap.String("stop", string(res.Stop)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

type run struct {
	*Crawler
	root  *url.URL
	scope scope
	front *frontier
	visit VisitFunc
	log   *zap.Logger

	mu     sync.Mutex
	hosts  map[string]*rate.Limiter
	result *Result
}

func (r *run) work(crawlCtx, fetchCtx context.Context) {
	for {
		it, ok := r.front.next()
		if !ok {
			return
		}
		r.process(crawlCtx, fetchCtx, it)
		r.front.done()
	}
}

func (r *run) process(crawlCtx, fetchCtx context.Context, it item) {
	if err := r.wait(crawlCtx, it.url); err != nil {
		return
	}

	r.mu.Lock()
	r.result.Visited = append(r.result.Visited, VisitedURL{URL: it.url, Depth: it.depth})
	r.mu.Unlock()

	fetched, err := r.fetch.Get(fetchCtx, it.url)
	if err != nil {
		r.fail(it, err)
		return
	}
	r.metrics.IncPages()

	base := it.url
	if fetched.FinalURL != "" {
		base = fetched.FinalURL
		if u, perr := url.Parse(base); perr == nil {
			r.front.markSeen(Canonicalize(u))
		}
	}
	page := extract.Parse(fetched.Body, base)

	r.mu.Lock()
	r.result.Pages++
	r.mu.Unlock()

	if it.depth < r.cfg.MaxDepth {
		for _, link := range page.Links() {
			key, ok := r.admit(link)
			if !ok {
				continue
			}
			r.front.push(key, it.depth+1)
		}
	}

	if r.visit != nil {
		r.visit(fetchCtx, &Visit{URL: it.url, Depth: it.depth, Fetched: fetched, Page: page})
	}
}

// wait enforces the per-host delay. It fails only when the crawl stops
// while waiting, in which case the item is dropped unvisited.
func (r *run) wait(ctx context.Context, rawURL string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.cfg.Delay <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Host)
	r.mu.Lock()
	lim, ok := r.hosts[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.cfg.Delay), 1)
		r.hosts[host] = lim
	}
	r.mu.Unlock()
	return lim.Wait(ctx)
}

func (r *run) fail(it item, err error) {
	kind := fetcher.KindOf(err)
	r.log.Debug("crawl: fetch failed",
		zap.String("url", it.url),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	r.mu.Lock()
	r.result.Failures = append(r.result.Failures, Failure{URL: it.url, Depth: it.depth, Kind: kind, Error: err.Error()})
	r.mu.Unlock()
}

// admit canonicalizes link and reports whether it belongs in the frontier.
func (r *run) admit(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !r.scope.contains(u.Hostname()) || skippedExtension(u.Path) {
		return "", false
	}
	if r.cfg.Exclude != nil && r.cfg.Exclude.IsExcluded(link) {
		return "", false
	}
	return Canonicalize(u), true
}

// sitemapLimit caps how many sitemap entries seed the frontier.
const sitemapLimit = 500

func (r *run) seedSitemap(ctx context.Context) {
	sm := &url.URL{Scheme: r.root.Scheme, Host: r.root.Host, Path: "/sitemap.xml"}
	page, err := r.fetch.Get(ctx, sm.String())
	if err != nil {
		r.log.Debug("crawl: no sitemap", zap.Error(err))
		return
	}
	locs, err := fetcher.SitemapURLs(ctx, bytes.NewReader(page.Body), sitemapLimit)
	if err != nil {
		r.log.Debug("crawl: partial sitemap", zap.Error(err))
	}
	seeded := 0
	for _, loc := range locs {
		if key, ok := r.admit(loc); ok && r.front.push(key, 1) {
			seeded++
		}
	}
	if seeded > 0 {
		r.log.Debug("crawl: seeded urls from sitemap", zap.Int("count", seeded))
	}
}

// Canonicalize reduces a URL to scheme, host, path and sorted query. The
// fragment and any trailing slash are dropped.
func Canonicalize(u *url.URL) string {
	c := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   strings.TrimRight(u.Path, "/"),
	}
	if u.RawQuery != "" {
		c.RawQuery = u.Query().Encode()
	}
	return c.String()
}

type scope struct {
	host       string
	registered string
	subdomains bool
}

func newScope(root *url.URL, subdomains bool) scope {
	host := bareHost(root.Hostname())
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		reg = host
	}
	return scope{host: host, registered: reg, subdomains: subdomains}
}

func (s scope) contains(hostname string) bool {
	host := bareHost(hostname)
	if host == s.host {
		return true
	}
	if !s.subdomains {
		return false
	}
	return host == s.registered || strings.HasSuffix(host, "."+s.registered)
}

func bareHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}

var skipExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
	".zip": true, ".rar": true, ".gz": true, ".mp4": true, ".mp3": true, ".avi": true, ".mov": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".exe": true,
	".css": true, ".js": true, ".ico": true, ".woff": true, ".woff2": true, ".ttf": true,
}

func skippedExtension(p string) bool {
	return skipExtensions[strings.ToLower(path.Ext(p))]
}
