package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-intel/internal/config"
	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MaxBodyBytes   int64
	// RequestsPerSecond is the initial per-host rate. Each host gets its
	// own adaptive limiter.
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
	Breaker           resilience.BreakerConfig
	Metrics           *monitoring.Metrics
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter whose rate grows by 20% on success
// (up to 2x initial) and halves on 429 (down to initial/4).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher with per-host rate limiting, retries on
// transient failures, and a per-host circuit breaker.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	breakers *resilience.HostBreakers

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher. Zero options take defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.8"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			MaxConnsPerHost:     8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			// Compression is negotiated and decoded by the fetcher so
			// brotli is supported alongside gzip.
			DisableCompression: true,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return eris.New("fetcher: too many redirects")
				}
				return nil
			},
		},
		opts:     opts,
		breakers: resilience.NewHostBreakers(opts.Breaker),
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// FromConfig builds an HTTPFetcher from the fetch section of the config.
func FromConfig(cfg config.FetchConfig, metrics *monitoring.Metrics) *HTTPFetcher {
	retry, breaker := resilience.FromFetchConfig(cfg)
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:         cfg.UserAgent,
		AcceptLanguage:    cfg.AcceptLanguage,
		Timeout:           time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             retry,
		Breaker:           breaker,
		Metrics:           metrics,
	})
}

// Breakers exposes the per-host breakers for monitoring.
func (f *HTTPFetcher) Breakers() *resilience.HostBreakers {
	return f.breakers
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL and returns its decoded body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Page, error) {
	return f.fetch(ctx, http.MethodGet, rawURL)
}

// Head fetches headers only. Servers answering 405 or 501 to HEAD are
// retried with GET.
func (f *HTTPFetcher) Head(ctx context.Context, rawURL string) (*Page, error) {
	page, err := f.fetch(ctx, http.MethodHead, rawURL)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusMethodNotAllowed || fe.StatusCode == http.StatusNotImplemented) {
			return f.fetch(ctx, http.MethodGet, rawURL)
		}
	}
	return page, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, method, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		f.opts.Metrics.ObserveFetch(string(ErrKindOther))
		return nil, &FetchError{Kind: ErrKindOther, URL: rawURL, Err: eris.New("invalid url")}
	}

	retry := f.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("fetcher", rawURL)
	}
	page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Page, error) {
		return resilience.Execute(ctx, f.breakers, u.Host, func(ctx context.Context) (*Page, error) {
			return f.once(ctx, method, u)
		})
	})
	if err != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = ErrKindOther
			if errors.Is(err, resilience.ErrCircuitOpen) {
				kind = ErrKindConnection
			}
			err = &FetchError{Kind: kind, URL: rawURL, Err: err}
		}
		f.opts.Metrics.ObserveFetch(string(kind))
		return nil, err
	}
	f.opts.Metrics.ObserveFetch("ok")
	return page, nil
}

func (f *HTTPFetcher) once(ctx context.Context, method string, u *url.URL) (*Page, error) {
	lim := f.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: ErrKindOther, URL: u.String(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrKindOther, URL: u.String(), Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		fe := &FetchError{Kind: classify(err), URL: u.String(), Err: err}
		if fe.Kind == ErrKindTimeout && ctx.Err() == nil {
			return nil, resilience.NewTransientError(fe, 0)
		}
		return nil, fe
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
	}
	if resp.StatusCode >= 400 {
		fe := &FetchError{
			Kind:       statusKind(resp.StatusCode),
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("http %d", resp.StatusCode),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(fe, resp.StatusCode)
		}
		return nil, fe
	}
	lim.OnSuccess()

	page := &Page{
		URL:         u.String(),
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		TLS:         resp.TLS,
	}
	if method == http.MethodHead {
		page.Elapsed = time.Since(start)
		return page, nil
	}

	raw, truncated, err := readBody(resp, f.opts.MaxBodyBytes)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), URL: u.String(), Err: err}
	}
	if page.ContentType == "" {
		page.ContentType = mediaType(http.DetectContentType(raw))
	}
	if !textualTypes[page.ContentType] {
		return nil, &FetchError{
			Kind: ErrKindContentType,
			URL:  u.String(),
			Err:  eris.Errorf("content type %q rejected", page.ContentType),
		}
	}
	body, err := decodeCharset(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		zap.L().Debug("fetcher: charset decoding failed, keeping raw bytes",
			zap.String("url", u.String()), zap.Error(err))
		body = raw
	}
	page.Body = body
	page.Truncated = truncated
	page.Elapsed = time.Since(start)
	return page, nil
}

// readBody decompresses the body and reads at most limit bytes.
func readBody(resp *http.Response, limit int64) ([]byte, bool, error) {
	r, err := decompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, false, err
	}
	if c, ok := r.(io.Closer); ok && r != resp.Body {
		defer c.Close() //nolint:errcheck
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ErrNotSiteURL is returned by NormalizeURL for values that cannot be
// fetched.
var ErrNotSiteURL = eris.New("fetcher: not a site url")

// NormalizeURL adds a scheme when missing and rejects values that cannot
// be fetched, such as in-page anchors or mailto links.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return "", eris.Wrapf(ErrNotSiteURL, "%q", raw)
	}
	lower := strings.ToLower(s)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return "", eris.Wrapf(ErrNotSiteURL, "%q", raw)
		}
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	} else if !strings.Contains(lower, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", eris.Wrapf(ErrNotSiteURL, "%q", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}
