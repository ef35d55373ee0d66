package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
)

const site = "https://site.example"

func links(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, h, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testConfig() Config {
	return Config{MaxDepth: 3, MaxWorkers: 5, MaxTime: 5 * time.Second, Grace: 100 * time.Millisecond}
}

func TestCrawl_CycleBounds(t *testing.T) {
	t.Parallel()

	f := fetchertest.New()
	var seedLinks []string
	for i := 1; i <= 20; i++ {
		seedLinks = append(seedLinks, fmt.Sprintf("/p%d", i))
		f.HTML(fmt.Sprintf("%s/p%d", site, i), links(fmt.Sprintf("/p%d", i%20+1), "/"))
	}
	f.HTML(site, links(seedLinks...))

	cfg := testConfig()
	cfg.MaxDepth, cfg.MaxPages = 2, 15
	var visits atomic.Int32
	res, err := New(f, cfg, nil).Crawl(context.Background(), site, func(_ context.Context, v *Visit) {
		visits.Add(1)
		assert.NotNil(t, v.Page)
	})
	require.NoError(t, err)

	assert.Len(t, res.Visited, 15)
	assert.Equal(t, 15, res.Pages)
	assert.Equal(t, int32(15), visits.Load())
	assert.Equal(t, StopPageCap, res.Stop)
	unique := make(map[string]bool)
	for _, v := range res.Visited {
		assert.LessOrEqual(t, v.Depth, 2)
		assert.False(t, unique[v.URL], "duplicate visit %s", v.URL)
		unique[v.URL] = true
	}
	assert.Len(t, f.Calls(), 15)
}

func TestCrawl_DepthLimit(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().
		HTML(site, links("/a")).
		HTML(site+"/a", links("/b")).
		HTML(site+"/b", links("/c")).
		HTML(site+"/c", links("/d"))

	cfg := testConfig()
	cfg.MaxDepth = 2
	res, err := New(f, cfg, nil).Crawl(context.Background(), "site.example", nil)
	require.NoError(t, err)

	assert.Equal(t, []VisitedURL{
		{URL: site, Depth: 0},
		{URL: site + "/a", Depth: 1},
		{URL: site + "/b", Depth: 2},
	}, res.Visited)
	assert.Equal(t, StopExhausted, res.Stop)
}

func TestCrawl_Scope(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().
		HTML(site, links("https://www.site.example/about", "https://blog.site.example/", "https://other.example/", "/doc.pdf", "#top", "mailto:a@site.example")).
		HTML("https://www.site.example/about", links()).
		HTML("https://blog.site.example", links())

	res, err := New(f, testConfig(), nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{site, "https://www.site.example/about"}, visitedURLs(res))

	cfg := testConfig()
	cfg.IncludeSubdomains = true
	res, err = New(f, cfg, nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{site, "https://www.site.example/about", "https://blog.site.example"}, visitedURLs(res))
}

type prefixExcluder string

func (p prefixExcluder) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err != nil || strings.HasPrefix(u.Path, string(p))
}

func TestCrawl_ExcludeAndFailures(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().
		HTML(site, links("/blog/post", "/missing", "/broken", "/ok")).
		HTML(site+"/ok", links()).
		Set(site+"/broken", fetchertest.Response{Status: http.StatusBadGateway})

	cfg := testConfig()
	cfg.Exclude = prefixExcluder("/blog")
	res, err := New(f, cfg, nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{site, site + "/missing", site + "/broken", site + "/ok"}, visitedURLs(res))
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Failures, 2)
	kinds := map[string]fetcher.ErrorKind{}
	for _, fl := range res.Failures {
		kinds[fl.URL] = fl.Kind
	}
	assert.Equal(t, fetcher.ErrKindHTTP4xx, kinds[site+"/missing"])
	assert.Equal(t, fetcher.ErrKindHTTP5xx, kinds[site+"/broken"])
}

func TestCrawl_SeedFailure(t *testing.T) {
	t.Parallel()

	res, err := New(fetchertest.New(), testConfig(), nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Pages)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, site, res.Failures[0].URL)

	_, err = New(fetchertest.New(), testConfig(), nil).Crawl(context.Background(), "#anchor", nil)
	require.Error(t, err)
}

func TestCrawl_Cancelled(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().HTML(site, links("/a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(f, testConfig(), nil).Crawl(ctx, site, nil)
	require.NoError(t, err)
	assert.Empty(t, f.Calls())
	assert.Zero(t, res.Pages)
}

func TestCrawl_TimeLimit(t *testing.T) {
	t.Parallel()

	f := fetchertest.New()
	f.Delay = 50 * time.Millisecond
	var many []string
	for i := range 50 {
		p := fmt.Sprintf("/p%d", i)
		many = append(many, p)
		f.HTML(site+p, links())
	}
	f.HTML(site, links(many...))

	cfg := testConfig()
	cfg.MaxWorkers = 1
	cfg.MaxTime = 150 * time.Millisecond
	cfg.Grace = 10 * time.Millisecond

	start := time.Now()
	res, err := New(f, cfg, nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StopTimeLimit, res.Stop)
	assert.Less(t, len(res.Visited), 51)
}

func TestCrawl_HostDelay(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().
		HTML(site, links("/a", "/b")).
		HTML(site+"/a", links()).
		HTML(site+"/b", links())

	cfg := testConfig()
	cfg.Delay = 40 * time.Millisecond
	start := time.Now()
	res, err := New(f, cfg, nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestCrawl_Sitemap(t *testing.T) {
	t.Parallel()

	f := fetchertest.New().
		HTML(site, links()).
		HTML(site+"/hidden", links()).
		Set(site+"/sitemap.xml", fetchertest.Response{
			ContentType: "application/xml",
			Body:        `<urlset><url><loc>https://site.example/hidden</loc></url><url><loc>https://elsewhere.example/x</loc></url></urlset>`,
		})

	cfg := testConfig()
	cfg.UseSitemap = true
	res, err := New(f, cfg, nil).Crawl(context.Background(), site, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []VisitedURL{{URL: site, Depth: 0}, {URL: site + "/hidden", Depth: 1}}, res.Visited)
}

func TestCrawl_HTTP(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(links("/contact")))
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><p>contact@site.example</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 1000})
	var (
		mu    sync.Mutex
		texts []string
	)
	res, err := New(f, testConfig(), nil).Crawl(context.Background(), srv.URL, func(_ context.Context, v *Visit) {
		mu.Lock()
		texts = append(texts, v.Page.Text())
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Contains(t, texts, "contact@site.example")
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"HTTPS://Site.Example/About/":   "https://site.example/About",
		"https://site.example/#top":     "https://site.example",
		"https://site.example/?b=2&a=1": "https://site.example?a=1&b=2",
		"https://site.example/p?x=1#f":  "https://site.example/p?x=1",
	}
	for in, want := range tests {
		u, err := url.Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, Canonicalize(u), in)
	}
}

func visitedURLs(res *Result) []string {
	out := make([]string, len(res.Visited))
	for i, v := range res.Visited {
		out[i] = v.URL
	}
	return out
}
