// Package fetchertest provides an in-memory Fetcher for tests.
package fetchertest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/prospect-intel/internal/fetcher"
)

// Response is a canned reply. A zero Status means 200 and an empty
// ContentType means text/html.
type Response struct {
	Status      int
	Header      http.Header
	ContentType string
	Body        string
	FinalURL    string
	Err         error
}

// Fake serves canned responses keyed by URL. Unknown URLs answer 404.
type Fake struct {
	// Delay is applied to every request before answering.
	Delay time.Duration

	mu     sync.Mutex
	routes map[string]Response
	calls  []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{routes: make(map[string]Response)}
}

// HTML registers an HTML page.
func (f *Fake) HTML(url, body string) *Fake {
	return f.Set(url, Response{Body: body})
}

// Set registers a response.
func (f *Fake) Set(url string, r Response) *Fake {
	f.mu.Lock()
	f.routes[url] = r
	f.mu.Unlock()
	return f
}

// Calls returns the requested URLs in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Get implements fetcher.Fetcher.
func (f *Fake) Get(ctx context.Context, rawURL string) (*fetcher.Page, error) {
	return f.serve(ctx, rawURL, true)
}

// Head implements fetcher.Fetcher.
func (f *Fake) Head(ctx context.Context, rawURL string) (*fetcher.Page, error) {
	return f.serve(ctx, rawURL, false)
}

func (f *Fake) serve(ctx context.Context, rawURL string, body bool) (*fetcher.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	r, ok := f.lookup(rawURL)
	f.mu.Unlock()

	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &fetcher.FetchError{Kind: fetcher.ErrKindTimeout, URL: rawURL, Err: ctx.Err()}
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &fetcher.FetchError{Kind: fetcher.ErrKindTimeout, URL: rawURL, Err: err}
	}
	if !ok {
		return nil, &fetcher.FetchError{Kind: fetcher.ErrKindHTTP4xx, URL: rawURL, StatusCode: http.StatusNotFound}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status >= 400 {
		kind := fetcher.ErrKindHTTP4xx
		if status >= 500 {
			kind = fetcher.ErrKindHTTP5xx
		}
		return nil, &fetcher.FetchError{Kind: kind, URL: rawURL, StatusCode: status}
	}
	ct := r.ContentType
	if ct == "" {
		ct = "text/html"
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", ct)
	final := r.FinalURL
	if final == "" {
		final = rawURL
	}
	p := &fetcher.Page{
		URL:         rawURL,
		FinalURL:    final,
		StatusCode:  status,
		Header:      header,
		ContentType: ct,
	}
	if body {
		p.Body = []byte(r.Body)
	}
	return p, nil
}

// lookup tolerates a trailing-slash difference. Callers hold f.mu.
func (f *Fake) lookup(rawURL string) (Response, bool) {
	if r, ok := f.routes[rawURL]; ok {
		return r, true
	}
	if strings.HasSuffix(rawURL, "/") {
		r, ok := f.routes[strings.TrimSuffix(rawURL, "/")]
		return r, ok
	}
	r, ok := f.routes[rawURL+"/"]
	return r, ok
}
