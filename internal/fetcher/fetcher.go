// Package fetcher is the polite HTTP client shared by the crawler, the
// scraper, and the probes. It also reads the spreadsheets fed to ingestion.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Fetcher fetches single pages. Implementations hold no per-caller state.
type Fetcher interface {
	// Get fetches a document and returns its decoded body. Non-textual
	// content types are rejected with ErrKindContentType.
	Get(ctx context.Context, rawURL string) (*Page, error)
	// Head returns status and headers, falling back to GET when the
	// server refuses HEAD.
	Head(ctx context.Context, rawURL string) (*Page, error)
}

// Page is a fetched document.
type Page struct {
	URL         string               `json:"url"`
	FinalURL    string               `json:"final_url"`
	StatusCode  int                  `json:"status_code"`
	Header      http.Header          `json:"-"`
	ContentType string               `json:"content_type"`
	Body        []byte               `json:"-"`
	Truncated   bool                 `json:"truncated"`
	TLS         *tls.ConnectionState `json:"-"`
	Elapsed     time.Duration        `json:"elapsed"`
}

// IsHTML reports whether the page is an HTML document.
func (p *Page) IsHTML() bool {
	return p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml"
}

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindConnection  ErrorKind = "connection"
	ErrKindHTTP4xx     ErrorKind = "http_4xx"
	ErrKindHTTP5xx     ErrorKind = "http_5xx"
	ErrKindContentType ErrorKind = "content_type"
	ErrKindOther       ErrorKind = "other"
)

// FetchError is returned for every failed fetch.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the fetch error kind of err, or "" when err is not a
// FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// classify maps a transport error onto an ErrorKind.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}

	var (
		dnsErr  *net.DNSError
		opErr   *net.OpError
		certErr *tls.CertificateVerificationError
		unkAuth x509.UnknownAuthorityError
		host    x509.HostnameError
	)
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr),
		errors.As(err, &certErr), errors.As(err, &unkAuth), errors.As(err, &host),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrKindConnection
	}
	return ErrKindOther
}

func statusKind(code int) ErrorKind {
	if code >= 500 {
		return ErrKindHTTP5xx
	}
	return ErrKindHTTP4xx
}

// mediaType returns the lowercased media type of a Content-Type header.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

var textualTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
	"text/xml":              true,
	"application/xml":       true,
}
