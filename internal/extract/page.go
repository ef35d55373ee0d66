// Package extract holds the pure extractors run over fetched HTML pages.
// Every extractor tolerates malformed markup and returns zero values rather
// than errors.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Page is a parsed HTML document together with the URL it was served from.
type Page struct {
	URL  *url.URL
	Doc  *goquery.Document
	HTML string

	textOnce sync.Once
	text     string
}

// Parse builds a Page from a response body. Unparseable input yields an
// empty document so callers never need a nil check.
func Parse(body []byte, pageURL string) *Page {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		zap.L().Debug("extract: parse html", zap.String("url", pageURL), zap.Error(err))
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return &Page{URL: u, Doc: doc, HTML: string(body)}
}

var spaceRun = regexp.MustCompile(`\s+`)

// Text returns the visible text of the page with whitespace collapsed.
// Script, style and noscript contents are excluded.
func (p *Page) Text() string {
	p.textOnce.Do(func() {
		body := p.Doc.Find("body")
		if body.Length() == 0 {
			body = p.Doc.Selection
		}
		clone := body.Clone()
		clone.Find("script, style, noscript, template").Remove()
		p.text = strings.TrimSpace(spaceRun.ReplaceAllString(clone.Text(), " "))
	})
	return p.text
}

// Resolve makes ref absolute against the page URL. It returns "" for empty
// references, in-page anchors and non-web schemes.
func (p *Page) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := p.URL.ResolveReference(r)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// Host returns the lowercase host of the page without a leading "www.".
func (p *Page) Host() string {
	return strings.TrimPrefix(strings.ToLower(p.URL.Hostname()), "www.")
}

// Links returns every absolute http(s) link found in anchors, in document
// order and without duplicates.
func (p *Page) Links() []string {
	seen := make(map[string]struct{})
	var out []string
	p.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := p.Resolve(href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func attr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	return attr(doc.Find(selector).First(), "content")
}
