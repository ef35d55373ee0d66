package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip pages that never carry company contact or
// identity data: CMS back-offices, feeds, carts and tag archives.
var defaultExcludePatterns = []string{
	"/wp-admin/*",
	"/wp-json/*",
	"/wp-login.php",
	"/feed/*",
	"/tag/*",
	"/cart/*",
	"/panier/*",
	"/checkout/*",
	"/mon-compte/*",
}

// PathMatcher filters crawl URLs with glob-style path patterns. A pattern
// ending in "/*" also matches deeper paths, so "/tag/*" covers
// "/tag/a/page/2".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns such as
// "/wp-admin/*" or "/*.php". It falls back to the default patterns when
// none are given.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether the URL path matches a pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
