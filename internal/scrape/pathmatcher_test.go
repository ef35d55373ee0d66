package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-intel/internal/crawl"
)

var _ crawl.Excluder = (*PathMatcher)(nil)

func TestPathMatcher_IsExcluded(t *testing.T) {
	t.Parallel()
	m := NewPathMatcher([]string{"/blog/*", "/*.pdf", "/Espace-Client/*"})

	tests := []struct {
		name     string
		url      string
		excluded bool
	}{
		{"blog post", "https://garage.example/blog/post1", true},
		{"blog root", "https://garage.example/blog", true},
		{"blog deep path", "https://garage.example/blog/2024/01/post", true},
		{"root pdf", "https://garage.example/tarifs.pdf", true},
		{"nested pdf", "https://garage.example/docs/tarifs.pdf", false},
		{"mixed case pattern", "https://garage.example/espace-client/factures", true},
		{"contact", "https://garage.example/contact", false},
		{"homepage", "https://garage.example/", false},
		{"invalid", "://invalid", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.excluded, m.IsExcluded(tt.url))
		})
	}
}

func TestPathMatcher_DefaultPatterns(t *testing.T) {
	t.Parallel()
	m := NewPathMatcher(nil)

	assert.True(t, m.IsExcluded("https://garage.example/wp-admin/options.php"))
	assert.True(t, m.IsExcluded("https://garage.example/wp-login.php"))
	assert.True(t, m.IsExcluded("https://garage.example/panier/"))
	assert.True(t, m.IsExcluded("https://garage.example/tag/pneus/page/2"))
	assert.False(t, m.IsExcluded("https://garage.example/equipe"))
	assert.False(t, m.IsExcluded("https://garage.example/mentions-legales"))
	assert.Equal(t, defaultExcludePatterns, m.Patterns())
}
