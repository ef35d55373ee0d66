package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSitemapURLs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		doc   string
		limit int
		want  []string
	}{
		{
			name: "urlset",
			doc: `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://a.example/</loc><lastmod>2024-01-01</lastmod></url>
  <url><loc> https://a.example/contact </loc></url>
</urlset>`,
			want: []string{"https://a.example/", "https://a.example/contact"},
		},
		{
			name: "sitemap index",
			doc: `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://a.example/sitemap-pages.xml</loc></sitemap>
</sitemapindex>`,
			want: []string{"https://a.example/sitemap-pages.xml"},
		},
		{
			name:  "limit",
			doc:   `<urlset><url><loc>https://a.example/1</loc></url><url><loc>https://a.example/2</loc></url></urlset>`,
			limit: 1,
			want:  []string{"https://a.example/1"},
		},
		{
			name: "latin1 declared",
			doc:  "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><urlset><url><loc>https://a.example/caf\xe9</loc></url></urlset>",
			want: []string{"https://a.example/café"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SitemapURLs(context.Background(), strings.NewReader(tt.doc), tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSitemapURLs_Malformed(t *testing.T) {
	t.Parallel()
	got, err := SitemapURLs(context.Background(), strings.NewReader(`<urlset><url><loc>https://a.example/</loc></url><url><loc`), 0)
	require.Error(t, err)
	assert.Equal(t, []string{"https://a.example/"}, got)
}
