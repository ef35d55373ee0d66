package probe

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
	"github.com/sells-group/prospect-intel/internal/model"
)

const seoHome = `<!DOCTYPE html>
<html lang="FR">
<head>
<meta charset="utf-8">
<title>  Boulangerie   Acme </title>
<meta name="description" content="Pains et viennoiseries artisanales à Lyon.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta property="og:title" content="Boulangerie Acme">
<meta name="twitter:card" content="summary">
<meta name="author" content="ignored">
<link rel="canonical" href="/accueil">
</head>
<body>
<h1>Bienvenue</h1>
<h2>Nos pains</h2><h2>Nos gâteaux</h2>
<h3>Horaires</h3>
<img src="/a.jpg" alt="pain"><img src="/b.jpg" alt=""><img src="/c.jpg">
<img src="/d.jpg" alt="croissant">
<a href="/contact">Contact</a>
<a href="https://www.acme.fr/mentions">Mentions</a>
<a href="https://facebook.com/acme">Facebook</a>
<a href="//cdn.example.net/doc.pdf">Doc</a>
<a href="mailto:contact@acme.fr">Mail</a>
<a href="tel:+33400000000">Tel</a>
<a href="#top">Top</a>
</body>
</html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestMetaTags(t *testing.T) {
	base, _ := url.Parse("https://www.acme.fr/")
	tags := MetaTags(parseDoc(t, seoHome), base)
	assert.Equal(t, []model.MetaTag{
		{Name: "title", Content: "Boulangerie Acme"},
		{Name: "charset", Content: "utf-8"},
		{Name: "description", Content: "Pains et viennoiseries artisanales à Lyon."},
		{Name: "viewport", Content: "width=device-width, initial-scale=1"},
		{Name: "og:title", Content: "Boulangerie Acme"},
		{Name: "twitter:card", Content: "summary"},
		{Name: "canonical", Content: "https://www.acme.fr/accueil"},
	}, tags)
}

func TestMetaTags_HTTPEquivCharset(t *testing.T) {
	doc := parseDoc(t, `<html><head><meta http-equiv="Content-Type" content="text/html; charset=ISO-8859-1"></head></html>`)
	assert.Equal(t, []model.MetaTag{{Name: "charset", Content: "iso-8859-1"}}, MetaTags(doc, nil))
}

func TestStructure(t *testing.T) {
	base, _ := url.Parse("https://acme.fr/")
	st := Structure(parseDoc(t, seoHome), base)
	assert.Equal(t, model.SEOStructure{
		H1:               1,
		H2:               2,
		H3:               1,
		Images:           4,
		ImagesWithoutAlt: 2,
		InternalLinks:    2,
		ExternalLinks:    2,
		Lang:             "fr",
	}, st)
}

func TestSEO(t *testing.T) {
	f := fetchertest.New().
		Set("https://acme.fr", fetchertest.Response{
			Header: http.Header{
				"X-Frame-Options":        {"DENY"},
				"X-Content-Type-Options": {"nosniff"},
				"Server":                 {"nginx"},
			},
			Body: seoHome,
		}).
		Set("https://acme.fr/robots.txt", fetchertest.Response{ContentType: "text/plain", Body: "User-agent: *\nDisallow:\n"})
	runner := &mockRunner{outputs: map[string]string{
		ToolLighthouse: `{"categories":{"seo":{"score":0.87},"performance":{"score":0.4}}}`,
	}}
	p := newTestProber(f, Deps{
		Runner: runner,
		Caps:   NewCapabilities(map[string]bool{ToolLighthouse: true}),
	})

	var events collect
	r, err := p.SEO(context.Background(), Target{URL: "acme.fr"}, events.add)
	require.NoError(t, err)

	assert.Equal(t, "Boulangerie Acme", r.Title)
	assert.Equal(t, "Pains et viennoiseries artisanales à Lyon.", r.Description)
	assert.Equal(t, map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Server":                 "nginx",
	}, r.Headers)
	assert.True(t, r.RobotsPresent)
	assert.False(t, r.SitemapPresent)
	require.NotNil(t, r.Lighthouse)
	assert.InDelta(t, 0.87, *r.Lighthouse.SEO, 1e-9)

	// title 10, description 10, canonical 5, og:title 5, viewport 5,
	// charset 5, one h1 10, alt coverage 5, robots 10, two headers 6,
	// lighthouse 8.
	assert.Equal(t, 79, r.Score)
	assert.Equal(t, []model.SEOIssue{
		{Type: model.IssueWarning, Category: "accessibility", Impact: model.ImpactMedium, Message: "2 images without alt text"},
		{Type: model.IssueInfo, Category: "sitemap", Impact: model.ImpactLow, Message: "No sitemap found"},
	}, r.Issues)
	assert.Equal(t, []string{"page", "robots", "sitemap", "lighthouse", "score"}, events.messages())

	calls := runner.called(ToolLighthouse)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "https://acme.fr --output=json")
}

func TestSEO_PageDown(t *testing.T) {
	p := newTestProber(fetchertest.New(), Deps{})
	r, err := p.SEO(context.Background(), Target{URL: "https://down.example"}, nil)
	require.NoError(t, err)
	assert.Contains(t, r.Diagnostic.Errors, "page")
	assert.Equal(t, 0, r.Score)
	assert.Empty(t, r.Issues)
}

func TestSEOScore_Bounds(t *testing.T) {
	one := 1.0
	best := &model.SEOReport{
		MetaTags: []model.MetaTag{
			{Name: "title", Content: "t"}, {Name: "description", Content: "d"},
			{Name: "canonical", Content: "c"}, {Name: "og:title", Content: "o"},
			{Name: "viewport", Content: "v"}, {Name: "charset", Content: "utf-8"},
		},
		Structure:      model.SEOStructure{H1: 1, Images: 3},
		SitemapPresent: true,
		RobotsPresent:  true,
		Headers: map[string]string{
			"X-Frame-Options":           "DENY",
			"X-Content-Type-Options":    "nosniff",
			"Strict-Transport-Security": "max-age=1",
		},
		Lighthouse: &model.LighthouseScores{SEO: &one},
	}
	// The header share tops out at 9.
	assert.Equal(t, 99, SEOScore(best))
	assert.Equal(t, 0, SEOScore(&model.SEOReport{}))

	multi := &model.SEOReport{Structure: model.SEOStructure{H1: 3}}
	assert.Equal(t, 5, SEOScore(multi))
}

func TestSEOIssues_Empty(t *testing.T) {
	issues := SEOIssues(&model.SEOReport{})
	require.Len(t, issues, 6)
	assert.Equal(t, model.SEOIssue{Type: model.IssueCritical, Category: "meta_tags", Impact: model.ImpactHigh, Message: "Missing page title"}, issues[0])
	assert.Equal(t, "No H1 heading", issues[2].Message)
	assert.Equal(t, "mobile", issues[3].Category)
}
