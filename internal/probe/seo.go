package probe

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/prospect-intel/internal/model"
)

// snapshotHeaders are the response headers kept in the SEO report.
var snapshotHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"X-XSS-Protection",
	"Server",
	"X-Powered-By",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// SEO runs the SEO probe: meta tags, page structure, sitemap and robots,
// plus a Lighthouse audit when the tool is installed.
func (p *Prober) SEO(ctx context.Context, t Target, progress ProgressFunc) (*model.SEOReport, error) {
	rawURL, domain, err := prepare(t)
	if err != nil {
		return nil, err
	}
	r := &model.SEOReport{
		URL:        rawURL,
		Domain:     domain,
		MetaTags:   []model.MetaTag{},
		Headers:    map[string]string{},
		Issues:     []model.SEOIssue{},
		Diagnostic: model.Diagnostic{Tools: p.d.Caps.Snapshot(ToolLighthouse)},
	}
	s := p.newSession(model.ProbeSEO, t, progress, &r.Diagnostic, 5)

	var h *home
	ok := s.step(ctx, "page", func(ctx context.Context) error {
		h, err = p.fetchHome(ctx, rawURL)
		if err != nil {
			return err
		}
		for _, name := range snapshotHeaders {
			if v := headerValue(h, name); v != "" {
				r.Headers[name] = v
			}
		}
		r.MetaTags = MetaTags(h.doc.Doc, h.base)
		r.Title = metaTag(r.MetaTags, "title")
		r.Description = metaTag(r.MetaTags, "description")
		r.Structure = Structure(h.doc.Doc, h.base)
		return nil
	})
	var robots model.RobotsInfo
	ok = ok && s.step(ctx, "robots", func(ctx context.Context) error {
		var err error
		robots, err = p.robots(ctx, h, rawURL)
		r.RobotsPresent = robots.Present
		return err
	})
	ok = ok && s.step(ctx, "sitemap", func(ctx context.Context) error {
		var err error
		r.SitemapPresent, _, err = p.sitemap(ctx, h, rawURL, robots)
		return err
	})
	ok = ok && s.step(ctx, "lighthouse", func(ctx context.Context) error {
		if !p.d.Caps.Has(ToolLighthouse) {
			return nil
		}
		target := rawURL
		if h != nil {
			target = h.base.String()
		}
		out, err := runTool(ctx, p.d.Runner, p.d.Budgets.SEO, ToolLighthouse, target,
			"--output=json", "--output-path=stdout", "--quiet",
			"--chrome-flags=--headless --no-sandbox",
			"--only-categories=seo,performance")
		if err != nil && len(out) == 0 {
			return err
		}
		scores, perr := ParseLighthouse(out)
		if perr != nil {
			if err != nil {
				return err
			}
			return perr
		}
		r.Lighthouse = scores
		return nil
	})
	ok = ok && s.step(ctx, "score", func(context.Context) error {
		if h == nil {
			return nil
		}
		r.Score = SEOScore(r)
		r.Issues = SEOIssues(r)
		return nil
	})
	if !ok {
		return r, ctx.Err()
	}
	return r, nil
}

// MetaTags collects the title and the SEO-relevant head tags in document
// order: description, keywords, robots, viewport, og:*, twitter:*, the
// absolute canonical URL and the charset.
func MetaTags(doc *goquery.Document, base *url.URL) []model.MetaTag {
	var tags []model.MetaTag
	seen := map[string]bool{}
	add := func(name, content string) {
		name = strings.ToLower(strings.TrimSpace(name))
		content = strings.TrimSpace(content)
		if name == "" || content == "" || seen[name] {
			return
		}
		seen[name] = true
		tags = append(tags, model.MetaTag{Name: name, Content: content})
	}

	add("title", strings.Join(strings.Fields(doc.Find("title").First().Text()), " "))
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		if cs, ok := s.Attr("charset"); ok {
			add("charset", cs)
			return
		}
		if equiv, ok := s.Attr("http-equiv"); ok && strings.EqualFold(equiv, "content-type") {
			if _, cs, found := strings.Cut(strings.ToLower(content), "charset="); found {
				add("charset", cs)
			}
			return
		}
		name, _ := s.Attr("name")
		if name == "" {
			name, _ = s.Attr("property")
		}
		lower := strings.ToLower(name)
		switch {
		case lower == "description", lower == "keywords", lower == "robots", lower == "viewport":
		case strings.HasPrefix(lower, "og:"), strings.HasPrefix(lower, "twitter:"):
		default:
			return
		}
		add(lower, content)
	})
	doc.Find(`link[rel="canonical"][href]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil && base != nil {
			add("canonical", base.ResolveReference(ref).String())
		}
		return false
	})
	return tags
}

func metaTag(tags []model.MetaTag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Content
		}
	}
	return ""
}

// Structure counts headings, images and links. Links to another host
// are external; relative and same-host links are internal.
func Structure(doc *goquery.Document, base *url.URL) model.SEOStructure {
	st := model.SEOStructure{
		H1: doc.Find("h1").Length(),
		H2: doc.Find("h2").Length(),
		H3: doc.Find("h3").Length(),
	}
	imgs := doc.Find("img")
	st.Images = imgs.Length()
	imgs.Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			st.ImagesWithoutAlt++
		}
	})

	var host string
	if base != nil {
		host = strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "javascript:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if u.IsAbs() || strings.HasPrefix(href, "//") {
			if strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") != host {
				st.ExternalLinks++
				return
			}
		}
		st.InternalLinks++
	})

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		st.Lang = strings.ToLower(strings.TrimSpace(lang))
	}
	return st
}

// SEOScore rates a report from 0 to 100. Each signal adds a fixed share:
// title and description 10 each; canonical, og:title, viewport and charset
// 5 each; a single h1 10 (several 5); alt coverage up to 10; sitemap and
// robots.txt 10 each; up to 10 for anti-framing, MIME sniffing and HSTS
// headers; up to 10 from the Lighthouse SEO category.
func SEOScore(r *model.SEOReport) int {
	score := 0
	for _, m := range []struct {
		name   string
		points int
	}{
		{"title", 10},
		{"description", 10},
		{"canonical", 5},
		{"og:title", 5},
		{"viewport", 5},
		{"charset", 5},
	} {
		if metaTag(r.MetaTags, m.name) != "" {
			score += m.points
		}
	}

	switch {
	case r.Structure.H1 == 1:
		score += 10
	case r.Structure.H1 > 1:
		score += 5
	}
	if r.Structure.Images > 0 {
		withAlt := 1 - float64(r.Structure.ImagesWithoutAlt)/float64(r.Structure.Images)
		score += int(10 * withAlt)
	}
	if r.SitemapPresent {
		score += 10
	}
	if r.RobotsPresent {
		score += 10
	}

	headers := 0
	for _, name := range []string{"X-Frame-Options", "X-Content-Type-Options", "Strict-Transport-Security"} {
		if r.Headers[name] != "" {
			headers++
		}
	}
	score += min(headers*3, 10)

	if r.Lighthouse != nil && r.Lighthouse.SEO != nil {
		score += int(*r.Lighthouse.SEO * 10)
	}
	return min(score, 100)
}

// SEOIssues lists the rule violations of a report, most severe first.
func SEOIssues(r *model.SEOReport) []model.SEOIssue {
	issues := []model.SEOIssue{}
	add := func(typ, category, impact, msg string) {
		issues = append(issues, model.SEOIssue{Type: typ, Category: category, Impact: impact, Message: msg})
	}
	if r.Title == "" {
		add(model.IssueCritical, "meta_tags", model.ImpactHigh, "Missing page title")
	}
	if r.Description == "" {
		add(model.IssueWarning, "meta_tags", model.ImpactMedium, "Missing meta description")
	}
	switch {
	case r.Structure.H1 == 0:
		add(model.IssueWarning, "structure", model.ImpactMedium, "No H1 heading")
	case r.Structure.H1 > 1:
		add(model.IssueWarning, "structure", model.ImpactMedium,
			fmt.Sprintf("Multiple H1 headings (%d)", r.Structure.H1))
	}
	if metaTag(r.MetaTags, "viewport") == "" {
		add(model.IssueWarning, "mobile", model.ImpactMedium, "Missing viewport meta tag")
	}
	if r.Structure.ImagesWithoutAlt > 0 {
		add(model.IssueWarning, "accessibility", model.ImpactMedium,
			fmt.Sprintf("%d images without alt text", r.Structure.ImagesWithoutAlt))
	}
	if !r.SitemapPresent {
		add(model.IssueInfo, "sitemap", model.ImpactLow, "No sitemap found")
	}
	if !r.RobotsPresent {
		add(model.IssueInfo, "robots", model.ImpactLow, "No robots.txt found")
	}
	return issues
}
