package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Title returns the document title, falling back to og:title.
func Title(p *Page) string {
	if t := cleanText(p.Doc.Find("title").First().Text()); t != "" {
		return t
	}
	return metaContent(p.Doc, `meta[property="og:title"]`)
}

// Favicon returns the absolute favicon URL, defaulting to /favicon.ico on
// the page host.
func Favicon(p *Page) string {
	var found string
	p.Doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(attr(s, "rel"))
		if strings.Contains(rel, "icon") {
			found = p.Resolve(attr(s, "href"))
		}
		return found == ""
	})
	if found == "" && p.URL.Host != "" {
		found = p.Resolve("/favicon.ico")
	}
	return found
}

// OGImage returns the absolute og:image URL.
func OGImage(p *Page) string {
	return p.Resolve(metaContent(p.Doc, `meta[property="og:image"], meta[name="og:image"]`))
}

// Language returns the declared document language, lowercased.
func Language(p *Page) string {
	lang := attr(p.Doc.Find("html").First(), "lang", "xml:lang")
	if lang == "" {
		lang = metaContent(p.Doc, `meta[http-equiv="content-language"]`)
	}
	return strings.ToLower(lang)
}

// OpenGraph returns every og:* property keyed without its prefix.
func OpenGraph(p *Page) map[string]any {
	out := make(map[string]any)
	p.Doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop := strings.TrimPrefix(attr(s, "property"), "og:")
		content := attr(s, "content")
		if prop == "" || content == "" {
			return
		}
		if _, ok := out[prop]; !ok {
			out[prop] = content
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// Images returns the images of the page deduplicated by absolute URL.
// Tracking pixels and inline data URIs are skipped.
func Images(p *Page) []model.Image {
	seen := make(map[string]struct{})
	var out []model.Image
	p.Doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := p.Resolve(attr(s, "src", "data-src", "data-lazy-src"))
		if src == "" {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		w, h := dimension(s, "width"), dimension(s, "height")
		if (w != nil && *w <= 1) || (h != nil && *h <= 1) {
			return
		}
		seen[src] = struct{}{}
		out = append(out, model.Image{
			URL:     src,
			Alt:     attr(s, "alt"),
			PageURL: p.URL.String(),
			Width:   w,
			Height:  h,
		})
	})
	return out
}

func dimension(s *goquery.Selection, name string) *int {
	v := strings.TrimSuffix(attr(s, name), "px")
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// Metadata gathers the page-level fields of a SiteMetadata. Sector, size
// and responsible are left to the caller, which sees the whole site.
func Metadata(p *Page) model.SiteMetadata {
	return model.SiteMetadata{
		Title:       Title(p),
		Description: ExtractDescription(p),
		Logo:        ExtractLogo(p),
		Favicon:     Favicon(p),
		OGImage:     OGImage(p),
		ContactPage: FindContactPage(p),
		Language:    Language(p),
	}
}
