package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// French numbers, national or +33/0033 prefixed, with optional
	// space, dot or dash separators between digit pairs.
	phoneRe = regexp.MustCompile(`(?:\+33\s?\(?0?\)?\s?|0033\s?|\b0)[1-9](?:[\s.\-]?\d{2}){4}\b`)
)

// Suffixes that the email pattern matches on asset names like logo@2x.png.
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ExtractEmails returns the lowercase email addresses found in text, sorted
// and deduplicated. When domain is non-empty only addresses containing it
// are kept.
func ExtractEmails(text, domain string) []string {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	seen := make(map[string]struct{})
	for _, m := range emailRe.FindAllString(text, -1) {
		e := strings.ToLower(strings.Trim(m, "."))
		if isAssetName(e) {
			continue
		}
		if domain != "" && !strings.Contains(e, domain) {
			continue
		}
		seen[e] = struct{}{}
	}
	return sortedKeys(seen)
}

// PageEmails collects addresses from the page text, raw markup and mailto
// links.
func PageEmails(p *Page, domain string) []string {
	var b strings.Builder
	b.WriteString(p.Text())
	b.WriteByte(' ')
	b.WriteString(p.HTML)
	p.Doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if dec, err := url.PathUnescape(addr); err == nil {
			addr = dec
		}
		b.WriteByte(' ')
		b.WriteString(addr)
	})
	return ExtractEmails(b.String(), domain)
}

func isAssetName(e string) bool {
	for _, s := range assetSuffixes {
		if strings.HasSuffix(e, s) {
			return true
		}
	}
	return false
}

// ExtractPhones returns French phone numbers found in the page text and in
// tel: links, normalized to "0X XX XX XX XX".
func ExtractPhones(p *Page) []string {
	seen := make(map[string]struct{})
	add := func(raw string) {
		if n := NormalizePhone(raw); n != "" {
			seen[n] = struct{}{}
		}
	}
	for _, m := range phoneRe.FindAllString(p.Text(), -1) {
		add(m)
	}
	p.Doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(strings.TrimPrefix(href, "tel:"))
	})
	return sortedKeys(seen)
}

// NormalizePhone reduces a French phone number to its ten national digits
// grouped in pairs. It returns "" when raw is not a French number.
func NormalizePhone(raw string) string {
	var digits []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	d := string(digits)
	switch {
	case strings.HasPrefix(strings.TrimSpace(raw), "+33"):
		d = strings.TrimPrefix(d, "33")
		d = "0" + strings.TrimPrefix(d, "0")
	case strings.HasPrefix(d, "0033"):
		d = "0" + strings.TrimPrefix(d[4:], "0")
	}
	if len(d) != 10 || d[0] != '0' || d[1] == '0' {
		return ""
	}
	return d[0:2] + " " + d[2:4] + " " + d[4:6] + " " + d[6:8] + " " + d[8:10]
}

var contactTokens = []string{"contact", "nous-contacter", "about", "a-propos", "equipe", "team"}

// FindContactPage returns the first link whose href or text names a
// contact, about or team page.
func FindContactPage(p *Page) string {
	var found string
	p.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		hay := strings.ToLower(href + " " + s.Text())
		for _, tok := range contactTokens {
			if strings.Contains(hay, tok) {
				if abs := p.Resolve(href); abs != "" {
					found = abs
					return false
				}
			}
		}
		return true
	})
	return found
}

type socialPattern struct {
	platform string
	hosts    []string
}

var socialPatterns = []socialPattern{
	{"linkedin", []string{"linkedin.com"}},
	{"facebook", []string{"facebook.com", "fb.com"}},
	{"twitter", []string{"twitter.com", "x.com"}},
	{"instagram", []string{"instagram.com"}},
	{"youtube", []string{"youtube.com", "youtu.be"}},
}

// Paths on social hosts that never identify a profile.
var socialNoise = []string{"/sharer", "/share", "/intent/", "/dialog/", "/plugins/"}

// ExtractSocialLinks returns the first profile link per platform.
func ExtractSocialLinks(p *Page) map[string]string {
	out := make(map[string]string)
	p.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := p.Resolve(href)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil {
			return
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		for _, sp := range socialPatterns {
			if _, done := out[sp.platform]; done {
				continue
			}
			if !matchesHost(host, sp.hosts) || isSocialNoise(u.Path) {
				continue
			}
			out[sp.platform] = abs
		}
	})
	return out
}

// SocialPlatform returns the platform name of a profile URL on one of the
// recognized social hosts, or "".
func SocialPlatform(profileURL string) string {
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, sp := range socialPatterns {
		if matchesHost(host, sp.hosts) {
			return sp.platform
		}
	}
	return ""
}

// SocialUsername returns the first path segment of a profile URL, skipping
// the "company", "in", "user" and "channel" prefixes.
func SocialUsername(profileURL string) string {
	u, err := url.Parse(profileURL)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		switch seg {
		case "", "company", "in", "user", "channel", "c", "pages":
			continue
		}
		return strings.TrimPrefix(seg, "@")
	}
	return ""
}

func matchesHost(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func isSocialNoise(path string) bool {
	for _, n := range socialNoise {
		if strings.Contains(path, n) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
