package probe

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// securityHeaders are the response headers evaluated by the technical and
// pentest probes, with their weight in the security score.
var securityHeaders = []struct {
	name   string
	weight int
}{
	{"Strict-Transport-Security", 15},
	{"Content-Security-Policy", 15},
	{"X-Frame-Options", 10},
	{"X-Content-Type-Options", 10},
	{"Referrer-Policy", 5},
	{"Permissions-Policy", 5},
	{"X-XSS-Protection", 0},
}

// Technical runs the technical probe.
func (p *Prober) Technical(ctx context.Context, t Target, progress ProgressFunc) (*model.TechnicalReport, error) {
	rawURL, domain, err := prepare(t)
	if err != nil {
		return nil, err
	}
	r := &model.TechnicalReport{
		URL:             rawURL,
		Domain:          domain,
		CMSPlugins:      []model.CMSPlugin{},
		Analytics:       []string{},
		SecurityHeaders: map[string]string{},
		Diagnostic:      model.Diagnostic{Tools: p.d.Caps.Snapshot(ToolNmap, ToolWhatWeb, ToolSSLScan)},
	}
	s := p.newSession(model.ProbeTechnical, t, progress, &r.Diagnostic, 7)

	var h *home
	host := domain
	ok := s.step(ctx, "page", func(ctx context.Context) error {
		h, err = p.fetchHome(ctx, rawURL)
		if err != nil {
			return err
		}
		host = h.base.Hostname()
		p.analyzeHeaders(r, h)
		p.analyzeMarkup(r, h)
		return nil
	})
	ok = ok && s.step(ctx, "dns", func(ctx context.Context) error {
		addrs, err := p.d.Resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return eris.Wrapf(err, "probe: resolve %s", host)
		}
		if len(addrs) == 0 {
			return eris.Errorf("probe: no address for %s", host)
		}
		r.IP = addrs[0].IP.String()
		names, err := p.d.Resolver.LookupAddr(ctx, r.IP)
		if err == nil && len(names) > 0 {
			r.Hostname = strings.TrimSuffix(names[0], ".")
			r.Hosting = HostingFromPTR(r.Hostname)
		}
		if r.Hosting == "" && r.CDN != "" {
			r.Hosting = r.CDN
		}
		return nil
	})
	ok = ok && s.step(ctx, "whois", func(ctx context.Context) error {
		info, err := p.d.Whois.Lookup(ctx, registrable(domain))
		if err != nil {
			return err
		}
		r.Whois = info
		return nil
	})
	ok = ok && s.step(ctx, "ssl", func(ctx context.Context) error {
		if h != nil && h.page.TLS != nil {
			r.SSL = SSLFromState(h.page.TLS, p.d.Now())
			return nil
		}
		info, err := p.d.Certs.Inspect(ctx, host)
		if err != nil {
			return err
		}
		r.SSL = info
		return nil
	})
	ok = ok && s.step(ctx, "robots", func(ctx context.Context) error {
		var err error
		r.Robots, err = p.robots(ctx, h, rawURL)
		return err
	})
	ok = ok && s.step(ctx, "sitemap", func(ctx context.Context) error {
		var err error
		r.SitemapPresent, r.SitemapURLs, err = p.sitemap(ctx, h, rawURL, r.Robots)
		return err
	})
	ok = ok && s.step(ctx, "nmap", func(ctx context.Context) error {
		if !p.d.Caps.Has(ToolNmap) || r.IP == "" {
			return nil
		}
		out, err := runTool(ctx, p.d.Runner, p.d.Budgets.Nmap, ToolNmap,
			"-F", "-sV", "--version-intensity", "0", "-O", "--osscan-guess", r.IP)
		r.Ports, r.OSGuess = ParseNmap(string(out))
		if err != nil && len(r.Ports) == 0 {
			return err
		}
		return nil
	})
	if !ok {
		return r, ctx.Err()
	}

	if r.Server.OS == "" && r.OSGuess != "" {
		r.Server.OS = r.OSGuess
	}
	r.SecurityScore = SecurityScore(r)
	if h != nil {
		perf := PerformanceScore(h.page.Header, h.page.Body, h.doc.Doc)
		r.PerformanceScore = &perf
	}
	return r, nil
}

func (p *Prober) analyzeHeaders(r *model.TechnicalReport, h *home) {
	r.StatusCode = h.page.StatusCode
	r.Server = ParseServer(headerValue(h, "Server"))
	r.PoweredBy = headerValue(h, "X-Powered-By")
	r.AspNetVersion = headerValue(h, "X-AspNet-Version")
	r.PHPVersion = headerValue(h, "X-PHP-Version")
	if r.PHPVersion == "" {
		if m := phpVersionRe.FindStringSubmatch(r.PoweredBy); m != nil {
			r.PHPVersion = m[1]
		}
	}
	r.LastModified = headerValue(h, "Last-Modified")
	for _, sh := range securityHeaders {
		if v := headerValue(h, sh.name); v != "" {
			r.SecurityHeaders[sh.name] = v
		}
	}
	r.WAF = DetectWAF(h.page.Header)
	r.CDN = DetectCDN(h.page.Header)
}

func (p *Prober) analyzeMarkup(r *model.TechnicalReport, h *home) {
	for _, tech := range p.d.Signatures.Detect(h.doc, h.page.Header) {
		switch tech.Category {
		case "cms":
			if r.CMS == "" {
				r.CMS, r.CMSVersion = tech.Name, tech.Version
			}
		case "analytics":
			r.Analytics = append(r.Analytics, tech.Name)
		case "cdn":
			if r.CDN == "" {
				r.CDN = tech.Name
			}
		case "server":
		default:
			r.Frameworks = append(r.Frameworks, tech)
		}
	}
	if r.CMS == "WordPress" {
		if r.CMSVersion == "" {
			if m := wpVersionRe.FindStringSubmatch(h.doc.HTML); m != nil {
				r.CMSVersion = m[1]
			}
		}
		r.CMSPlugins = WordPressPlugins(h.doc.HTML)
	}

	doc := h.doc.Doc
	r.Assets = model.AssetCounts{
		Scripts:     doc.Find("script[src]").Length(),
		Stylesheets: doc.Find(`link[rel="stylesheet"]`).Length(),
		Images:      doc.Find("img").Length(),
		Inline:      doc.Find("script:not([src])").Length(),
	}
}

var (
	serverVersionRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
	phpVersionRe    = regexp.MustCompile(`(?i)php/?\s*(\d+\.\d+(?:\.\d+)?)`)
	wpVersionRe     = regexp.MustCompile(`wp-includes/[^"'\s]+\?ver=(\d+\.\d+(?:\.\d+)?)`)
	wpPluginRe      = regexp.MustCompile(`wp-content/plugins/([a-z0-9_-]+)/[^"'\s]*?(?:\?ver=(\d+(?:\.\d+)+))?["'\s]`)
)

var serverTypes = []struct{ keyword, name string }{
	{"microsoft-iis", "IIS"},
	{"litespeed", "LiteSpeed"},
	{"lighttpd", "Lighttpd"},
	{"openresty", "OpenResty"},
	{"nginx", "Nginx"},
	{"apache", "Apache"},
	{"caddy", "Caddy"},
	{"cloudflare", "Cloudflare"},
}

var serverOS = []struct{ keyword, name string }{
	{"debian", "Debian"},
	{"ubuntu", "Ubuntu"},
	{"centos", "CentOS"},
	{"red hat", "Red Hat"},
	{"fedora", "Fedora"},
	{"win32", "Windows"},
	{"win64", "Windows"},
	{"windows", "Windows"},
	{"freebsd", "FreeBSD"},
	{"openbsd", "OpenBSD"},
	{"unix", "Unix"},
	{"linux", "Linux"},
}

// ParseServer splits a Server header into software, version and OS.
func ParseServer(header string) model.ServerInfo {
	lower := strings.ToLower(header)
	var info model.ServerInfo
	for _, st := range serverTypes {
		if strings.Contains(lower, st.keyword) {
			info.Type = st.name
			break
		}
	}
	if info.Type == "" && header != "" {
		info.Type = strings.Fields(header)[0]
		if i := strings.IndexByte(info.Type, '/'); i > 0 {
			info.Type = info.Type[:i]
		}
	}
	if m := serverVersionRe.FindStringSubmatch(header); m != nil {
		info.Version = m[1]
	}
	for _, so := range serverOS {
		if strings.Contains(lower, so.keyword) {
			info.OS = so.name
			break
		}
	}
	if info.OS == "" && info.Type == "IIS" {
		info.OS = "Windows"
	}
	return info
}

// knownPlugins maps markup markers to plugin slugs for plugins that are
// not always loaded from their own directory.
var knownPlugins = []struct{ marker, slug string }{
	{"yoast seo", "wordpress-seo"},
	{"elementor", "elementor"},
	{"woocommerce", "woocommerce"},
	{"wpcf7", "contact-form-7"},
	{"jetpack", "jetpack"},
	{"wp-rocket", "wp-rocket"},
	{"rank-math", "seo-by-rank-math"},
	{"wordfence", "wordfence"},
}

// WordPressPlugins lists the plugins referenced by a WordPress page, in
// first-seen order.
func WordPressPlugins(html string) []model.CMSPlugin {
	plugins := []model.CMSPlugin{}
	idx := map[string]int{}
	add := func(slug, version string) {
		if i, ok := idx[slug]; ok {
			if plugins[i].Version == "" {
				plugins[i].Version = version
			}
			return
		}
		idx[slug] = len(plugins)
		plugins = append(plugins, model.CMSPlugin{Name: slug, Version: version})
	}
	for _, m := range wpPluginRe.FindAllStringSubmatch(html, -1) {
		add(m[1], m[2])
	}
	lower := strings.ToLower(html)
	for _, kp := range knownPlugins {
		if strings.Contains(lower, kp.marker) {
			add(kp.slug, "")
		}
	}
	return plugins
}

var wafHeaders = []struct{ prefix, name string }{
	{"cf-ray", "Cloudflare"},
	{"x-sucuri-id", "Sucuri"},
	{"x-sucuri-cache", "Sucuri"},
	{"x-iinfo", "Incapsula"},
	{"x-akamai-transformed", "Akamai"},
	{"x-amzn-waf", "AWS WAF"},
	{"x-modsec", "ModSecurity"},
	{"x-wf-", "Wordfence"},
}

// DetectWAF names the web application firewall announced by the response
// headers.
func DetectWAF(h http.Header) string {
	for key := range h {
		k := strings.ToLower(key)
		for _, w := range wafHeaders {
			if strings.HasPrefix(k, w.prefix) {
				return w.name
			}
		}
	}
	if strings.Contains(strings.ToLower(h.Get("Server")), "sucuri") {
		return "Sucuri"
	}
	return ""
}

var cdnHeaders = []struct{ header, name string }{
	{"Cf-Ray", "Cloudflare"},
	{"X-Amz-Cf-Id", "CloudFront"},
	{"X-Fastly-Request-Id", "Fastly"},
	{"X-Akamai-Transformed", "Akamai"},
	{"X-Azure-Ref", "Azure Front Door"},
	{"X-Bunny-Cache", "BunnyCDN"},
}

// DetectCDN names the CDN serving the response.
func DetectCDN(h http.Header) string {
	for _, c := range cdnHeaders {
		if h.Get(c.header) != "" {
			return c.name
		}
	}
	via := strings.ToLower(h.Get("Via") + " " + h.Get("X-Served-By"))
	switch {
	case strings.Contains(via, "cloudfront"):
		return "CloudFront"
	case strings.Contains(via, "varnish"), strings.Contains(via, "cache-"):
		return "Fastly"
	}
	return ""
}

// SecurityScore rates the site's transport and header hygiene in [0,100].
func SecurityScore(r *model.TechnicalReport) int {
	score := 0
	for _, sh := range securityHeaders {
		if _, ok := r.SecurityHeaders[sh.name]; ok {
			score += sh.weight
		}
	}
	if r.SSL != nil && r.SSL.Valid {
		if r.SSL.DaysToExpiry >= 15 {
			score += 25
		} else {
			score += 15
		}
	}
	if r.Server.Version == "" {
		score += 10
	}
	if r.PoweredBy == "" {
		score += 5
	}
	return min(score, 100)
}

// PerformanceScore rates the landing page's delivery hints in [0,100].
func PerformanceScore(h http.Header, body []byte, doc *goquery.Document) int {
	score := 0
	switch strings.ToLower(h.Get("Content-Encoding")) {
	case "gzip", "br", "deflate", "zstd":
		score += 20
	}
	if h.Get("Cache-Control") != "" {
		score += 15
	}
	if h.Get("ETag") != "" || h.Get("Last-Modified") != "" {
		score += 10
	}
	if doc.Find(`img[loading="lazy"], iframe[loading="lazy"]`).Length() > 0 {
		score += 10
	}
	html := string(body)
	if strings.Contains(html, ".min.js") || strings.Contains(html, ".min.css") {
		score += 15
	}
	switch size := len(body); {
	case size < 500<<10:
		score += 15
	case size < 1<<20:
		score += 8
	}
	switch n := doc.Find("script").Length(); {
	case n <= 15:
		score += 15
	case n <= 30:
		score += 8
	}
	return min(score, 100)
}
