package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
)

// severityWeights is the contribution of one finding to the risk score.
var severityWeights = map[string]int{
	model.SeverityCritical: 25,
	model.SeverityHigh:     15,
	model.SeverityMedium:   8,
	model.SeverityLow:      3,
}

// missingHeaderSeverity is the severity of an absent security header.
var missingHeaderSeverity = map[string]string{
	"Strict-Transport-Security": model.SeverityMedium,
	"Content-Security-Policy":   model.SeverityMedium,
	"X-Frame-Options":           model.SeverityMedium,
	"X-Content-Type-Options":    model.SeverityLow,
	"Referrer-Policy":           model.SeverityLow,
	"Permissions-Policy":        model.SeverityLow,
	"X-XSS-Protection":          model.SeverityInfo,
}

// exposedPath is a well-known path that must not be publicly readable.
// match inspects a 200 response; binary reports whether a non-textual
// response proves exposure on its own.
type exposedPath struct {
	path     string
	name     string
	severity string
	binary   bool
	match    func(body string) bool
}

func containsAny(subs ...string) func(string) bool {
	return func(body string) bool {
		for _, s := range subs {
			if strings.Contains(body, s) {
				return true
			}
		}
		return false
	}
}

var exposedPaths = []exposedPath{
	{"/.git/HEAD", "Exposed Git repository", model.SeverityCritical, true, func(b string) bool {
		return strings.HasPrefix(strings.TrimSpace(b), "ref:")
	}},
	{"/.env", "Exposed environment file", model.SeverityCritical, true, func(b string) bool {
		return !looksHTML(b) && strings.Contains(b, "=")
	}},
	{"/wp-config.php.bak", "Exposed WordPress configuration backup", model.SeverityCritical, true, containsAny("DB_PASSWORD", "DB_NAME")},
	{"/backup.zip", "Exposed site backup", model.SeverityHigh, true, func(b string) bool {
		return strings.HasPrefix(b, "PK")
	}},
	{"/backup.sql", "Exposed database dump", model.SeverityCritical, true, containsAny("CREATE TABLE", "INSERT INTO")},
	{"/phpinfo.php", "Exposed phpinfo page", model.SeverityHigh, false, containsAny("phpinfo()", "PHP Version")},
	{"/server-status", "Exposed Apache server status", model.SeverityMedium, false, containsAny("Apache Server Status")},
	{"/wp-login.php", "Public WordPress login", model.SeverityLow, false, containsAny("user_login", "wp-submit")},
	{"/administrator/", "Public Joomla administrator login", model.SeverityLow, false, containsAny("Joomla", "mod-login-username")},
}

func looksHTML(body string) bool {
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype") || strings.Contains(head, "<html")
}

// riskyPorts are services that should not face the internet.
var riskyPorts = map[int]struct {
	service  string
	severity string
}{
	21:    {"FTP", model.SeverityMedium},
	23:    {"Telnet", model.SeverityHigh},
	445:   {"SMB", model.SeverityHigh},
	1433:  {"SQL Server", model.SeverityHigh},
	3306:  {"MySQL", model.SeverityHigh},
	3389:  {"RDP", model.SeverityHigh},
	5432:  {"PostgreSQL", model.SeverityHigh},
	5900:  {"VNC", model.SeverityHigh},
	6379:  {"Redis", model.SeverityHigh},
	9200:  {"Elasticsearch", model.SeverityHigh},
	11211: {"Memcached", model.SeverityMedium},
	27017: {"MongoDB", model.SeverityHigh},
}

// outdatedCMS lists the first supported major version of each CMS.
var outdatedCMS = map[string]int{
	"WordPress": 6,
	"Joomla":    4,
	"Drupal":    9,
}

// Pentest runs the non-intrusive security probe: header review, version
// disclosure, known-outdated software, exposed files, TLS and risky
// open ports.
func (p *Prober) Pentest(ctx context.Context, t Target, progress ProgressFunc) (*model.PentestReport, error) {
	rawURL, domain, err := prepare(t)
	if err != nil {
		return nil, err
	}
	r := &model.PentestReport{
		URL:                rawURL,
		Domain:             domain,
		Vulnerabilities:    []model.Vulnerability{},
		SecurityHeaders:    []model.HeaderCheck{},
		CMSVulnerabilities: []model.CMSVulnerability{},
		OpenPorts:          []model.Port{},
		Diagnostic:         model.Diagnostic{Tools: p.d.Caps.Snapshot(ToolNmap, ToolSSLScan)},
	}
	s := p.newSession(model.ProbePentest, t, progress, &r.Diagnostic, 6)

	var (
		h    *home
		tech = &model.TechnicalReport{SecurityHeaders: map[string]string{}}
		host = domain
	)
	ok := s.step(ctx, "page", func(ctx context.Context) error {
		h, err = p.fetchHome(ctx, rawURL)
		if err != nil {
			return err
		}
		host = h.base.Hostname()
		p.analyzeHeaders(tech, h)
		p.analyzeMarkup(tech, h)
		r.SecurityHeaders = HeaderChecks(h.page.Header)
		for _, hc := range r.SecurityHeaders {
			if !hc.Present && hc.Severity != model.SeverityInfo {
				r.Vulnerabilities = append(r.Vulnerabilities, model.Vulnerability{
					Name:           "Missing " + hc.Name + " header",
					Severity:       hc.Severity,
					Recommendation: "Send the " + hc.Name + " response header.",
				})
			}
		}
		r.Vulnerabilities = append(r.Vulnerabilities, Disclosures(tech)...)
		return nil
	})
	ok = ok && s.step(ctx, "cms", func(context.Context) error {
		r.CMSVulnerabilities = append(r.CMSVulnerabilities, OutdatedSoftware(tech)...)
		return nil
	})
	ok = ok && s.step(ctx, "exposed_paths", func(ctx context.Context) error {
		found, err := p.exposedFiles(ctx, h, rawURL)
		r.Vulnerabilities = append(r.Vulnerabilities, found...)
		return err
	})
	ok = ok && s.step(ctx, "tls", func(ctx context.Context) error {
		// Without a landing page the scheme is unknown; only the
		// certificate is judged.
		secure := h == nil || h.base.Scheme == "https"
		if h != nil && h.page.TLS != nil {
			r.TLS = SSLFromState(h.page.TLS, p.d.Now())
		}
		if r.TLS == nil {
			info, err := p.d.Certs.Inspect(ctx, host)
			if err != nil {
				if !secure {
					r.Vulnerabilities = append(r.Vulnerabilities, model.Vulnerability{
						Name:           "HTTPS not available",
						Severity:       model.SeverityHigh,
						Recommendation: "Serve the site over HTTPS with a valid certificate.",
					})
					return nil
				}
				return err
			}
			r.TLS = info
		}
		r.Vulnerabilities = append(r.Vulnerabilities, TLSFindings(r.TLS, secure)...)
		return nil
	})
	ok = ok && s.step(ctx, "ports", func(ctx context.Context) error {
		if !p.d.Caps.Has(ToolNmap) {
			return nil
		}
		addrs, err := p.d.Resolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			return err
		}
		out, err := runTool(ctx, p.d.Runner, p.d.Budgets.Nmap, ToolNmap,
			"-F", "-sV", "--version-intensity", "0", addrs[0].IP.String())
		ports, _ := ParseNmap(string(out))
		if err != nil && len(ports) == 0 {
			return err
		}
		for _, port := range ports {
			if port.State != "open" {
				continue
			}
			r.OpenPorts = append(r.OpenPorts, port)
			if rp, risky := riskyPorts[port.Port]; risky {
				r.Vulnerabilities = append(r.Vulnerabilities, model.Vulnerability{
					Name:           fmt.Sprintf("%s exposed on port %d", rp.service, port.Port),
					Severity:       rp.severity,
					Evidence:       strings.TrimSpace(port.Service + " " + port.Version),
					Recommendation: "Restrict the service to trusted networks.",
				})
			}
		}
		return nil
	})
	ok = ok && s.step(ctx, "score", func(context.Context) error {
		r.CriticalCount, r.HighCount, r.RiskScore = RiskScore(r)
		return nil
	})
	if !ok {
		return r, ctx.Err()
	}
	return r, nil
}

// HeaderChecks evaluates the security headers of a response.
func HeaderChecks(h http.Header) []model.HeaderCheck {
	checks := make([]model.HeaderCheck, 0, len(securityHeaders))
	for _, sh := range securityHeaders {
		v := strings.TrimSpace(h.Get(sh.name))
		hc := model.HeaderCheck{Name: sh.name, Present: v != "", Value: v}
		if !hc.Present {
			hc.Severity = missingHeaderSeverity[sh.name]
		}
		checks = append(checks, hc)
	}
	return checks
}

// Disclosures reports software versions leaked by response headers.
func Disclosures(tech *model.TechnicalReport) []model.Vulnerability {
	var out []model.Vulnerability
	if tech.Server.Version != "" {
		out = append(out, model.Vulnerability{
			Name:           "Server version disclosure",
			Severity:       model.SeverityLow,
			Evidence:       strings.TrimSpace(tech.Server.Type + " " + tech.Server.Version),
			Recommendation: "Hide the version in the Server header.",
		})
	}
	if tech.PoweredBy != "" {
		out = append(out, model.Vulnerability{
			Name:           "X-Powered-By disclosure",
			Severity:       model.SeverityLow,
			Evidence:       tech.PoweredBy,
			Recommendation: "Remove the X-Powered-By header.",
		})
	}
	if tech.AspNetVersion != "" {
		out = append(out, model.Vulnerability{
			Name:           "ASP.NET version disclosure",
			Severity:       model.SeverityLow,
			Evidence:       tech.AspNetVersion,
			Recommendation: "Remove the X-AspNet-Version header.",
		})
	}
	return out
}

// OutdatedSoftware flags CMS and PHP versions past end of support.
func OutdatedSoftware(tech *model.TechnicalReport) []model.CMSVulnerability {
	var out []model.CMSVulnerability
	if minMajor, known := outdatedCMS[tech.CMS]; known && tech.CMSVersion != "" {
		if major, ok := majorVersion(tech.CMSVersion); ok && major < minMajor {
			out = append(out, model.CMSVulnerability{
				CMS:      tech.CMS,
				Version:  tech.CMSVersion,
				Issue:    fmt.Sprintf("%s %s is no longer supported", tech.CMS, tech.CMSVersion),
				Severity: model.SeverityHigh,
			})
		}
	}
	if tech.CMS == "WordPress" && tech.CMSVersion != "" {
		out = append(out, model.CMSVulnerability{
			CMS:      tech.CMS,
			Version:  tech.CMSVersion,
			Issue:    "WordPress version exposed in page markup",
			Severity: model.SeverityLow,
		})
	}
	if tech.PHPVersion != "" {
		if major, ok := majorVersion(tech.PHPVersion); ok && major < 8 {
			out = append(out, model.CMSVulnerability{
				CMS:      "PHP",
				Version:  tech.PHPVersion,
				Issue:    fmt.Sprintf("PHP %s is no longer supported", tech.PHPVersion),
				Severity: model.SeverityMedium,
			})
		}
	}
	return out
}

func majorVersion(v string) (int, bool) {
	head, _, _ := strings.Cut(strings.TrimSpace(v), ".")
	n, err := strconv.Atoi(head)
	return n, err == nil
}

// TLSFindings reports certificate and protocol weaknesses.
func TLSFindings(info *model.SSLInfo, secure bool) []model.Vulnerability {
	var out []model.Vulnerability
	if !secure {
		out = append(out, model.Vulnerability{
			Name:           "Site not served over HTTPS",
			Severity:       model.SeverityHigh,
			Recommendation: "Redirect HTTP to HTTPS.",
		})
	}
	if info == nil {
		return out
	}
	switch {
	case !info.Valid:
		out = append(out, model.Vulnerability{
			Name:           "Invalid TLS certificate",
			Severity:       model.SeverityHigh,
			Evidence:       info.Error,
			Recommendation: "Install a certificate trusted by browsers.",
		})
	case info.DaysToExpiry < 15:
		out = append(out, model.Vulnerability{
			Name:           "TLS certificate expires soon",
			Severity:       model.SeverityMedium,
			Evidence:       fmt.Sprintf("%d days left", info.DaysToExpiry),
			Recommendation: "Renew the certificate.",
		})
	}
	if info.Protocol == "TLS 1.0" || info.Protocol == "TLS 1.1" {
		out = append(out, model.Vulnerability{
			Name:           "Deprecated TLS protocol",
			Severity:       model.SeverityMedium,
			Evidence:       info.Protocol,
			Recommendation: "Disable TLS 1.0 and 1.1.",
		})
	}
	return out
}

// RiskScore counts critical and high findings and sums the severity
// weights of every finding, capped at 100.
func RiskScore(r *model.PentestReport) (critical, high, score int) {
	add := func(sev string) {
		switch sev {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		}
		score += severityWeights[sev]
	}
	for _, v := range r.Vulnerabilities {
		add(v.Severity)
	}
	for _, v := range r.CMSVulnerabilities {
		add(v.Severity)
	}
	return critical, high, min(score, 100)
}

// exposedFiles checks the well-known sensitive paths, four at a time.
func (p *Prober) exposedFiles(ctx context.Context, h *home, rawURL string) ([]model.Vulnerability, error) {
	hits := make([]*model.Vulnerability, len(exposedPaths))
	errs := make([]error, len(exposedPaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ep := range exposedPaths {
		target := siteURL(h, rawURL, ep.path)
		if target == "" {
			continue
		}
		g.Go(func() error {
			hits[i], errs[i] = p.checkPath(gctx, target, ep)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out     []model.Vulnerability
		lastErr error
	)
	for i := range exposedPaths {
		if hits[i] != nil {
			out = append(out, *hits[i])
		}
		if errs[i] != nil {
			lastErr = errs[i]
		}
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, lastErr
}

func (p *Prober) checkPath(ctx context.Context, target string, ep exposedPath) (*model.Vulnerability, error) {
	page, err := p.d.Fetcher.Get(ctx, target)
	if err != nil {
		switch fetcher.KindOf(err) {
		case fetcher.ErrKindHTTP4xx, fetcher.ErrKindHTTP5xx:
			return nil, nil
		case fetcher.ErrKindContentType:
			if ep.binary {
				return exposure(target, ep, "binary content"), nil
			}
			return nil, nil
		}
		return nil, err
	}
	if page.FinalURL != "" && page.FinalURL != target {
		if u, perr := url.Parse(page.FinalURL); perr == nil && u.Path != ep.path {
			return nil, nil
		}
	}
	if ep.match(string(page.Body)) {
		return exposure(target, ep, fmt.Sprintf("HTTP %d", page.StatusCode)), nil
	}
	return nil, nil
}

func exposure(target string, ep exposedPath, evidence string) *model.Vulnerability {
	return &model.Vulnerability{
		Name:           ep.name,
		Severity:       ep.severity,
		Description:    target + " is publicly reachable.",
		Evidence:       evidence,
		Recommendation: "Block access to " + ep.path + ".",
	}
}
