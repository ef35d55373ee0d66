package probe

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/fetcher/fetchertest"
	"github.com/sells-group/prospect-intel/internal/model"
)

func vulnNames(vs []model.Vulnerability) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Name)
	}
	return out
}

func TestPentest(t *testing.T) {
	f := fetchertest.New().
		Set("https://acme.fr", fetchertest.Response{
			Header: http.Header{
				"Server":                    {"Apache/2.4.41 (Ubuntu)"},
				"X-Powered-By":              {"PHP/7.4.3"},
				"Strict-Transport-Security": {"max-age=31536000"},
				"X-Content-Type-Options":    {"nosniff"},
			},
			Body: wordpressHome,
		}).
		Set("https://acme.fr/.git/HEAD", fetchertest.Response{ContentType: "text/plain", Body: "ref: refs/heads/main\n"}).
		Set("https://acme.fr/wp-login.php", fetchertest.Response{Body: `<form><input id="user_login"></form>`}).
		// Soft 404: the home page served for any path.
		Set("https://acme.fr/.env", fetchertest.Response{Body: wordpressHome}).
		Set("https://acme.fr/phpinfo.php", fetchertest.Response{Body: "<html>Not here</html>"})

	runner := &mockRunner{outputs: map[string]string{ToolNmap: "3306/tcp open mysql MySQL 5.7.33\n443/tcp open https\n"}}
	p := newTestProber(f, Deps{
		Runner:   runner,
		Caps:     NewCapabilities(map[string]bool{ToolNmap: true}),
		Resolver: &mockResolver{ips: map[string][]string{"acme.fr": {"203.0.113.10"}}},
		Certs:    &mockCerts{info: &model.SSLInfo{Valid: true, DaysToExpiry: 10, Protocol: "TLS 1.2"}},
	})

	var events collect
	r, err := p.Pentest(context.Background(), Target{URL: "https://acme.fr"}, events.add)
	require.NoError(t, err)

	names := vulnNames(r.Vulnerabilities)
	assert.Equal(t, []string{
		"Missing Content-Security-Policy header",
		"Missing X-Frame-Options header",
		"Missing Referrer-Policy header",
		"Missing Permissions-Policy header",
		"Server version disclosure",
		"X-Powered-By disclosure",
		"Exposed Git repository",
		"Public WordPress login",
		"TLS certificate expires soon",
		"MySQL exposed on port 3306",
	}, names)

	assert.Equal(t, []model.CMSVulnerability{
		{CMS: "WordPress", Version: "5.8.2", Issue: "WordPress 5.8.2 is no longer supported", Severity: model.SeverityHigh},
		{CMS: "WordPress", Version: "5.8.2", Issue: "WordPress version exposed in page markup", Severity: model.SeverityLow},
		{CMS: "PHP", Version: "7.4.3", Issue: "PHP 7.4.3 is no longer supported", Severity: model.SeverityMedium},
	}, r.CMSVulnerabilities)

	require.Len(t, r.SecurityHeaders, 7)
	assert.Equal(t, model.HeaderCheck{Name: "Strict-Transport-Security", Present: true, Value: "max-age=31536000"}, r.SecurityHeaders[0])
	assert.Equal(t, model.HeaderCheck{Name: "Content-Security-Policy", Severity: model.SeverityMedium}, r.SecurityHeaders[1])

	assert.Len(t, r.OpenPorts, 2)
	assert.Equal(t, 1, r.CriticalCount)
	assert.Equal(t, 2, r.HighCount)
	assert.Equal(t, 100, r.RiskScore)
	assert.Equal(t, []string{"page", "cms", "exposed_paths", "tls", "ports", "score"}, events.messages())
}

func TestPentest_CleanSite(t *testing.T) {
	f := fetchertest.New().Set("https://secure.fr", fetchertest.Response{
		Header: http.Header{
			"Strict-Transport-Security": {"max-age=63072000"},
			"Content-Security-Policy":   {"default-src 'self'"},
			"X-Frame-Options":           {"DENY"},
			"X-Content-Type-Options":    {"nosniff"},
			"Referrer-Policy":           {"no-referrer"},
			"Permissions-Policy":        {"geolocation=()"},
			"Server":                    {"nginx"},
		},
		Body: "<html><body><h1>Secure</h1></body></html>",
	})
	p := newTestProber(f, Deps{
		Certs: &mockCerts{info: &model.SSLInfo{Valid: true, DaysToExpiry: 80, Protocol: "TLS 1.3"}},
	})
	r, err := p.Pentest(context.Background(), Target{URL: "https://secure.fr"}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Vulnerabilities)
	assert.Empty(t, r.CMSVulnerabilities)
	assert.Equal(t, 0, r.RiskScore)
	assert.Empty(t, r.Diagnostic.Errors)
}

func TestPentest_PlainHTTP(t *testing.T) {
	f := fetchertest.New().Set("https://legacy.fr", fetchertest.Response{
		FinalURL: "http://legacy.fr/",
		Body:     "<html></html>",
	})
	p := newTestProber(f, Deps{})
	r, err := p.Pentest(context.Background(), Target{URL: "legacy.fr"}, nil)
	require.NoError(t, err)
	assert.Contains(t, vulnNames(r.Vulnerabilities), "HTTPS not available")
	assert.Nil(t, r.TLS)
}

func TestTLSFindings(t *testing.T) {
	tests := []struct {
		name   string
		info   *model.SSLInfo
		secure bool
		want   []string
	}{
		{"healthy", &model.SSLInfo{Valid: true, DaysToExpiry: 90, Protocol: "TLS 1.3"}, true, nil},
		{"invalid", &model.SSLInfo{Valid: false, DaysToExpiry: -3, Protocol: "TLS 1.2"}, true,
			[]string{"Invalid TLS certificate"}},
		{"old protocol", &model.SSLInfo{Valid: true, DaysToExpiry: 90, Protocol: "TLS 1.0"}, true,
			[]string{"Deprecated TLS protocol"}},
		{"http only", &model.SSLInfo{Valid: true, DaysToExpiry: 90, Protocol: "TLS 1.3"}, false,
			[]string{"Site not served over HTTPS"}},
		{"nothing", nil, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := vulnNames(TLSFindings(tt.info, tt.secure))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutdatedSoftware(t *testing.T) {
	assert.Empty(t, OutdatedSoftware(&model.TechnicalReport{CMS: "Drupal", CMSVersion: "10.1"}))
	assert.Len(t, OutdatedSoftware(&model.TechnicalReport{CMS: "Joomla", CMSVersion: "3.10.12"}), 1)
	assert.Empty(t, OutdatedSoftware(&model.TechnicalReport{CMS: "Joomla"}))
	assert.Empty(t, OutdatedSoftware(&model.TechnicalReport{PHPVersion: "8.2.1"}))
}

func TestRiskScore(t *testing.T) {
	r := &model.PentestReport{
		Vulnerabilities: []model.Vulnerability{
			{Severity: model.SeverityHigh},
			{Severity: model.SeverityMedium},
			{Severity: model.SeverityLow},
			{Severity: model.SeverityInfo},
		},
		CMSVulnerabilities: []model.CMSVulnerability{{Severity: model.SeverityCritical}},
	}
	critical, high, score := RiskScore(r)
	assert.Equal(t, 1, critical)
	assert.Equal(t, 1, high)
	assert.Equal(t, 25+15+8+3, score)

	for range 5 {
		r.Vulnerabilities = append(r.Vulnerabilities, model.Vulnerability{Severity: model.SeverityCritical})
	}
	_, _, score = RiskScore(r)
	assert.Equal(t, 100, score)
}
