package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
)

func TestSQLite_Technical_SaveLatestUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "T", Website: "https://t.example"})

	report := &model.TechnicalReport{
		URL:             "https://t.example",
		Domain:          "t.example",
		Server:          model.ServerInfo{Type: "nginx", Version: "1.18"},
		CMS:             "WordPress",
		CMSPlugins:      []model.CMSPlugin{{Name: "yoast", Version: "20.1"}},
		Analytics:       []string{"Google Analytics"},
		SecurityHeaders: map[string]string{"strict-transport-security": "max-age=1"},
		SSL:             &model.SSLInfo{Valid: true, DaysToExpiry: 30},
		SecurityScore:   55,
	}
	id, err := st.SaveTechnical(ctx, cid, "https://t.example", report)
	require.NoError(t, err)

	rec, err := st.LatestTechnical(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "t.example", rec.Domain)
	assert.Equal(t, "nginx", rec.Report.Server.Type)
	assert.Equal(t, []model.CMSPlugin{{Name: "yoast", Version: "20.1"}}, rec.Report.CMSPlugins)
	assert.Equal(t, "max-age=1", rec.Report.SecurityHeaders["strict-transport-security"])
	assert.Equal(t, []string{"Google Analytics"}, rec.Report.Analytics)

	report.CMSPlugins = nil
	report.SecurityScore = 80
	newID, err := st.UpdateTechnical(ctx, id, report)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)
	assert.Equal(t, 1, countRows(t, st, "technical_analyses"))
	assert.Zero(t, countRows(t, st, "technical_cms_plugins"))

	rec, err = st.LatestTechnical(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, 80, rec.Report.SecurityScore)

	_, err = st.UpdateTechnical(ctx, id, report)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_OSINT_SaveLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "O"})

	_, err := st.SaveOSINT(ctx, cid, "https://o.example", &model.OSINTReport{
		Domain:     "o.example",
		Subdomains: []string{"www.o.example", "mail.o.example"},
		DNSRecords: []model.DNSRecord{{Type: "MX", Value: "mx.o.example"}},
		Emails:     []model.OSINTEmail{{Email: "info@o.example", Source: "website"}},
		People:     []model.OSINTPerson{{Name: "Jean Dupont", Level: 1}},
	})
	require.NoError(t, err)

	rec, err := st.LatestOSINT(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []string{"www.o.example", "mail.o.example"}, rec.Report.Subdomains)
	assert.Equal(t, "MX", rec.Report.DNSRecords[0].Type)
	assert.Equal(t, "website", rec.Report.Emails[0].Source)
	require.Len(t, rec.Report.People, 1)

	var people, subs int
	require.NoError(t, st.DB().QueryRow(`SELECT people, subdomains_count FROM osint_analyses`).Scan(&people, &subs))
	assert.Equal(t, 1, people)
	assert.Equal(t, 2, subs)
}

func TestSQLite_Pentest_ClampsAndProjects(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "P"})

	_, err := st.SavePentest(ctx, cid, "https://p.example", &model.PentestReport{
		Domain: "p.example",
		Vulnerabilities: []model.Vulnerability{
			{Name: "Missing HSTS", Severity: model.SeverityMedium},
			{Name: "Exposed .git", Severity: model.SeverityCritical},
		},
		SecurityHeaders: []model.HeaderCheck{{Name: "x-frame-options", Present: false, Severity: model.SeverityMedium}},
		OpenPorts:       []model.Port{{Port: 443, Protocol: "tcp", State: "open"}, {Port: 22, Protocol: "tcp", State: "open"}},
		CriticalCount:   1,
		RiskScore:       180,
	})
	require.NoError(t, err)

	var risk int
	require.NoError(t, st.DB().QueryRow(`SELECT risk_score FROM pentest_analyses`).Scan(&risk))
	assert.Equal(t, 100, risk)
	assert.Equal(t, 1, countRows(t, st, "pentest_security_headers"))

	rec, err := st.LatestPentest(ctx, cid)
	require.NoError(t, err)
	assert.Len(t, rec.Report.Vulnerabilities, 2)
	assert.Equal(t, 22, rec.Report.OpenPorts[0].Port)
}

func TestSQLite_SEO_NonFiniteLighthouse(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "S"})

	nan := math.NaN()
	_, err := st.SaveSEO(ctx, cid, "https://s.example", &model.SEOReport{
		Domain:     "s.example",
		Score:      72,
		Lighthouse: &model.LighthouseScores{SEO: &nan},
		MetaTags:   []model.MetaTag{{Name: "description", Content: "Bakery"}},
		Issues:     []model.SEOIssue{{Type: model.IssueInfo, Impact: model.ImpactLow, Message: "No sitemap.xml"}},
	})
	require.NoError(t, err)

	rec, err := st.LatestSEO(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, 72, rec.Report.Score)
	assert.Len(t, rec.Report.Issues, 1)
	assert.Equal(t, "Bakery", rec.Report.MetaTags[0].Content)
	if rec.Report.Lighthouse != nil {
		assert.Nil(t, rec.Report.Lighthouse.SEO)
	}
}

func TestSQLite_DeleteProbes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "D"})

	_, err := st.SaveSEO(ctx, cid, "https://d.example", &model.SEOReport{Domain: "d.example"})
	require.NoError(t, err)
	_, err = st.SaveOSINT(ctx, cid, "https://d.example", &model.OSINTReport{Domain: "d.example"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteProbes(ctx, cid, model.ProbeSEO))
	_, err = st.LatestSEO(ctx, cid)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.LatestOSINT(ctx, cid)
	require.NoError(t, err)

	require.NoError(t, st.DeleteProbes(ctx, cid, ""))
	assert.Zero(t, countRows(t, st, "osint_analyses"))
	require.Error(t, st.DeleteProbes(ctx, cid, "bogus"))
}

func TestSQLite_ProbeSave_ReplacesPrevious(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "R"})
	other := mustCompany(t, st, model.CompanyInput{Name: "Other"})

	_, err := st.SaveSEO(ctx, other, "https://other.example", &model.SEOReport{Score: 10})
	require.NoError(t, err)
	for i, issue := range []string{"missing title", "missing description"} {
		_, err := st.SaveSEO(ctx, cid, "https://r.example", &model.SEOReport{
			Score:  50 + i,
			Issues: []model.SEOIssue{{Type: "error", Category: "meta", Message: issue}},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, countRows(t, st, "seo_analyses"))
	assert.Equal(t, 1, countRows(t, st, "seo_issues"))
	rec, err := st.LatestSEO(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, 51, rec.Report.Score)
	require.Len(t, rec.Report.Issues, 1)
	assert.Equal(t, "missing description", rec.Report.Issues[0].Message)
}

func TestSQLite_ProbeLatest_ReadsChildTables(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cid := mustCompany(t, st, model.CompanyInput{Name: "C"})

	techID, err := st.SaveTechnical(ctx, cid, "https://c.example", &model.TechnicalReport{
		CMSPlugins: []model.CMSPlugin{{Name: "yoast"}},
	})
	require.NoError(t, err)
	osintID, err := st.SaveOSINT(ctx, cid, "https://c.example", &model.OSINTReport{Subdomains: []string{"www.c.example"}})
	require.NoError(t, err)
	pentestID, err := st.SavePentest(ctx, cid, "https://c.example", &model.PentestReport{})
	require.NoError(t, err)

	// Rows added behind the report blob must show up in the merged report.
	_, err = st.DB().ExecContext(ctx, `INSERT INTO technical_cms_plugins (analysis_id, name, version) VALUES (?, 'woocommerce', '8.0')`, techID)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO osint_subdomains (analysis_id, subdomain) VALUES (?, 'mail.c.example')`, osintID)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx,
		`INSERT INTO pentest_open_ports (analysis_id, port, protocol, state, service, version) VALUES (?, 8080, 'tcp', 'open', 'http', '')`, pentestID)
	require.NoError(t, err)

	tech, err := st.LatestTechnical(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []model.CMSPlugin{{Name: "yoast"}, {Name: "woocommerce", Version: "8.0"}}, tech.Report.CMSPlugins)

	osint, err := st.LatestOSINT(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []string{"www.c.example", "mail.c.example"}, osint.Report.Subdomains)

	pentest, err := st.LatestPentest(ctx, cid)
	require.NoError(t, err)
	require.Len(t, pentest.Report.OpenPorts, 1)
	assert.Equal(t, 8080, pentest.Report.OpenPorts[0].Port)
}
