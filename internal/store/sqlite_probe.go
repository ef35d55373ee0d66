package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// probeTables maps each probe kind to its aggregate table.
var probeTables = map[model.ProbeKind]string{
	model.ProbeTechnical: "technical_analyses",
	model.ProbePentest:   "pentest_analyses",
	model.ProbeOSINT:     "osint_analyses",
	model.ProbeSEO:       "seo_analyses",
}

// probeHeader is the common part of every aggregate row.
type probeHeader struct {
	companyID int64
	url       string
	domain    string
	extra     map[string]any
}

// insertProbe writes the aggregate row with its full JSON report and
// returns its id. Extra holds kind-specific summary columns.
func insertProbe(ctx context.Context, tx *sql.Tx, table string, h probeHeader, report any, now time.Time) (int64, error) {
	blob, err := marshalJSON(model.Sanitize(report))
	if err != nil {
		return 0, err
	}
	if !blob.Valid {
		blob = sql.NullString{String: "{}", Valid: true}
	}

	cols := []string{"company_id", "url", "domain", "report", "created_at"}
	args := []any{h.companyID, h.url, h.domain, blob, now}
	for _, k := range sortedKeys(h.extra) {
		cols = append(cols, k)
		args = append(args, h.extra[k])
	}
	query := `INSERT INTO ` + table + ` (` + strings.Join(cols, ", ") + `) VALUES (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + `) RETURNING id`

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "insert %s", table)
	}
	return id, nil
}

// takeProbe deletes an aggregate row and returns its company and url.
func takeProbe(ctx context.Context, tx *sql.Tx, table string, id int64) (int64, string, error) {
	var (
		companyID int64
		url       string
	)
	err := tx.QueryRowContext(ctx, `SELECT company_id, url FROM `+table+` WHERE id = ?`, id).Scan(&companyID, &url)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", eris.Wrapf(ErrNotFound, "%s %d", table, id)
	}
	if err != nil {
		return 0, "", eris.Wrapf(err, "lookup %s", table)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return 0, "", eris.Wrapf(err, "delete %s", table)
	}
	return companyID, url, nil
}

// clearProbe deletes a company's previous aggregates in table. Children
// go with them through ON DELETE CASCADE.
func clearProbe(ctx context.Context, tx *sql.Tx, table string, companyID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE company_id = ?`, companyID); err != nil {
		return eris.Wrapf(err, "clear %s", table)
	}
	return nil
}

// latestProbe loads the newest aggregate row for a company and decodes
// its report into dst.
func (s *SQLiteStore) latestProbe(ctx context.Context, table string, companyID int64, dst any) (id int64, url, domain string, created time.Time, err error) {
	var blob sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, url, domain, report, created_at FROM `+table+` WHERE company_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		companyID,
	).Scan(&id, &url, &domain, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", "", time.Time{}, eris.Wrapf(ErrNotFound, "%s for company %d", table, companyID)
	}
	if err != nil {
		return 0, "", "", time.Time{}, eris.Wrapf(err, "sqlite: latest %s", table)
	}
	return id, url, domain, created, unmarshalJSON(blob, dst)
}

// Technical

// SaveTechnical stores a technical report, replacing the company's previous one.
func (s *SQLiteStore) SaveTechnical(ctx context.Context, companyID int64, url string, r *model.TechnicalReport) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearProbe(ctx, tx, "technical_analyses", companyID); err != nil {
			return err
		}
		var err error
		id, err = saveTechnical(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return id, eris.Wrap(err, "sqlite: save technical")
}

// UpdateTechnical replaces an aggregate and its children. The replacement
// gets a new id.
func (s *SQLiteStore) UpdateTechnical(ctx context.Context, id int64, r *model.TechnicalReport) (int64, error) {
	var newID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		companyID, url, err := takeProbe(ctx, tx, "technical_analyses", id)
		if err != nil {
			return err
		}
		newID, err = saveTechnical(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return newID, eris.Wrap(err, "sqlite: update technical")
}

func saveTechnical(ctx context.Context, tx *sql.Tx, companyID int64, url string, r *model.TechnicalReport, now time.Time) (int64, error) {
	if r == nil {
		return 0, eris.New("nil technical report")
	}
	var sslDays sql.NullInt64
	if r.SSL != nil {
		sslDays = sql.NullInt64{Int64: int64(r.SSL.DaysToExpiry), Valid: true}
	}
	sec := clampScore(&r.SecurityScore)
	id, err := insertProbe(ctx, tx, "technical_analyses", probeHeader{
		companyID: companyID,
		url:       url,
		domain:    r.Domain,
		extra: map[string]any{
			"server":            r.Server.Type,
			"cms":               r.CMS,
			"cms_version":       r.CMSVersion,
			"cdn":               r.CDN,
			"ip":                r.IP,
			"ssl_days_left":     sslDays,
			"security_score":    *sec,
			"performance_score": nullInt(clampScore(r.PerformanceScore)),
		},
	}, r, now)
	if err != nil {
		return 0, err
	}

	for _, p := range r.CMSPlugins {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO technical_cms_plugins (analysis_id, name, version) VALUES (?, ?, ?)`,
			id, p.Name, p.Version); err != nil {
			return 0, eris.Wrap(err, "insert cms plugin")
		}
	}
	for _, name := range sortedKeys(r.SecurityHeaders) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO technical_security_headers (analysis_id, name, value) VALUES (?, ?, ?)`,
			id, name, r.SecurityHeaders[name]); err != nil {
			return 0, eris.Wrap(err, "insert security header")
		}
	}
	for _, a := range r.Analytics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO technical_analytics (analysis_id, name) VALUES (?, ?)`, id, a); err != nil {
			return 0, eris.Wrap(err, "insert analytics")
		}
	}
	return id, nil
}

func (s *SQLiteStore) LatestTechnical(ctx context.Context, companyID int64) (*model.ProbeRecord[model.TechnicalReport], error) {
	rec := &model.ProbeRecord[model.TechnicalReport]{CompanyID: companyID}
	var err error
	rec.ID, rec.URL, rec.Domain, rec.CreatedAt, err = s.latestProbe(ctx, "technical_analyses", companyID, &rec.Report)
	if err != nil {
		return nil, err
	}

	r := &rec.Report
	r.CMSPlugins = r.CMSPlugins[:0]
	err = scanEach(ctx, s.db, `SELECT name, version FROM technical_cms_plugins WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var p model.CMSPlugin
			if err := rows.Scan(&p.Name, &p.Version); err != nil {
				return err
			}
			r.CMSPlugins = append(r.CMSPlugins, p)
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.SecurityHeaders = make(map[string]string)
	err = scanEach(ctx, s.db, `SELECT name, value FROM technical_security_headers WHERE analysis_id = ?`, rec.ID,
		func(rows *sql.Rows) error {
			var name, value string
			if err := rows.Scan(&name, &value); err != nil {
				return err
			}
			r.SecurityHeaders[name] = value
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.Analytics = r.Analytics[:0]
	err = scanEach(ctx, s.db, `SELECT name FROM technical_analytics WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			r.Analytics = append(r.Analytics, name)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// OSINT

func (s *SQLiteStore) SaveOSINT(ctx context.Context, companyID int64, url string, r *model.OSINTReport) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearProbe(ctx, tx, "osint_analyses", companyID); err != nil {
			return err
		}
		var err error
		id, err = saveOSINT(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return id, eris.Wrap(err, "sqlite: save osint")
}

func (s *SQLiteStore) UpdateOSINT(ctx context.Context, id int64, r *model.OSINTReport) (int64, error) {
	var newID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		companyID, url, err := takeProbe(ctx, tx, "osint_analyses", id)
		if err != nil {
			return err
		}
		newID, err = saveOSINT(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return newID, eris.Wrap(err, "sqlite: update osint")
}

func saveOSINT(ctx context.Context, tx *sql.Tx, companyID int64, url string, r *model.OSINTReport, now time.Time) (int64, error) {
	if r == nil {
		return 0, eris.New("nil osint report")
	}
	id, err := insertProbe(ctx, tx, "osint_analyses", probeHeader{
		companyID: companyID,
		url:       url,
		domain:    r.Domain,
		extra: map[string]any{
			"people":           len(r.People),
			"subdomains_count": len(r.Subdomains),
			"emails_count":     len(r.Emails),
		},
	}, r, now)
	if err != nil {
		return 0, err
	}

	for _, sub := range r.Subdomains {
		if _, err := tx.ExecContext(ctx, `INSERT INTO osint_subdomains (analysis_id, subdomain) VALUES (?, ?)`, id, sub); err != nil {
			return 0, eris.Wrap(err, "insert subdomain")
		}
	}
	for _, rec := range r.DNSRecords {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO osint_dns_records (analysis_id, record_type, value) VALUES (?, ?, ?)`,
			id, rec.Type, rec.Value); err != nil {
			return 0, eris.Wrap(err, "insert dns record")
		}
	}
	for _, e := range r.Emails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO osint_emails (analysis_id, email, source) VALUES (?, ?, ?)`, id, e.Email, e.Source); err != nil {
			return 0, eris.Wrap(err, "insert osint email")
		}
	}
	for _, sp := range r.SocialMedia {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO osint_social_media (analysis_id, platform, url, username) VALUES (?, ?, ?, ?)`,
			id, sp.Platform, sp.URL, sp.Username); err != nil {
			return 0, eris.Wrap(err, "insert social media")
		}
	}
	for _, t := range r.Technologies {
		if _, err := tx.ExecContext(ctx, `INSERT INTO osint_technologies (analysis_id, name) VALUES (?, ?)`, id, t); err != nil {
			return 0, eris.Wrap(err, "insert osint technology")
		}
	}
	return id, nil
}

func (s *SQLiteStore) LatestOSINT(ctx context.Context, companyID int64) (*model.ProbeRecord[model.OSINTReport], error) {
	rec := &model.ProbeRecord[model.OSINTReport]{CompanyID: companyID}
	var err error
	rec.ID, rec.URL, rec.Domain, rec.CreatedAt, err = s.latestProbe(ctx, "osint_analyses", companyID, &rec.Report)
	if err != nil {
		return nil, err
	}

	r := &rec.Report
	r.Subdomains = r.Subdomains[:0]
	err = scanEach(ctx, s.db, `SELECT subdomain FROM osint_subdomains WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var sub string
			if err := rows.Scan(&sub); err != nil {
				return err
			}
			r.Subdomains = append(r.Subdomains, sub)
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.DNSRecords = r.DNSRecords[:0]
	err = scanEach(ctx, s.db, `SELECT record_type, value FROM osint_dns_records WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var d model.DNSRecord
			if err := rows.Scan(&d.Type, &d.Value); err != nil {
				return err
			}
			r.DNSRecords = append(r.DNSRecords, d)
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.Emails = r.Emails[:0]
	err = scanEach(ctx, s.db, `SELECT email, source FROM osint_emails WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var e model.OSINTEmail
			if err := rows.Scan(&e.Email, &e.Source); err != nil {
				return err
			}
			r.Emails = append(r.Emails, e)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Pentest

func (s *SQLiteStore) SavePentest(ctx context.Context, companyID int64, url string, r *model.PentestReport) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearProbe(ctx, tx, "pentest_analyses", companyID); err != nil {
			return err
		}
		var err error
		id, err = savePentest(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return id, eris.Wrap(err, "sqlite: save pentest")
}

func (s *SQLiteStore) UpdatePentest(ctx context.Context, id int64, r *model.PentestReport) (int64, error) {
	var newID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		companyID, url, err := takeProbe(ctx, tx, "pentest_analyses", id)
		if err != nil {
			return err
		}
		newID, err = savePentest(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return newID, eris.Wrap(err, "sqlite: update pentest")
}

func savePentest(ctx context.Context, tx *sql.Tx, companyID int64, url string, r *model.PentestReport, now time.Time) (int64, error) {
	if r == nil {
		return 0, eris.New("nil pentest report")
	}
	risk := clampScore(&r.RiskScore)
	id, err := insertProbe(ctx, tx, "pentest_analyses", probeHeader{
		companyID: companyID,
		url:       url,
		domain:    r.Domain,
		extra: map[string]any{
			"risk_score":     *risk,
			"critical_count": r.CriticalCount,
			"high_count":     r.HighCount,
		},
	}, r, now)
	if err != nil {
		return 0, err
	}

	for _, v := range r.Vulnerabilities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pentest_vulnerabilities (analysis_id, name, severity, description, evidence, recommendation)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, v.Name, v.Severity, v.Description, v.Evidence, v.Recommendation); err != nil {
			return 0, eris.Wrap(err, "insert vulnerability")
		}
	}
	for _, h := range r.SecurityHeaders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pentest_security_headers (analysis_id, name, present, value, severity) VALUES (?, ?, ?, ?, ?)`,
			id, h.Name, boolInt(h.Present), h.Value, h.Severity); err != nil {
			return 0, eris.Wrap(err, "insert header check")
		}
	}
	for _, c := range r.CMSVulnerabilities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pentest_cms_vulnerabilities (analysis_id, cms, version, issue, severity) VALUES (?, ?, ?, ?, ?)`,
			id, c.CMS, c.Version, c.Issue, c.Severity); err != nil {
			return 0, eris.Wrap(err, "insert cms vulnerability")
		}
	}
	for _, p := range r.OpenPorts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pentest_open_ports (analysis_id, port, protocol, state, service, version) VALUES (?, ?, ?, ?, ?, ?)`,
			id, p.Port, p.Protocol, p.State, p.Service, p.Version); err != nil {
			return 0, eris.Wrap(err, "insert open port")
		}
	}
	return id, nil
}

func (s *SQLiteStore) LatestPentest(ctx context.Context, companyID int64) (*model.ProbeRecord[model.PentestReport], error) {
	rec := &model.ProbeRecord[model.PentestReport]{CompanyID: companyID}
	var err error
	rec.ID, rec.URL, rec.Domain, rec.CreatedAt, err = s.latestProbe(ctx, "pentest_analyses", companyID, &rec.Report)
	if err != nil {
		return nil, err
	}

	r := &rec.Report
	r.Vulnerabilities = r.Vulnerabilities[:0]
	err = scanEach(ctx, s.db,
		`SELECT name, severity, description, evidence, recommendation FROM pentest_vulnerabilities WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var v model.Vulnerability
			if err := rows.Scan(&v.Name, &v.Severity, &v.Description, &v.Evidence, &v.Recommendation); err != nil {
				return err
			}
			r.Vulnerabilities = append(r.Vulnerabilities, v)
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.OpenPorts = r.OpenPorts[:0]
	err = scanEach(ctx, s.db,
		`SELECT port, protocol, state, service, version FROM pentest_open_ports WHERE analysis_id = ? ORDER BY port`, rec.ID,
		func(rows *sql.Rows) error {
			var p model.Port
			if err := rows.Scan(&p.Port, &p.Protocol, &p.State, &p.Service, &p.Version); err != nil {
				return err
			}
			r.OpenPorts = append(r.OpenPorts, p)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SEO

func (s *SQLiteStore) SaveSEO(ctx context.Context, companyID int64, url string, r *model.SEOReport) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearProbe(ctx, tx, "seo_analyses", companyID); err != nil {
			return err
		}
		var err error
		id, err = saveSEO(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return id, eris.Wrap(err, "sqlite: save seo")
}

func (s *SQLiteStore) UpdateSEO(ctx context.Context, id int64, r *model.SEOReport) (int64, error) {
	var newID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		companyID, url, err := takeProbe(ctx, tx, "seo_analyses", id)
		if err != nil {
			return err
		}
		newID, err = saveSEO(ctx, tx, companyID, url, r, s.now())
		return err
	})
	return newID, eris.Wrap(err, "sqlite: update seo")
}

func saveSEO(ctx context.Context, tx *sql.Tx, companyID int64, url string, r *model.SEOReport, now time.Time) (int64, error) {
	if r == nil {
		return 0, eris.New("nil seo report")
	}
	score := clampScore(&r.Score)
	id, err := insertProbe(ctx, tx, "seo_analyses", probeHeader{
		companyID: companyID,
		url:       url,
		domain:    r.Domain,
		extra:     map[string]any{"score": *score},
	}, r, now)
	if err != nil {
		return 0, err
	}

	for _, m := range r.MetaTags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seo_meta_tags (analysis_id, name, content) VALUES (?, ?, ?)`, id, m.Name, m.Content); err != nil {
			return 0, eris.Wrap(err, "insert meta tag")
		}
	}
	for _, name := range sortedKeys(r.Headers) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seo_headers (analysis_id, name, value) VALUES (?, ?, ?)`, id, name, r.Headers[name]); err != nil {
			return 0, eris.Wrap(err, "insert seo header")
		}
	}
	for _, is := range r.Issues {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seo_issues (analysis_id, issue_type, category, impact, message) VALUES (?, ?, ?, ?, ?)`,
			id, is.Type, is.Category, is.Impact, is.Message); err != nil {
			return 0, eris.Wrap(err, "insert seo issue")
		}
	}
	return id, nil
}

func (s *SQLiteStore) LatestSEO(ctx context.Context, companyID int64) (*model.ProbeRecord[model.SEOReport], error) {
	rec := &model.ProbeRecord[model.SEOReport]{CompanyID: companyID}
	var err error
	rec.ID, rec.URL, rec.Domain, rec.CreatedAt, err = s.latestProbe(ctx, "seo_analyses", companyID, &rec.Report)
	if err != nil {
		return nil, err
	}

	r := &rec.Report
	r.Issues = r.Issues[:0]
	err = scanEach(ctx, s.db, `SELECT issue_type, category, impact, message FROM seo_issues WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var is model.SEOIssue
			if err := rows.Scan(&is.Type, &is.Category, &is.Impact, &is.Message); err != nil {
				return err
			}
			r.Issues = append(r.Issues, is)
			return nil
		})
	if err != nil {
		return nil, err
	}
	r.MetaTags = r.MetaTags[:0]
	err = scanEach(ctx, s.db, `SELECT name, content FROM seo_meta_tags WHERE analysis_id = ? ORDER BY id`, rec.ID,
		func(rows *sql.Rows) error {
			var m model.MetaTag
			if err := rows.Scan(&m.Name, &m.Content); err != nil {
				return err
			}
			r.MetaTags = append(r.MetaTags, m)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteProbes removes every aggregate of one kind for a company. An empty
// kind removes all four.
func (s *SQLiteStore) DeleteProbes(ctx context.Context, companyID int64, kind model.ProbeKind) error {
	kinds := []model.ProbeKind{kind}
	if kind == "" {
		kinds = model.AllProbes()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range kinds {
			table, ok := probeTables[k]
			if !ok {
				return eris.Errorf("sqlite: unknown probe kind %q", k)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE company_id = ?`, companyID); err != nil {
				return eris.Wrapf(err, "sqlite: delete %s", table)
			}
		}
		return nil
	})
}
