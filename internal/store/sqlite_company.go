package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

const companyColumns = `id, analysis_id, name, website, sector, status, opportunity, opportunity_score,
	opportunity_breakdown, email, responsible, size, hosting, framework, security_score, pentest_score,
	tags, notes, favorite, phone, country, address_1, address_2, longitude, latitude, rating,
	reviews_count, summary, og_image, favicon, logo, og_data, site_age_score, created_at`

func addressKey(addr1, addr2 string) string {
	a1, a2 := model.NormalizeKey(addr1), model.NormalizeKey(addr2)
	if a1 == "" && a2 == "" {
		return ""
	}
	return a1 + "|" + a2
}

// FindDuplicate applies the dedup rules in priority order: name+website,
// then name+address lines, then name alone for rows with neither.
func (s *SQLiteStore) FindDuplicate(ctx context.Context, name, website, addr1, addr2 string) (int64, bool, error) {
	return findDuplicate(ctx, s.db, name, website, addr1, addr2)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findDuplicate(ctx context.Context, q queryRower, name, website, addr1, addr2 string) (int64, bool, error) {
	nameKey := model.NormalizeKey(name)
	if nameKey == "" {
		return 0, false, nil
	}
	websiteKey := model.NormalizeKey(website)
	addrKey := addressKey(addr1, addr2)

	type rule struct {
		query string
		args  []any
	}
	var rules []rule
	if websiteKey != "" {
		rules = append(rules, rule{`SELECT id FROM companies WHERE name_key = ? AND website_key = ? ORDER BY id LIMIT 1`, []any{nameKey, websiteKey}})
	}
	if addrKey != "" {
		rules = append(rules, rule{`SELECT id FROM companies WHERE name_key = ? AND address_key = ? ORDER BY id LIMIT 1`, []any{nameKey, addrKey}})
	}
	if websiteKey == "" && addrKey == "" {
		rules = append(rules, rule{`SELECT id FROM companies WHERE name_key = ? AND website_key = '' AND address_key = '' ORDER BY id LIMIT 1`, []any{nameKey}})
	}

	for _, r := range rules {
		var id int64
		err := q.QueryRowContext(ctx, r.query, r.args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, false, eris.Wrap(err, "sqlite: find duplicate")
		}
		return id, true, nil
	}
	return 0, false, nil
}

// SaveCompany inserts a company or resolves it to an existing row by dedup
// key. The bool result reports whether a new row was created. When
// skipDuplicates is false an existing row is refreshed with the non-empty
// fields of the payload.
func (s *SQLiteStore) SaveCompany(ctx context.Context, analysisID *int64, in model.CompanyInput, skipDuplicates bool) (int64, bool, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return 0, false, eris.New("sqlite: save company: name is required")
	}
	in.Website = strings.TrimSpace(in.Website)
	if strings.TrimSpace(in.Address1) == "" && strings.TrimSpace(in.AddressFull) != "" {
		in.Address1 = strings.TrimSpace(in.AddressFull)
	}
	in.OGImage = absoluteURL(in.Website, in.OGImage)
	in.Favicon = absoluteURL(in.Website, in.Favicon)
	in.Logo = absoluteURL(in.Website, in.Logo)

	var (
		id      int64
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := findDuplicate(ctx, tx, in.Name, in.Website, in.Address1, in.Address2)
		if err != nil {
			return err
		}
		if !found {
			existing, found, err = s.insertCompany(ctx, tx, analysisID, in)
			if err != nil {
				return err
			}
			if !found {
				id, created = existing, true
				return nil
			}
		}
		id = existing
		if skipDuplicates {
			return nil
		}
		return s.refreshCompany(ctx, tx, id, analysisID, in)
	})
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: save company")
	}
	return id, created, nil
}

// insertCompany inserts a row, deferring to the unique indexes for
// concurrent duplicates. It returns found=true with the surviving id when
// another writer won the race.
func (s *SQLiteStore) insertCompany(ctx context.Context, tx *sql.Tx, analysisID *int64, in model.CompanyInput) (int64, bool, error) {
	ogData, err := marshalJSON(in.OGData)
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO companies (analysis_id, name, name_key, website, website_key, address_key, sector,
			status, phone, country, address_1, address_2, longitude, latitude, rating, reviews_count,
			summary, og_image, favicon, logo, og_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		nullInt64(analysisID), in.Name, model.NormalizeKey(in.Name), in.Website, model.NormalizeKey(in.Website),
		addressKey(in.Address1, in.Address2), in.ResolvedSector(), string(model.StatusNew),
		strings.TrimSpace(in.Phone), strings.TrimSpace(in.Country), strings.TrimSpace(in.Address1), strings.TrimSpace(in.Address2),
		nullFloat(in.Longitude), nullFloat(in.Latitude), nullFloat(in.Rating), nullInt(in.ReviewsCount),
		strings.TrimSpace(in.Resume), in.OGImage, in.Favicon, in.Logo, ogData, s.now(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing, found, ferr := findDuplicate(ctx, tx, in.Name, in.Website, in.Address1, in.Address2)
		if ferr != nil {
			return 0, false, ferr
		}
		if !found {
			return 0, false, eris.New("insert company: conflict without surviving row")
		}
		return existing, true, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "insert company")
	}
	return id, false, nil
}

func (s *SQLiteStore) refreshCompany(ctx context.Context, tx *sql.Tx, id int64, analysisID *int64, in model.CompanyInput) error {
	ogData, err := marshalJSON(in.OGData)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE companies SET
			analysis_id   = COALESCE(?, analysis_id),
			sector        = COALESCE(NULLIF(?, ''), sector),
			phone         = COALESCE(NULLIF(?, ''), phone),
			country       = COALESCE(NULLIF(?, ''), country),
			longitude     = COALESCE(?, longitude),
			latitude      = COALESCE(?, latitude),
			rating        = COALESCE(?, rating),
			reviews_count = COALESCE(?, reviews_count),
			summary       = COALESCE(NULLIF(?, ''), summary),
			og_image      = COALESCE(NULLIF(?, ''), og_image),
			favicon       = COALESCE(NULLIF(?, ''), favicon),
			logo          = COALESCE(NULLIF(?, ''), logo),
			og_data       = COALESCE(?, og_data)
		WHERE id = ?`,
		nullInt64(analysisID), in.ResolvedSector(), strings.TrimSpace(in.Phone), strings.TrimSpace(in.Country),
		nullFloat(in.Longitude), nullFloat(in.Latitude), nullFloat(in.Rating), nullInt(in.ReviewsCount),
		strings.TrimSpace(in.Resume), in.OGImage, in.Favicon, in.Logo, ogData, id,
	)
	return eris.Wrap(err, "refresh company")
}

// absoluteURL resolves ref against base. Empty refs and unparsable input
// are returned unchanged.
func absoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	return c, err
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, int, error) {
	var (
		where []string
		args  []any
	)
	if f.AnalysisID != nil {
		where = append(where, "analysis_id = ?")
		args = append(args, *f.AnalysisID)
	}
	if f.GroupID != nil {
		where = append(where, "id IN (SELECT company_id FROM company_groups WHERE group_id = ?)")
		args = append(args, *f.GroupID)
	}
	if f.Sector != "" {
		where = append(where, "sector = ?")
		args = append(args, f.Sector)
	}
	if f.Status != "" {
		st, err := model.ParseStatus(f.Status)
		if err != nil {
			return nil, 0, err
		}
		where = append(where, "status = ?")
		args = append(args, string(st))
	}
	if f.Opportunity != "" {
		where = append(where, "opportunity = ?")
		args = append(args, f.Opportunity)
	}
	if f.Favorite != nil {
		where = append(where, "favorite = ?")
		args = append(args, boolInt(*f.Favorite))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(name_key LIKE ? OR website_key LIKE ? OR lower(sector) LIKE ? OR lower(email) LIKE ? OR lower(responsible) LIKE ?)")
		args = append(args, like, like, like, like, like)
	}
	for _, r := range []struct {
		col string
		op  string
		v   *int
	}{
		{"security_score", ">=", f.SecurityMin},
		{"security_score", "<=", f.SecurityMax},
		{"pentest_score", ">=", f.PentestMin},
		{"pentest_score", "<=", f.PentestMax},
	} {
		if v := clampScore(r.v); v != nil {
			where = append(where, r.col+" "+r.op+" ?")
			args = append(args, *v)
		}
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`+clause, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count companies")
	}

	query := `SELECT ` + companyColumns + ` FROM companies` + clause + ` ORDER BY id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(0, f.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLiteStore) DeleteCompany(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete company")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	var fav int
	err := s.db.QueryRowContext(ctx,
		`UPDATE companies SET favorite = 1 - favorite WHERE id = ? RETURNING favorite`, id).Scan(&fav)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: toggle favorite")
	}
	return fav == 1, nil
}

func (s *SQLiteStore) UpdateTags(ctx context.Context, id int64, tags []string) error {
	seen := make(map[string]bool, len(tags))
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	b, err := marshalJSON(clean)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET tags = ? WHERE id = ?`, b.String, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: update tags")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) UpdateNotes(ctx context.Context, id int64, notes string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET notes = ? WHERE id = ?`, notes, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: update notes")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status string) (model.Status, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET status = ? WHERE id = ?`, string(st), id)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: update status")
	}
	return st, checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) UpdateOpportunity(ctx context.Context, id int64, opp model.Opportunity) error {
	breakdown, err := marshalJSON(model.Sanitize(toAnyMap(opp.Breakdown)))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET opportunity = ?, opportunity_score = ?, opportunity_breakdown = ? WHERE id = ?`,
		string(opp.Grade), opp.Score, breakdown, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: update opportunity")
	}
	return checkRowsAffected(res, "company", id)
}

func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, id int64, e model.Enrichment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE companies SET
			email          = COALESCE(NULLIF(?, ''), email),
			responsible    = COALESCE(NULLIF(?, ''), responsible),
			size           = COALESCE(NULLIF(?, ''), size),
			sector         = CASE WHEN sector = '' THEN ? ELSE sector END,
			hosting        = COALESCE(NULLIF(?, ''), hosting),
			framework      = COALESCE(NULLIF(?, ''), framework),
			security_score = COALESCE(?, security_score),
			pentest_score  = COALESCE(?, pentest_score),
			logo           = COALESCE(NULLIF(?, ''), logo),
			favicon        = COALESCE(NULLIF(?, ''), favicon),
			og_image       = COALESCE(NULLIF(?, ''), og_image),
			summary        = COALESCE(NULLIF(?, ''), summary),
			site_age_score = COALESCE(?, site_age_score)
		WHERE id = ?`,
		e.Email, e.Responsible, e.Size, e.Sector, e.Hosting, e.Framework,
		nullInt(clampScore(e.SecurityScore)), nullInt(clampScore(e.PentestScore)),
		e.Logo, e.Favicon, e.OGImage, e.Summary, nullInt(e.SiteAgeScore), id)
	if err != nil {
		return eris.Wrap(err, "sqlite: update enrichment")
	}
	return checkRowsAffected(res, "company", id)
}

func toAnyMap(m map[string]float64) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func scanCompany(row scannable) (*model.Company, error) {
	var (
		c                              model.Company
		analysisID, oppScore, secScore sql.NullInt64
		penScore, reviews, siteAge     sql.NullInt64
		lon, lat, rating               sql.NullFloat64
		breakdown, ogData              sql.NullString
		tags, status, opportunity      string
		favorite                       int
	)
	err := row.Scan(&c.ID, &analysisID, &c.Name, &c.Website, &c.Sector, &status, &opportunity, &oppScore,
		&breakdown, &c.Email, &c.Responsible, &c.Size, &c.Hosting, &c.Framework, &secScore, &penScore,
		&tags, &c.Notes, &favorite, &c.Phone, &c.Country, &c.Address1, &c.Address2, &lon, &lat, &rating,
		&reviews, &c.Summary, &c.OGImage, &c.Favicon, &c.Logo, &ogData, &siteAge, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan company")
	}
	c.AnalysisID = int64Ptr(analysisID)
	c.Status = model.Status(status)
	c.Opportunity = model.Grade(opportunity)
	c.OpportunityScore = intPtr(oppScore)
	c.SecurityScore = intPtr(secScore)
	c.PentestScore = intPtr(penScore)
	c.ReviewsCount = intPtr(reviews)
	c.SiteAgeScore = intPtr(siteAge)
	c.Longitude = floatPtr(lon)
	c.Latitude = floatPtr(lat)
	c.Rating = floatPtr(rating)
	c.Favorite = favorite == 1
	if err := unmarshalJSON(sql.NullString{String: tags, Valid: true}, &c.Tags); err != nil {
		return nil, err
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if err := unmarshalJSON(breakdown, &c.Breakdown); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(ogData, &c.OGData); err != nil {
		return nil, err
	}
	return &c, nil
}
