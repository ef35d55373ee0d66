package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// artifactTables are wiped when a scraper run is overwritten.
var artifactTables = []string{
	"scraper_emails",
	"scraper_phones",
	"scraper_social_profiles",
	"scraper_technologies",
	"scraper_people",
	"images",
}

// SaveScraper upserts the run identified by (company, url, kind) and
// rewrites all of its artifacts in one transaction.
func (s *SQLiteStore) SaveScraper(ctx context.Context, in ScraperSave) (int64, error) {
	if !in.Kind.Valid() {
		return 0, eris.Errorf("sqlite: save scraper: invalid kind %q", in.Kind)
	}
	if strings.TrimSpace(in.URL) == "" {
		return 0, eris.New("sqlite: save scraper: url is required")
	}
	meta, err := marshalJSON(in.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		c := in.Counters
		err := tx.QueryRowContext(ctx, `
			INSERT INTO scrapers (company_id, url, kind, visited_urls, emails_count, people_count, phones_count,
				social_count, technologies_count, metadata_count, images_count, duration, resume, metadata,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(company_id, url, kind) DO UPDATE SET
				visited_urls       = excluded.visited_urls,
				emails_count       = excluded.emails_count,
				people_count       = excluded.people_count,
				phones_count       = excluded.phones_count,
				social_count       = excluded.social_count,
				technologies_count = excluded.technologies_count,
				metadata_count     = excluded.metadata_count,
				images_count       = excluded.images_count,
				duration           = excluded.duration,
				resume             = excluded.resume,
				metadata           = excluded.metadata,
				updated_at         = excluded.updated_at
			RETURNING id`,
			in.CompanyID, in.URL, string(in.Kind), in.VisitedURLs, c.Emails, c.People, c.Phones,
			c.SocialPlatforms, c.Technologies, c.Metadata, c.Images, in.Duration, in.Resume, meta,
			now, now,
		).Scan(&id)
		if err != nil {
			return eris.Wrap(err, "upsert scraper")
		}

		for _, table := range artifactTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scraper_id = ?`, id); err != nil {
				return eris.Wrapf(err, "clear %s", table)
			}
		}
		return insertArtifacts(ctx, tx, id, in.CompanyID, in.Artifacts)
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: save scraper")
	}
	return id, nil
}

func insertArtifacts(ctx context.Context, tx *sql.Tx, scraperID, companyID int64, a model.Artifacts) error {
	for _, e := range a.Emails {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if email == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scraper_emails (scraper_id, company_id, email, page_url) VALUES (?, ?, ?, ?)`,
			scraperID, companyID, email, e.PageURL); err != nil {
			return eris.Wrap(err, "insert email")
		}
	}
	for _, p := range a.Phones {
		if strings.TrimSpace(p.Phone) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scraper_phones (scraper_id, company_id, phone, page_url) VALUES (?, ?, ?, ?)`,
			scraperID, companyID, strings.TrimSpace(p.Phone), p.PageURL); err != nil {
			return eris.Wrap(err, "insert phone")
		}
	}
	for _, sp := range a.Social {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scraper_social_profiles (scraper_id, company_id, platform, url, username) VALUES (?, ?, ?, ?, ?)`,
			scraperID, companyID, sp.Platform, sp.URL, sp.Username); err != nil {
			return eris.Wrap(err, "insert social profile")
		}
	}
	for _, t := range a.Technologies {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scraper_technologies (scraper_id, company_id, category, name, version) VALUES (?, ?, ?, ?, ?)`,
			scraperID, companyID, t.Category, t.Name, t.Version); err != nil {
			return eris.Wrap(err, "insert technology")
		}
	}
	for _, p := range a.People {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scraper_people (scraper_id, company_id, person_id, name, title, email, linkedin_url, page_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scraperID, companyID, nullInt64(p.PersonID), p.Name, p.Title, p.Email, p.LinkedInURL, p.PageURL); err != nil {
			return eris.Wrap(err, "insert person mention")
		}
	}
	for _, img := range a.Images {
		if strings.TrimSpace(img.URL) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO images (company_id, scraper_id, url, alt, page_url, width, height)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(company_id, url) DO UPDATE SET
				scraper_id = excluded.scraper_id,
				alt        = excluded.alt,
				page_url   = excluded.page_url,
				width      = excluded.width,
				height     = excluded.height`,
			companyID, scraperID, img.URL, img.Alt, img.PageURL, nullInt(img.Width), nullInt(img.Height)); err != nil {
			return eris.Wrap(err, "insert image")
		}
	}
	return nil
}

const scraperColumns = `id, company_id, url, kind, visited_urls, emails_count, people_count, phones_count,
	social_count, technologies_count, metadata_count, images_count, duration, resume, metadata, created_at, updated_at`

func (s *SQLiteStore) GetScraper(ctx context.Context, id int64) (*model.ScraperRun, error) {
	run, err := scanScraper(s.db.QueryRowContext(ctx, `SELECT `+scraperColumns+` FROM scrapers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "scraper %d", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadArtifacts(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListScrapers(ctx context.Context, companyID int64) ([]model.ScraperRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scraperColumns+` FROM scrapers WHERE company_id = ? ORDER BY updated_at DESC, id DESC`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrapers")
	}
	var out []model.ScraperRun
	for rows.Next() {
		run, err := scanScraper(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate scrapers")
	}

	for i := range out {
		if err := s.loadArtifacts(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteScraper removes one run; its artifacts and images cascade.
func (s *SQLiteStore) DeleteScraper(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrapers WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete scraper")
	}
	return checkRowsAffected(res, "scraper", id)
}

func (s *SQLiteStore) ListImages(ctx context.Context, companyID int64) ([]model.Image, error) {
	return queryImages(ctx, s.db, `SELECT url, alt, page_url, width, height FROM images WHERE company_id = ? ORDER BY id`, companyID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryImages(ctx context.Context, q querier, query string, arg int64) ([]model.Image, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query images")
	}
	defer rows.Close()
	var out []model.Image
	for rows.Next() {
		var (
			img           model.Image
			width, height sql.NullInt64
		)
		if err := rows.Scan(&img.URL, &img.Alt, &img.PageURL, &width, &height); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image")
		}
		img.Width, img.Height = intPtr(width), intPtr(height)
		out = append(out, img)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate images")
}

func (s *SQLiteStore) loadArtifacts(ctx context.Context, run *model.ScraperRun) error {
	a := &run.Artifacts
	err := scanEach(ctx, s.db, `SELECT email, page_url FROM scraper_emails WHERE scraper_id = ? ORDER BY id`, run.ID,
		func(rows *sql.Rows) error {
			var e model.ScrapedEmail
			if err := rows.Scan(&e.Email, &e.PageURL); err != nil {
				return err
			}
			a.Emails = append(a.Emails, e)
			return nil
		})
	if err != nil {
		return err
	}
	err = scanEach(ctx, s.db, `SELECT phone, page_url FROM scraper_phones WHERE scraper_id = ? ORDER BY id`, run.ID,
		func(rows *sql.Rows) error {
			var p model.ScrapedPhone
			if err := rows.Scan(&p.Phone, &p.PageURL); err != nil {
				return err
			}
			a.Phones = append(a.Phones, p)
			return nil
		})
	if err != nil {
		return err
	}
	err = scanEach(ctx, s.db, `SELECT platform, url, username FROM scraper_social_profiles WHERE scraper_id = ? ORDER BY id`, run.ID,
		func(rows *sql.Rows) error {
			var sp model.SocialProfile
			if err := rows.Scan(&sp.Platform, &sp.URL, &sp.Username); err != nil {
				return err
			}
			a.Social = append(a.Social, sp)
			return nil
		})
	if err != nil {
		return err
	}
	err = scanEach(ctx, s.db, `SELECT category, name, version FROM scraper_technologies WHERE scraper_id = ? ORDER BY id`, run.ID,
		func(rows *sql.Rows) error {
			var t model.Technology
			if err := rows.Scan(&t.Category, &t.Name, &t.Version); err != nil {
				return err
			}
			a.Technologies = append(a.Technologies, t)
			return nil
		})
	if err != nil {
		return err
	}
	err = scanEach(ctx, s.db, `SELECT name, title, email, linkedin_url, page_url, person_id FROM scraper_people WHERE scraper_id = ? ORDER BY id`, run.ID,
		func(rows *sql.Rows) error {
			var (
				p   model.ScrapedPerson
				pid sql.NullInt64
			)
			if err := rows.Scan(&p.Name, &p.Title, &p.Email, &p.LinkedInURL, &p.PageURL, &pid); err != nil {
				return err
			}
			p.PersonID = int64Ptr(pid)
			a.People = append(a.People, p)
			return nil
		})
	if err != nil {
		return err
	}
	a.Images, err = queryImages(ctx, s.db, `SELECT url, alt, page_url, width, height FROM images WHERE scraper_id = ? ORDER BY id`, run.ID)
	return err
}

// scanEach runs a single-argument query and calls fn for every row.
func scanEach(ctx context.Context, q querier, query string, arg int64, fn func(rows *sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return eris.Wrap(err, "sqlite: query")
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return eris.Wrap(err, "sqlite: scan")
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate")
}

func scanScraper(row scannable) (*model.ScraperRun, error) {
	var (
		r    model.ScraperRun
		kind string
		meta sql.NullString
		c    = &r.Counters
	)
	err := row.Scan(&r.ID, &r.CompanyID, &r.URL, &kind, &r.VisitedURLs, &c.Emails, &c.People, &c.Phones,
		&c.SocialPlatforms, &c.Technologies, &c.Metadata, &c.Images, &r.Duration, &r.Resume, &meta,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan scraper")
	}
	r.Kind = model.ScraperKind(kind)
	if err := unmarshalJSON(meta, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}
