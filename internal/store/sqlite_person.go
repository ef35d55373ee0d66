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

// UpsertPerson inserts or merges a person keyed by (company, lower(name)).
// Non-empty incoming fields win; the hierarchy is inferred from the title
// when Level is zero.
func (s *SQLiteStore) UpsertPerson(ctx context.Context, p model.Person) (int64, error) {
	return upsertPerson(ctx, s.db, p, s.now())
}

func upsertPerson(ctx context.Context, q queryRower, p model.Person, now time.Time) (int64, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return 0, eris.New("sqlite: upsert person: name is required")
	}
	if p.Level == 0 {
		p.Level, p.Role = model.InferHierarchy(p.Title)
	}
	social, err := marshalJSON(p.SocialProfiles)
	if err != nil {
		return 0, err
	}
	osint, err := marshalJSON(model.Sanitize(p.OSINT))
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO persons (company_id, name, name_key, title, email, linkedin_url, hierarchy_level, role,
			social_profiles, osint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, name_key) DO UPDATE SET
			title           = COALESCE(NULLIF(excluded.title, ''), persons.title),
			email           = COALESCE(NULLIF(excluded.email, ''), persons.email),
			linkedin_url    = COALESCE(NULLIF(excluded.linkedin_url, ''), persons.linkedin_url),
			hierarchy_level = CASE WHEN excluded.title <> '' THEN excluded.hierarchy_level ELSE persons.hierarchy_level END,
			role            = CASE WHEN excluded.title <> '' THEN excluded.role ELSE persons.role END,
			social_profiles = COALESCE(excluded.social_profiles, persons.social_profiles),
			osint           = COALESCE(excluded.osint, persons.osint)
		RETURNING id`,
		p.CompanyID, name, model.NormalizeKey(name), p.Title, strings.ToLower(p.Email), p.LinkedInURL,
		p.Level, p.Role, social, osint, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert person")
	}
	return id, nil
}

func (s *SQLiteStore) ListPersons(ctx context.Context, companyID int64) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, title, email, linkedin_url, hierarchy_level, role, manager_id,
			social_profiles, osint, created_at
		FROM persons WHERE company_id = ?
		ORDER BY hierarchy_level, name_key`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list persons")
	}
	defer rows.Close()

	var out []model.Person
	for rows.Next() {
		var (
			p             model.Person
			manager       sql.NullInt64
			social, osint sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Title, &p.Email, &p.LinkedInURL, &p.Level, &p.Role,
			&manager, &social, &osint, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan person")
		}
		p.ManagerID = int64Ptr(manager)
		if err := unmarshalJSON(social, &p.SocialProfiles); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(osint, &p.OSINT); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate persons")
}

// SetManager links a person to a manager of the same company. A nil
// manager clears the link. Links that would close a cycle are rejected.
func (s *SQLiteStore) SetManager(ctx context.Context, personID int64, managerID *int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var companyID int64
		err := tx.QueryRowContext(ctx, `SELECT company_id FROM persons WHERE id = ?`, personID).Scan(&companyID)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "person %d", personID)
		}
		if err != nil {
			return eris.Wrap(err, "sqlite: set manager")
		}

		if managerID != nil {
			if *managerID == personID {
				return eris.Wrapf(ErrInvalidManager, "person %d cannot manage itself", personID)
			}
			var managerCompany int64
			err := tx.QueryRowContext(ctx, `SELECT company_id FROM persons WHERE id = ?`, *managerID).Scan(&managerCompany)
			if errors.Is(err, sql.ErrNoRows) {
				return eris.Wrapf(ErrNotFound, "person %d", *managerID)
			}
			if err != nil {
				return eris.Wrap(err, "sqlite: set manager")
			}
			if managerCompany != companyID {
				return eris.Wrapf(ErrInvalidManager, "person %d belongs to another company", *managerID)
			}

			// Walk up from the new manager; reaching personID means a cycle.
			var hits int
			err = tx.QueryRowContext(ctx, `
				WITH RECURSIVE chain(id) AS (
					SELECT ?
					UNION
					SELECT p.manager_id FROM persons p JOIN chain c ON p.id = c.id WHERE p.manager_id IS NOT NULL
				)
				SELECT COUNT(*) FROM chain WHERE id = ?`, *managerID, personID).Scan(&hits)
			if err != nil {
				return eris.Wrap(err, "sqlite: manager chain")
			}
			if hits > 0 {
				return eris.Wrapf(ErrInvalidManager, "person %d already reports to %d", *managerID, personID)
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE persons SET manager_id = ? WHERE id = ?`, nullInt64(managerID), personID)
		return eris.Wrap(err, "sqlite: set manager")
	})
}

// LinkScraperPeople promotes unlinked scraper mentions of a company to
// persons and returns how many mentions were linked.
func (s *SQLiteStore) LinkScraperPeople(ctx context.Context, companyID int64) (int, error) {
	var linked int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		type mention struct {
			id                                int64
			name, title, email, linkedin, url string
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, title, email, linkedin_url, page_url
			FROM scraper_people WHERE company_id = ? AND person_id IS NULL AND TRIM(name) <> ''
			ORDER BY id`, companyID)
		if err != nil {
			return eris.Wrap(err, "sqlite: query mentions")
		}
		var mentions []mention
		for rows.Next() {
			var m mention
			if err := rows.Scan(&m.id, &m.name, &m.title, &m.email, &m.linkedin, &m.url); err != nil {
				rows.Close()
				return eris.Wrap(err, "sqlite: scan mention")
			}
			mentions = append(mentions, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "sqlite: iterate mentions")
		}

		for _, m := range mentions {
			pid, err := upsertPerson(ctx, tx, model.Person{
				CompanyID:   companyID,
				Name:        m.name,
				Title:       m.title,
				Email:       m.email,
				LinkedInURL: m.linkedin,
			}, s.now())
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE scraper_people SET person_id = ? WHERE id = ?`, pid, m.id); err != nil {
				return eris.Wrap(err, "sqlite: link mention")
			}
			linked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}
