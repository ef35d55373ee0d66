package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Statistics aggregates the corpus, optionally scoped to one analysis.
func (s *SQLiteStore) Statistics(ctx context.Context, analysisID *int64) (*model.Statistics, error) {
	where, args := "", []any{}
	if analysisID != nil {
		where = ` WHERE c.analysis_id = ?`
		args = append(args, *analysisID)
	}

	st := &model.Statistics{
		BySector:      make(map[string]int),
		ByOpportunity: make(map[string]int),
		ByStatus:      make(map[string]int),
	}
	var avgSec, avgPen sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(c.favorite), 0),
			COALESCE(SUM(CASE WHEN c.email <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.website <> '' THEN 1 ELSE 0 END), 0),
			AVG(c.security_score),
			AVG(c.pentest_score),
			COALESCE(SUM(CASE WHEN EXISTS (SELECT 1 FROM scrapers sc WHERE sc.company_id = c.id) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.opportunity_score IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM companies c`+where, args...,
	).Scan(&st.Total, &st.Favorites, &st.WithEmail, &st.WithWebsite, &avgSec, &avgPen,
		&st.ScrapedCompanies, &st.AnalyzedCompanies)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: statistics")
	}
	st.AvgSecurityScore = roundedPtr(avgSec)
	st.AvgPentestScore = roundedPtr(avgPen)

	for column, dst := range map[string]map[string]int{
		"sector":      st.BySector,
		"opportunity": st.ByOpportunity,
		"status":      st.ByStatus,
	} {
		if err := s.countBy(ctx, column, where, args, dst); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column, where string, args []any, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.`+column+`, COUNT(*) FROM companies c`+where+` GROUP BY c.`+column, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: count by %s", column)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return eris.Wrapf(err, "sqlite: scan count by %s", column)
		}
		if key == "" {
			key = "Unspecified"
		}
		dst[key] += n
	}
	return eris.Wrapf(rows.Err(), "sqlite: iterate count by %s", column)
}

func roundedPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := float64(int(n.Float64*10+0.5)) / 10
	return &v
}

// purgeOrder lists the dependency roots deleted by ClearAll. Child tables
// go through the cascade.
var purgeOrder = []string{"analyses", "scrapers", "companies"}

// ClearAll deletes every analysis, scraper run, and company and resets the
// autoincrement sequences of the purged tables. Groups and API tokens
// survive. It succeeds on an empty database.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range purgeOrder {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table)
			if err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", table)
			}
			n, _ := res.RowsAffected()
			zap.L().Debug("sqlite: cleared table", zap.String("table", table), zap.Int64("rows", n))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name NOT IN ('groups', 'api_tokens')`); err != nil {
			if !strings.Contains(err.Error(), "no such table") {
				return eris.Wrap(err, "sqlite: reset sequences")
			}
		}
		return nil
	})
}
