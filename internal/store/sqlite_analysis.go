package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, filename string, totalRows int, params map[string]any) (int64, error) {
	p, err := marshalJSON(model.Sanitize(params))
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO analyses (filename, total_rows, parameters, status, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		filename, totalRows, p, string(model.AnalysisRunning), s.now(),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: create analysis")
	}
	return id, nil
}

func (s *SQLiteStore) FinishAnalysis(ctx context.Context, id int64, status model.AnalysisStatus, duration float64, output *string, warnings []model.RowWarning) error {
	w, err := marshalJSON(warnings)
	if err != nil {
		return err
	}
	var out sql.NullString
	if output != nil {
		out = sql.NullString{String: *output, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE analyses SET status = ?, duration = ?, output_filename = COALESCE(?, output_filename),
			warnings = COALESCE(?, warnings)
		WHERE id = ?`,
		string(status), duration, out, w, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish analysis")
	}
	return checkRowsAffected(res, "analysis", id)
}

const analysisColumns = `id, filename, output_filename, total_rows, parameters, status, duration, warnings, created_at`

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id int64) (*model.Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "analysis %d", id)
	}
	return a, err
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, limit, offset int) ([]model.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY id DESC LIMIT ? OFFSET ?`, limit, max(0, offset))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate analyses")
}

// DeleteAnalysis removes a batch and, through the cascade, every company
// it owns.
func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete analysis")
	}
	return checkRowsAffected(res, "analysis", id)
}

func scanAnalysis(row scannable) (*model.Analysis, error) {
	var (
		a                model.Analysis
		output           sql.NullString
		params, warnings sql.NullString
		status           string
	)
	err := row.Scan(&a.ID, &a.Filename, &output, &a.TotalRows, &params, &status, &a.Duration, &warnings, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan analysis")
	}
	if output.Valid {
		a.OutputFilename = &output.String
	}
	a.Status = model.AnalysisStatus(status)
	if err := unmarshalJSON(params, &a.Parameters); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(warnings, &a.Warnings); err != nil {
		return nil, err
	}
	return &a, nil
}
