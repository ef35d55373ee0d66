package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

const defaultGroupColor = "#3498db"

func (s *SQLiteStore) CreateGroup(ctx context.Context, name, color, description string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, eris.New("sqlite: create group: name is required")
	}
	if color == "" {
		color = defaultGroupColor
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO groups (name, color, description, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		name, color, description, s.now(),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: create group")
	}
	return id, nil
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.color, g.description, COUNT(cg.company_id), g.created_at
		FROM groups g LEFT JOIN company_groups cg ON cg.group_id = g.id
		GROUP BY g.id ORDER BY g.name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list groups")
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Color, &g.Description, &g.CompanyCount, &g.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan group")
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate groups")
}

// AddToGroup is idempotent.
func (s *SQLiteStore) AddToGroup(ctx context.Context, groupID, companyID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO company_groups (company_id, group_id) VALUES (?, ?)`, companyID, groupID)
	return eris.Wrap(err, "sqlite: add to group")
}

func (s *SQLiteStore) RemoveFromGroup(ctx context.Context, groupID, companyID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM company_groups WHERE company_id = ? AND group_id = ?`, companyID, groupID)
	return eris.Wrap(err, "sqlite: remove from group")
}

func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete group")
	}
	return checkRowsAffected(res, "group", groupID)
}

// CreateToken issues a new active bearer token with the given capabilities.
func (s *SQLiteStore) CreateToken(ctx context.Context, name, appURL string, userID *int64, caps model.TokenCaps) (*model.APIToken, error) {
	if strings.TrimSpace(name) == "" {
		return nil, eris.New("sqlite: create token: name is required")
	}
	t := &model.APIToken{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:      name,
		AppURL:    appURL,
		UserID:    userID,
		Active:    true,
		Caps:      caps,
		CreatedAt: s.now(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (token, name, app_url, user_id, is_active, can_read_companies, can_read_emails,
			can_read_stats, can_read_groups, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?) RETURNING id`,
		t.Token, t.Name, t.AppURL, nullInt64(userID), boolInt(caps.ReadCompanies), boolInt(caps.ReadEmails),
		boolInt(caps.ReadStats), boolInt(caps.ReadGroups), t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create token")
	}
	return t, nil
}

const tokenColumns = `id, token, name, app_url, user_id, is_active, can_read_companies, can_read_emails,
	can_read_stats, can_read_groups, created_at, last_used`

// ValidateToken returns the active token matching the value and records
// its use. Unknown or revoked tokens yield ErrNotFound.
func (s *SQLiteStore) ValidateToken(ctx context.Context, token string) (*model.APIToken, error) {
	if token == "" {
		return nil, eris.Wrap(ErrNotFound, "empty token")
	}
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token = ? AND is_active = 1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "token")
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used = ? WHERE id = ?`, now, t.ID); err != nil {
		return nil, eris.Wrap(err, "sqlite: touch token")
	}
	t.LastUsed = &now
	return t, nil
}

func (s *SQLiteStore) RevokeToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: revoke token")
	}
	return checkRowsAffected(res, "token", id)
}

func (s *SQLiteStore) ListTokens(ctx context.Context) ([]model.APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tokenColumns+` FROM api_tokens ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tokens")
	}
	defer rows.Close()

	var out []model.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate tokens")
}

func scanToken(row scannable) (*model.APIToken, error) {
	var (
		t                                        model.APIToken
		userID                                   sql.NullInt64
		active, companies, emails, stats, groups bool
		lastUsed                                 sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Token, &t.Name, &t.AppURL, &userID, &active, &companies, &emails, &stats, &groups,
		&t.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan token")
	}
	t.UserID = int64Ptr(userID)
	t.Active = active
	t.Caps = model.TokenCaps{ReadCompanies: companies, ReadEmails: emails, ReadStats: stats, ReadGroups: groups}
	if lastUsed.Valid {
		t.LastUsed = &lastUsed.Time
	}
	return &t, nil
}
