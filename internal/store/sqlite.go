package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path. Foreign keys,
// WAL mode, and immediate write transactions are enabled on every pooled
// connection through DSN pragmas.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join([]string{
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(10000)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}, "&")
}

// DB exposes the underlying handle for tests and maintenance commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS _migrations (
	name       TEXT PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analyses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	filename        TEXT NOT NULL,
	output_filename TEXT,
	total_rows      INTEGER NOT NULL DEFAULT 0,
	parameters      TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	duration        REAL NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS companies (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id       INTEGER REFERENCES analyses(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	name_key          TEXT NOT NULL,
	website           TEXT NOT NULL DEFAULT '',
	website_key       TEXT NOT NULL DEFAULT '',
	address_key       TEXT NOT NULL DEFAULT '',
	sector            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'New',
	opportunity       TEXT NOT NULL DEFAULT '',
	opportunity_score INTEGER,
	email             TEXT NOT NULL DEFAULT '',
	responsible       TEXT NOT NULL DEFAULT '',
	size              TEXT NOT NULL DEFAULT '',
	hosting           TEXT NOT NULL DEFAULT '',
	framework         TEXT NOT NULL DEFAULT '',
	security_score    INTEGER,
	pentest_score     INTEGER,
	tags              TEXT NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '',
	favorite          INTEGER NOT NULL DEFAULT 0,
	phone             TEXT NOT NULL DEFAULT '',
	country           TEXT NOT NULL DEFAULT '',
	address_1         TEXT NOT NULL DEFAULT '',
	address_2         TEXT NOT NULL DEFAULT '',
	longitude         REAL,
	latitude          REAL,
	rating            REAL,
	reviews_count     INTEGER,
	summary           TEXT NOT NULL DEFAULT '',
	og_image          TEXT NOT NULL DEFAULT '',
	favicon           TEXT NOT NULL DEFAULT '',
	logo              TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_companies_name_website
	ON companies(name_key, website_key) WHERE website_key <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_companies_name_address
	ON companies(name_key, address_key) WHERE website_key = '';
CREATE INDEX IF NOT EXISTS idx_companies_analysis ON companies(analysis_id);
CREATE INDEX IF NOT EXISTS idx_companies_sector ON companies(sector);
CREATE INDEX IF NOT EXISTS idx_companies_coords ON companies(latitude, longitude);

CREATE TABLE IF NOT EXISTS scrapers (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id         INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	url                TEXT NOT NULL,
	kind               TEXT NOT NULL,
	visited_urls       INTEGER NOT NULL DEFAULT 0,
	emails_count       INTEGER NOT NULL DEFAULT 0,
	people_count       INTEGER NOT NULL DEFAULT 0,
	phones_count       INTEGER NOT NULL DEFAULT 0,
	social_count       INTEGER NOT NULL DEFAULT 0,
	technologies_count INTEGER NOT NULL DEFAULT 0,
	metadata_count     INTEGER NOT NULL DEFAULT 0,
	images_count       INTEGER NOT NULL DEFAULT 0,
	duration           REAL NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(company_id, url, kind)
);

CREATE TABLE IF NOT EXISTS scraper_emails (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper_id INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	page_url   TEXT NOT NULL DEFAULT '',
	UNIQUE(scraper_id, email)
);

CREATE TABLE IF NOT EXISTS scraper_phones (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper_id INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	phone      TEXT NOT NULL,
	page_url   TEXT NOT NULL DEFAULT '',
	UNIQUE(scraper_id, phone)
);

CREATE TABLE IF NOT EXISTS scraper_social_profiles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper_id INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	platform   TEXT NOT NULL,
	url        TEXT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	UNIQUE(scraper_id, platform, url)
);

CREATE TABLE IF NOT EXISTS scraper_technologies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper_id INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	UNIQUE(scraper_id, category, name)
);

CREATE TABLE IF NOT EXISTS persons (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id      INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	name_key        TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	linkedin_url    TEXT NOT NULL DEFAULT '',
	hierarchy_level INTEGER NOT NULL DEFAULT 5,
	role            TEXT NOT NULL DEFAULT '',
	manager_id      INTEGER REFERENCES persons(id) ON DELETE SET NULL,
	social_profiles TEXT,
	osint           TEXT,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(company_id, name_key)
);

CREATE TABLE IF NOT EXISTS scraper_people (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	scraper_id   INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	company_id   INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	person_id    INTEGER REFERENCES persons(id) ON DELETE SET NULL,
	name         TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	page_url     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS images (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	scraper_id INTEGER NOT NULL REFERENCES scrapers(id) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	alt        TEXT NOT NULL DEFAULT '',
	page_url   TEXT NOT NULL DEFAULT '',
	width      INTEGER,
	height     INTEGER,
	UNIQUE(company_id, url)
);

CREATE TABLE IF NOT EXISTS technical_analyses (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id        INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	url               TEXT NOT NULL,
	domain            TEXT NOT NULL DEFAULT '',
	server            TEXT NOT NULL DEFAULT '',
	cms               TEXT NOT NULL DEFAULT '',
	cms_version       TEXT NOT NULL DEFAULT '',
	cdn               TEXT NOT NULL DEFAULT '',
	ip                TEXT NOT NULL DEFAULT '',
	ssl_days_left     INTEGER,
	security_score    INTEGER,
	performance_score INTEGER,
	report            TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS technical_cms_plugins (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES technical_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	version     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS technical_security_headers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES technical_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	value       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS technical_analytics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES technical_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS osint_analyses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	url         TEXT NOT NULL,
	domain      TEXT NOT NULL DEFAULT '',
	people      INTEGER NOT NULL DEFAULT 0,
	report      TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS osint_subdomains (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES osint_analyses(id) ON DELETE CASCADE,
	subdomain   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS osint_dns_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES osint_analyses(id) ON DELETE CASCADE,
	record_type TEXT NOT NULL,
	value       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS osint_emails (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES osint_analyses(id) ON DELETE CASCADE,
	email       TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS osint_social_media (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES osint_analyses(id) ON DELETE CASCADE,
	platform    TEXT NOT NULL,
	url         TEXT NOT NULL,
	username    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS osint_technologies (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES osint_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pentest_analyses (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id     INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	url            TEXT NOT NULL,
	domain         TEXT NOT NULL DEFAULT '',
	risk_score     INTEGER NOT NULL DEFAULT 0,
	critical_count INTEGER NOT NULL DEFAULT 0,
	high_count     INTEGER NOT NULL DEFAULT 0,
	report         TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS pentest_vulnerabilities (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id    INTEGER NOT NULL REFERENCES pentest_analyses(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	evidence       TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pentest_security_headers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES pentest_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	present     INTEGER NOT NULL DEFAULT 0,
	value       TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pentest_cms_vulnerabilities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES pentest_analyses(id) ON DELETE CASCADE,
	cms         TEXT NOT NULL,
	version     TEXT NOT NULL DEFAULT '',
	issue       TEXT NOT NULL,
	severity    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pentest_open_ports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES pentest_analyses(id) ON DELETE CASCADE,
	port        INTEGER NOT NULL,
	protocol    TEXT NOT NULL DEFAULT 'tcp',
	state       TEXT NOT NULL DEFAULT 'open',
	service     TEXT NOT NULL DEFAULT '',
	version     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS seo_analyses (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	domain     TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL DEFAULT 0,
	report     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS seo_meta_tags (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES seo_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS seo_headers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES seo_analyses(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	value       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS seo_issues (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES seo_analyses(id) ON DELETE CASCADE,
	issue_type  TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	impact      TEXT NOT NULL,
	message     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	color       TEXT NOT NULL DEFAULT '#3498db',
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS company_groups (
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	group_id   INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	PRIMARY KEY (company_id, group_id)
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	token              TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	app_url            TEXT NOT NULL DEFAULT '',
	user_id            INTEGER,
	is_active          INTEGER NOT NULL DEFAULT 1,
	can_read_companies INTEGER NOT NULL DEFAULT 1,
	can_read_emails    INTEGER NOT NULL DEFAULT 0,
	can_read_stats     INTEGER NOT NULL DEFAULT 0,
	can_read_groups    INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_scrapers_company ON scrapers(company_id);
CREATE INDEX IF NOT EXISTS idx_images_scraper ON images(scraper_id);
CREATE INDEX IF NOT EXISTS idx_persons_company ON persons(company_id);
CREATE INDEX IF NOT EXISTS idx_technical_company ON technical_analyses(company_id);
CREATE INDEX IF NOT EXISTS idx_osint_company ON osint_analyses(company_id);
CREATE INDEX IF NOT EXISTS idx_pentest_company ON pentest_analyses(company_id);
CREATE INDEX IF NOT EXISTS idx_seo_company ON seo_analyses(company_id);
`

// additiveColumns are columns introduced after the first schema release.
// Each is added with ALTER TABLE; an "already exists" failure is expected
// on databases that already carry it.
var additiveColumns = []struct {
	table, column, ddl string
}{
	{"analyses", "warnings", "TEXT"},
	{"companies", "opportunity_breakdown", "TEXT"},
	{"companies", "og_data", "TEXT"},
	{"companies", "site_age_score", "INTEGER"},
	{"scrapers", "resume", "TEXT NOT NULL DEFAULT ''"},
	{"scrapers", "metadata", "TEXT"},
	{"osint_analyses", "subdomains_count", "INTEGER NOT NULL DEFAULT 0"},
	{"osint_analyses", "emails_count", "INTEGER NOT NULL DEFAULT 0"},
	{"seo_issues", "category", "TEXT NOT NULL DEFAULT ''"},
}

// migrations are one-shot data migrations recorded by name in _migrations.
var migrations = []struct {
	name string
	fn   func(ctx context.Context, tx *sql.Tx) error
}{
	{"foreign_keys_cascade", migrateForeignKeysCascade},
}

// Migrate creates the schema, applies additive columns, and runs pending
// named migrations. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return eris.Wrap(err, "sqlite: migrate schema")
	}

	for _, c := range additiveColumns {
		stmt := "ALTER TABLE " + c.table + " ADD COLUMN " + c.column + " " + c.ddl
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return eris.Wrapf(err, "sqlite: add column %s.%s", c.table, c.column)
		}
	}

	for _, m := range migrations {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _migrations WHERE name = ?`, m.name).Scan(&n); err != nil {
			return eris.Wrapf(err, "sqlite: check migration %s", m.name)
		}
		if n > 0 {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.fn(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`, m.name, s.now())
			return err
		})
		if err != nil {
			return eris.Wrapf(err, "sqlite: migration %s", m.name)
		}
		zap.L().Info("sqlite: applied migration", zap.String("name", m.name))
	}
	return nil
}

// migrateForeignKeysCascade removes rows orphaned by databases that were
// written before foreign keys were enforced, so the cascade rules hold.
func migrateForeignKeysCascade(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return eris.Wrap(err, "foreign_key_check")
	}
	type orphan struct {
		table string
		rowid int64
	}
	var orphans []orphan
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int64
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			rows.Close()
			return eris.Wrap(err, "scan foreign_key_check")
		}
		if rowid.Valid {
			orphans = append(orphans, orphan{table, rowid.Int64})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "iterate foreign_key_check")
	}

	for _, o := range orphans {
		if _, err := tx.ExecContext(ctx, `DELETE FROM "`+o.table+`" WHERE rowid = ?`, o.rowid); err != nil {
			return eris.Wrapf(err, "delete orphan from %s", o.table)
		}
	}
	if len(orphans) > 0 {
		zap.L().Warn("sqlite: removed orphan rows", zap.Int("count", len(orphans)))
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "marshal json")
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return eris.Wrap(json.Unmarshal([]byte(ns.String), dst), "unmarshal json")
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampScore(p *int) *int {
	if p == nil {
		return nil
	}
	v := max(0, min(100, *p))
	return &v
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
