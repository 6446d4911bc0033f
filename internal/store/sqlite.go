package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		remote          TEXT NOT NULL DEFAULT '',
		connected_at    TEXT NOT NULL,
		disconnected_at TEXT,
		was_controller  INTEGER NOT NULL DEFAULT 0,
		close_reason    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_connected_at ON sessions (connected_at)`,
	`CREATE TABLE IF NOT EXISTS media (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		filename    TEXT NOT NULL,
		path        TEXT NOT NULL,
		size        INTEGER NOT NULL DEFAULT 0,
		digest      TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		archived_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS media_created_at ON media (created_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		key_hash   TEXT UNIQUE NOT NULL,
		prefix     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_used  TEXT
	)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Sessions ---

func (s *SQLiteStore) OpenSession(ctx context.Context, r *SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, remote, connected_at, was_controller) VALUES (?, ?, ?, ?)`,
		r.ID, r.Remote, formatTime(r.ConnectedAt), r.WasController)
	return err
}

func (s *SQLiteStore) CloseSession(ctx context.Context, id string, at time.Time, wasController bool, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET disconnected_at = ?, was_controller = (was_controller OR ?), close_reason = ?
		 WHERE id = ?`,
		formatTime(at), wasController, reason, id)
	return err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote, connected_at, disconnected_at, was_controller, close_reason
		 FROM sessions ORDER BY connected_at DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*SessionRecord
	for rows.Next() {
		var r SessionRecord
		var connected string
		var disconnected sql.NullString
		if err := rows.Scan(&r.ID, &r.Remote, &connected, &disconnected, &r.WasController, &r.CloseReason); err != nil {
			return nil, err
		}
		r.ConnectedAt = parseTime(connected)
		r.DisconnectedAt = parseNullTime(disconnected)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// --- Media ---

const mediaColumns = `id, kind, filename, path, size, digest, created_at, archived_at`

func (s *SQLiteStore) AddMedia(ctx context.Context, m *MediaRecord) error {
	var archived any
	if m.ArchivedAt != nil {
		archived = formatTime(*m.ArchivedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (`+mediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Kind, m.Filename, m.Path, m.Size, m.Digest, formatTime(m.CreatedAt), archived)
	return err
}

func (s *SQLiteStore) GetMedia(ctx context.Context, id string) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) ListMedia(ctx context.Context, limit int) ([]*MediaRecord, error) {
	return s.queryMedia(ctx,
		`SELECT `+mediaColumns+` FROM media ORDER BY created_at DESC LIMIT ?`, limitOrAll(limit))
}

// ListUnarchived returns the oldest media not yet archived.
func (s *SQLiteStore) ListUnarchived(ctx context.Context, limit int) ([]*MediaRecord, error) {
	return s.queryMedia(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE archived_at IS NULL ORDER BY created_at ASC LIMIT ?`, limitOrAll(limit))
}

func (s *SQLiteStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET archived_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("media %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) queryMedia(ctx context.Context, query string, args ...any) ([]*MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*MediaRecord
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(row scanner) (*MediaRecord, error) {
	var m MediaRecord
	var created string
	var archived sql.NullString
	if err := row.Scan(&m.ID, &m.Kind, &m.Filename, &m.Path, &m.Size, &m.Digest, &created, &archived); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(created)
	m.ArchivedAt = parseNullTime(archived)
	return &m, nil
}

// --- API Keys ---

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, formatTime(k.CreatedAt))
	return err
}

// VerifyAPIKey returns the key with keyHash and stamps its last use. An
// unknown hash yields (nil, nil).
func (s *SQLiteStore) VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	var k APIKey
	var created string
	var lastUsed sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, key_hash, prefix, created_at, last_used FROM api_keys WHERE key_hash = ?`, keyHash).
		Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &created, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	k.CreatedAt = parseTime(created)

	now := time.Now()
	k.LastUsed = &now
	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE id = ?`, formatTime(now), k.ID)

	return &k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, key_hash, prefix, created_at, last_used FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		var created string
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &created, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = parseTime(created)
		k.LastUsed = parseNullTime(lastUsed)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}
