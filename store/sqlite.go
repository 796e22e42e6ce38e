package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/insanmiy/banward/model"
)

// SQLiteStore is an embedded-SQL implementation of PunishmentStore backed by
// a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite punishment store.
// If dbPath is empty, it uses ":memory:" for an in-memory database.
// For file-based storage, use a path like "./data/punishments.db"; the
// directory is created automatically if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%w: create directory for database: %v", ErrStorageFailure, err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageFailure, err)
	}

	// A single connection serializes all writers, which keeps same-subject
	// mutations ordered without backend-specific locking.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrStorageFailure, err)
	}

	return store, nil
}

// initSchema creates the necessary tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS punishments (
		subject_id TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		operator TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT -1,
		active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (subject_id, created_at)
	);

	CREATE INDEX IF NOT EXISTS idx_punishments_subject_id ON punishments(subject_id);
	CREATE INDEX IF NOT EXISTS idx_punishments_ip_address ON punishments(ip_address);
	CREATE INDEX IF NOT EXISTS idx_punishments_active ON punishments(active);

	CREATE TABLE IF NOT EXISTS identities (
		name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		subject_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_identities_subject_id ON identities(subject_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a new punishment record.
func (s *SQLiteStore) Save(ctx context.Context, p *model.Punishment) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO punishments (subject_id, subject_name, ip_address, kind, reason, operator, created_at, expires_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SubjectID.String(), p.SubjectName, p.IPAddress, string(p.Kind),
		p.Reason, p.Operator, p.CreatedAt, p.ExpiresAt, boolToInt(p.Active))
	if err != nil {
		return fmt.Errorf("%w: save punishment: %v", ErrStorageFailure, err)
	}
	return nil
}

// MarkInactive flips active=false for the identified record. Repeating the
// call matches zero rows and is a no-op.
func (s *SQLiteStore) MarkInactive(ctx context.Context, subjectID uuid.UUID, createdAt int64) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE punishments SET active = 0 WHERE subject_id = ? AND created_at = ? AND active = 1`,
		subjectID.String(), createdAt)
	if err != nil {
		return fmt.Errorf("%w: mark punishment inactive: %v", ErrStorageFailure, err)
	}
	return nil
}

// QueryActive returns records for the subject with a stored active flag.
func (s *SQLiteStore) QueryActive(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx,
		`SELECT subject_id, subject_name, ip_address, kind, reason, operator, created_at, expires_at, active
		 FROM punishments WHERE subject_id = ? AND active = 1 ORDER BY created_at DESC`,
		subjectID.String())
}

// QueryHistory returns all records for the subject, newest first.
func (s *SQLiteStore) QueryHistory(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx,
		`SELECT subject_id, subject_name, ip_address, kind, reason, operator, created_at, expires_at, active
		 FROM punishments WHERE subject_id = ? ORDER BY created_at DESC`,
		subjectID.String())
}

// QueryByIP returns all records bearing the given IP address.
func (s *SQLiteStore) QueryByIP(ctx context.Context, ip string) ([]*model.Punishment, error) {
	if ip == "" {
		return nil, nil
	}
	return s.queryPunishments(ctx,
		`SELECT subject_id, subject_name, ip_address, kind, reason, operator, created_at, expires_at, active
		 FROM punishments WHERE ip_address = ? ORDER BY created_at DESC`,
		ip)
}

// ListActive returns every stored-active record across all subjects.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx,
		`SELECT subject_id, subject_name, ip_address, kind, reason, operator, created_at, expires_at, active
		 FROM punishments WHERE active = 1`)
}

// queryPunishments runs a punishment query and scans the rows.
func (s *SQLiteStore) queryPunishments(ctx context.Context, query string, args ...any) ([]*model.Punishment, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query punishments: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []*model.Punishment
	for rows.Next() {
		p, err := scanPunishment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate punishments: %v", ErrStorageFailure, err)
	}
	return out, nil
}

// scanPunishment maps one result row to a Punishment.
func scanPunishment(rows *sql.Rows) (*model.Punishment, error) {
	var (
		p         model.Punishment
		subjectID string
		kind      string
		active    int
	)
	if err := rows.Scan(&subjectID, &p.SubjectName, &p.IPAddress, &kind,
		&p.Reason, &p.Operator, &p.CreatedAt, &p.ExpiresAt, &active); err != nil {
		return nil, fmt.Errorf("%w: scan punishment: %v", ErrStorageFailure, err)
	}

	id, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: parse subject id %q: %v", ErrStorageFailure, subjectID, err)
	}
	p.SubjectID = id
	p.Kind = model.Kind(kind)
	p.Active = active != 0
	return &p, nil
}

// ResolveIdentity looks up a subject ID by display name.
func (s *SQLiteStore) ResolveIdentity(ctx context.Context, name string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	var subjectID string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id FROM identities WHERE name = lower(?)`, name).Scan(&subjectID)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: resolve identity: %v", ErrStorageFailure, err)
	}

	id, err := uuid.Parse(subjectID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse subject id %q: %v", ErrStorageFailure, subjectID, err)
	}
	return id, nil
}

// LookupName returns the last known display name for a subject ID.
func (s *SQLiteStore) LookupName(ctx context.Context, subjectID uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM identities WHERE subject_id = ?`, subjectID.String()).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: lookup name: %v", ErrStorageFailure, err)
	}
	return name, nil
}

// CacheIdentity records a name to subject ID association, last write wins.
func (s *SQLiteStore) CacheIdentity(ctx context.Context, name string, subjectID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (name, display_name, subject_id) VALUES (lower(?), ?, ?)
		 ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name, subject_id = excluded.subject_id`,
		name, name, subjectID.String())
	if err != nil {
		return fmt.Errorf("%w: cache identity: %v", ErrStorageFailure, err)
	}
	return nil
}

// ListKnownNames returns every display name in the identity cache.
func (s *SQLiteStore) ListKnownNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT display_name FROM identities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list known names: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan name: %v", ErrStorageFailure, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate names: %v", ErrStorageFailure, err)
	}
	return names, nil
}

// ClearAll wipes all punishments and cached identities.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM punishments`); err != nil {
		return fmt.Errorf("%w: clear punishments: %v", ErrStorageFailure, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identities`); err != nil {
		return fmt.Errorf("%w: clear identities: %v", ErrStorageFailure, err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements PunishmentStore
var _ PunishmentStore = (*SQLiteStore)(nil)
