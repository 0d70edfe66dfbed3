package safety

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists backup metadata, rollback points, and violations in a
// project-local SQLite database.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultStorePath returns the project-local database location.
func DefaultStorePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".nocturnd", "safety.db")
}

// OpenStore opens the database at path, creating parent directories and
// applying migrations. WAL mode is enabled for concurrent reads.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Backups},
		{2, migrationV2RollbackPoints},
		{3, migrationV3Violations},
		{4, migrationV4BackupVerification},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Backups = `
CREATE TABLE IF NOT EXISTS backups (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	file_count INTEGER NOT NULL DEFAULT 0,
	git_commit TEXT,
	git_branch TEXT,
	checksum TEXT,
	session_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backups_session ON backups(session_id);
CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);
`

const migrationV4BackupVerification = `
ALTER TABLE backups ADD COLUMN verification_status TEXT NOT NULL DEFAULT 'unverified';
`

const migrationV2RollbackPoints = `
CREATE TABLE IF NOT EXISTS rollback_points (
	id TEXT PRIMARY KEY,
	commit_hash TEXT NOT NULL,
	branch TEXT,
	description TEXT,
	session_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rollback_points_session ON rollback_points(session_id);
CREATE INDEX IF NOT EXISTS idx_rollback_points_created ON rollback_points(created_at);
`

const migrationV3Violations = `
CREATE TABLE IF NOT EXISTS violations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	patterns TEXT NOT NULL,
	danger_level TEXT NOT NULL,
	blocked INTEGER NOT NULL DEFAULT 0,
	session_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id);
CREATE INDEX IF NOT EXISTS idx_violations_level ON violations(danger_level);
`

// SaveBackup inserts backup metadata.
func (s *Store) SaveBackup(b *BackupInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := b.Verification
	if status == "" {
		status = VerificationUnverified
	}
	_, err := s.conn.Exec(`
		INSERT INTO backups (id, type, path, size_bytes, file_count, git_commit, git_branch, checksum, session_id, verification_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, string(b.Type), b.Path, b.SizeBytes, b.FileCount, b.GitCommit, b.GitBranch, b.Checksum, b.SessionID, string(status), formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	return nil
}

// UpdateBackupVerification records a backup's integrity-check outcome.
func (s *Store) UpdateBackupVerification(id string, status VerificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec("UPDATE backups SET verification_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update backup verification: %w", err)
	}
	return nil
}

// ListBackups returns backups newest first, up to limit.
func (s *Store) ListBackups(limit int) ([]*BackupInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, type, path, size_bytes, file_count, git_commit, git_branch, checksum, session_id, verification_status, created_at
		FROM backups ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []*BackupInfo
	for rows.Next() {
		b := &BackupInfo{}
		var typ, status, createdAt string
		var commit, branch, checksum sql.NullString
		if err := rows.Scan(&b.ID, &typ, &b.Path, &b.SizeBytes, &b.FileCount, &commit, &branch, &checksum, &b.SessionID, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		b.Type = BackupType(typ)
		b.GitCommit = commit.String
		b.GitBranch = branch.String
		b.Checksum = checksum.String
		b.Verification = VerificationStatus(status)
		if t, err := parseTime(createdAt); err == nil {
			b.CreatedAt = t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBackup removes backup metadata by id.
func (s *Store) DeleteBackup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec("DELETE FROM backups WHERE id = ?", id)
	return err
}

// SaveRollbackPoint inserts a rollback point.
func (s *Store) SaveRollbackPoint(p *RollbackPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO rollback_points (id, commit_hash, branch, description, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Commit, p.Branch, p.Description, p.SessionID, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("save rollback point: %w", err)
	}
	return nil
}

// ListRollbackPoints returns points newest first, up to limit.
func (s *Store) ListRollbackPoints(limit int) ([]*RollbackPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, commit_hash, branch, description, session_id, created_at
		FROM rollback_points ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rollback points: %w", err)
	}
	defer rows.Close()

	var out []*RollbackPoint
	for rows.Next() {
		p := &RollbackPoint{}
		var branch, desc sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Commit, &branch, &desc, &p.SessionID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rollback point: %w", err)
		}
		p.Branch = branch.String
		p.Description = desc.String
		if t, err := parseTime(createdAt); err == nil {
			p.CreatedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetRollbackPoint looks a point up by id.
func (s *Store) GetRollbackPoint(id string) (*RollbackPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &RollbackPoint{}
	var branch, desc sql.NullString
	var createdAt string
	err := s.conn.QueryRow(`
		SELECT id, commit_hash, branch, description, session_id, created_at
		FROM rollback_points WHERE id = ?
	`, id).Scan(&p.ID, &p.Commit, &branch, &desc, &p.SessionID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rollback point %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get rollback point: %w", err)
	}
	p.Branch = branch.String
	p.Description = desc.String
	if t, err := parseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}

// DeleteRollbackPoint removes a point by id.
func (s *Store) DeleteRollbackPoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec("DELETE FROM rollback_points WHERE id = ?", id)
	return err
}

// SaveViolation records one danger detection.
func (s *Store) SaveViolation(taskID, sessionID string, patterns []string, level DangerLevel, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockedInt := 0
	if blocked {
		blockedInt = 1
	}
	_, err := s.conn.Exec(`
		INSERT INTO violations (task_id, patterns, danger_level, blocked, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, strings.Join(patterns, ","), string(level), blockedInt, sessionID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save violation: %w", err)
	}
	return nil
}

// CountViolationsByLevel tallies violations for one session grouped by
// danger level.
func (s *Store) CountViolationsByLevel(sessionID string) (map[DangerLevel]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT danger_level, COUNT(*) FROM violations WHERE session_id = ? GROUP BY danger_level
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}
	defer rows.Close()

	out := make(map[DangerLevel]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan violation count: %w", err)
		}
		out[DangerLevel(level)] = n
	}
	return out, rows.Err()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
