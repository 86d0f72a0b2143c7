// Package checkpoint persists job progress so an interrupted sync can resume
// without re-embedding items that already reached a terminal outcome.
package checkpoint

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding job state and per-item outcomes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the checkpoint database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vecsync.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Job is one sync job's persisted state.
type Job struct {
	ID         string
	Status     string // running | completed | cancelled
	Source     string
	Cursor     string
	ReportJSON string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// CreateJob records a new running job. source is a human-readable
// description of what's being synced.
func (s *Store) CreateJob(id, source string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, status, source, created_at)
		VALUES (?, 'running', ?, ?)`,
		id, source, now,
	)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", id, err)
	}
	return nil
}

// GetJob loads a job by id, or nil if it doesn't exist.
func (s *Store) GetJob(id string) (*Job, error) {
	var (
		j          Job
		reportJSON sql.NullString
		createdAt  string
		finishedAt sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, status, source, cursor, report_json, created_at, finished_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Status, &j.Source, &j.Cursor, &reportJSON, &createdAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	j.ReportJSON = reportJSON.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if finishedAt.Valid {
		j.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
	}
	return &j, nil
}

// SaveCursor records the source's resume position for a job.
func (s *Store) SaveCursor(id, cursor string) error {
	_, err := s.db.Exec(`UPDATE jobs SET cursor = ? WHERE id = ?`, cursor, id)
	if err != nil {
		return fmt.Errorf("saving cursor for job %s: %w", id, err)
	}
	return nil
}

// RecordOutcome upserts one item's terminal outcome for a job.
func (s *Store) RecordOutcome(jobID, itemKey, status, errorKind, message string, attempts int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO outcomes (job_id, item_key, status, error_kind, message, attempts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, item_key) DO UPDATE SET
			status = excluded.status,
			error_kind = excluded.error_kind,
			message = excluded.message,
			attempts = excluded.attempts,
			recorded_at = excluded.recorded_at`,
		jobID, itemKey, status, errorKind, message, attempts, now,
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %s/%s: %w", jobID, itemKey, err)
	}
	return nil
}

// TerminalKeys returns the keys that already succeeded or terminally failed
// for a job. Cancelled items are not terminal for resume purposes: the
// point of resuming is to finish them.
func (s *Store) TerminalKeys(jobID string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT item_key FROM outcomes
		WHERE job_id = ? AND status IN ('succeeded', 'retried', 'failed')`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading terminal keys for job %s: %w", jobID, err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning terminal key: %w", err)
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// FinishJob marks a job terminal and stores its report.
func (s *Store) FinishJob(id, status, reportJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, report_json = ?, finished_at = ? WHERE id = ?`,
		status, reportJSON, now, id,
	)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", id, err)
	}
	return nil
}
