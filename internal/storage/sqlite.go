package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the classification cache and the
// batch job ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "graceworks.db")
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

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
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

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
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

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
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

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Cache entries ---

// SaveCacheEntry upserts a classification for a content hash. A conflicting
// entry for the same hash is logged and replaced; identical re-saves are
// silent.
func (s *Store) SaveCacheEntry(e CacheEntry) error {
	existing, err := s.GetCacheEntry(e.ContentHash)
	if err != nil && err != ErrNotFound {
		return err
	}
	if err == nil && (existing.Score != e.Score || existing.Explanation != e.Explanation || existing.Model != e.Model) {
		s.logger.Warn("conflicting cache entry replaced",
			"hash", e.ContentHash,
			"old_score", existing.Score,
			"new_score", e.Score)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO cache_entries (content_hash, score, explanation, key_phrases, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			score = excluded.score,
			explanation = excluded.explanation,
			key_phrases = excluded.key_phrases,
			model = excluded.model`,
		e.ContentHash, e.Score, e.Explanation, e.KeyPhrases, e.Model,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetCacheEntry(hash string) (CacheEntry, error) {
	var e CacheEntry
	var createdAt string
	err := s.db.QueryRow(`
		SELECT content_hash, score, explanation, key_phrases, model, created_at
		FROM cache_entries WHERE content_hash = ?`, hash,
	).Scan(&e.ContentHash, &e.Score, &e.Explanation, &e.KeyPhrases, &e.Model, &createdAt)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

// LoadCacheEntries returns every persisted cache entry, used to warm the
// in-memory cache at startup.
func (s *Store) LoadCacheEntries() ([]CacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT content_hash, score, explanation, key_phrases, model, created_at
		FROM cache_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var createdAt string
		if err := rows.Scan(&e.ContentHash, &e.Score, &e.Explanation, &e.KeyPhrases, &e.Model, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Batch jobs ---

func (s *Store) SaveBatchJob(job BatchJob) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !job.CreatedAt.IsZero() {
		createdAt = job.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO batch_jobs (id, input_file_id, provider_id, status, request_count, created_at, updated_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.InputFileID, job.ProviderID, job.Status, job.RequestCount, createdAt, now, job.LastError,
	)
	return err
}

// UpdateBatchJob records a status transition for an existing job.
func (s *Store) UpdateBatchJob(id, status, providerID, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE batch_jobs
		SET status = ?, provider_id = CASE WHEN ? != '' THEN ? ELSE provider_id END, last_error = ?, updated_at = ?
		WHERE id = ?`,
		status, providerID, providerID, lastError, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetBatchJob(id string) (BatchJob, error) {
	var j BatchJob
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, input_file_id, provider_id, status, request_count, created_at, updated_at, last_error
		FROM batch_jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.InputFileID, &j.ProviderID, &j.Status, &j.RequestCount, &createdAt, &updatedAt, &j.LastError)
	if err == sql.ErrNoRows {
		return BatchJob{}, ErrNotFound
	}
	if err != nil {
		return BatchJob{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return BatchJob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return BatchJob{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

func (s *Store) ListBatchJobs() ([]BatchJob, error) {
	rows, err := s.db.Query(`
		SELECT id, input_file_id, provider_id, status, request_count, created_at, updated_at, last_error
		FROM batch_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []BatchJob
	for rows.Next() {
		var j BatchJob
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.InputFileID, &j.ProviderID, &j.Status, &j.RequestCount, &createdAt, &updatedAt, &j.LastError); err != nil {
			return nil, err
		}
		if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, j)
	}
	return results, rows.Err()
}
