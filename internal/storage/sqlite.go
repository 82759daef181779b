// Package storage persists generation and probe outcomes to SQLite so the
// CLI and API can show recent pipeline behavior.
package storage

import (
	"database/sql"
	"embed"
	"errors"
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

// Store wraps a SQLite database holding generation and probe history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "storyd.db")
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

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
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

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
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

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Generations ---

// SaveGeneration records one structured-generation outcome.
func (s *Store) SaveGeneration(g Generation) error {
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	issues := g.Issues
	if issues == "" {
		issues = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO generations (id, model, success, attempts, issues, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Model, boolInt(g.Success), g.Attempts, issues, g.Error,
		g.Duration.Milliseconds(), createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListGenerations returns the most recent generation records, newest first.
func (s *Store) ListGenerations(limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, model, success, attempts, issues, error, duration_ms, created_at
		FROM generations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var g Generation
		var success int
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Model, &success, &g.Attempts, &g.Issues, &g.Error, &durationMS, &createdAt); err != nil {
			return nil, err
		}
		g.Success = success != 0
		g.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			g.CreatedAt = t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGeneration returns a single generation record by ID, or ErrNotFound.
func (s *Store) GetGeneration(id string) (Generation, error) {
	var g Generation
	var success int
	var durationMS int64
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, model, success, attempts, issues, error, duration_ms, created_at
		FROM generations WHERE id = ?`, id).
		Scan(&g.ID, &g.Model, &success, &g.Attempts, &g.Issues, &g.Error, &durationMS, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	if err != nil {
		return Generation{}, err
	}
	g.Success = success != 0
	g.Duration = time.Duration(durationMS) * time.Millisecond
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		g.CreatedAt = t
	}
	return g, nil
}

// --- Probes ---

// SaveProbe records one connection-test outcome.
func (s *Store) SaveProbe(p Probe) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO probes (id, url, model, success, model_used, response_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Model, boolInt(p.Success), p.ModelUsed,
		p.ResponseTime.Milliseconds(), p.Error, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListProbes returns the most recent probe records, newest first.
func (s *Store) ListProbes(limit int) ([]Probe, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, url, model, success, model_used, response_ms, error, created_at
		FROM probes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Probe
	for rows.Next() {
		var p Probe
		var success int
		var responseMS int64
		var createdAt string
		if err := rows.Scan(&p.ID, &p.URL, &p.Model, &success, &p.ModelUsed, &responseMS, &p.Error, &createdAt); err != nil {
			return nil, err
		}
		p.Success = success != 0
		p.ResponseTime = time.Duration(responseMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			p.CreatedAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
