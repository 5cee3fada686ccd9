package codecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("tiercomp.codecache")

// ErrNotFound indicates the requested artifact is not cached.
var ErrNotFound = errors.New("codecache: artifact not found")

// Store is an SQLite-backed artifact cache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("codecache: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("codecache: opening database: %w", err)
	}

	// One connection, so the pragma below applies to every statement.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		arch TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: creating table: %w", err)
	}
	log.Debugf("opened code cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores r under key, replacing any previous artifact.
func (s *Store) Put(ctx context.Context, key string, r *Record) error {
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("codecache: encoding %s: %w", r.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO artifacts (key, name, arch, data) VALUES (?, ?, ?, ?)",
		key, r.Name, string(r.Arch), data,
	)
	if err != nil {
		return fmt.Errorf("codecache: saving %s: %w", r.Name, err)
	}
	return nil
}

// Get returns the artifact stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM artifacts WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("codecache: querying %s: %w", key, err)
	}
	return Unmarshal(data)
}

// Delete removes the artifact stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE key = ?", key); err != nil {
		return fmt.Errorf("codecache: deleting %s: %w", key, err)
	}
	return nil
}

// Count returns the number of stored artifacts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("codecache: counting: %w", err)
	}
	return n, nil
}

// FindByName returns the keys of every artifact compiled from the named
// method, for any architecture.
func (s *Store) FindByName(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM artifacts WHERE name = ? ORDER BY key", name)
	if err != nil {
		return nil, fmt.Errorf("codecache: querying by name: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("codecache: scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
