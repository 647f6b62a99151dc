package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by a single SQLite table.
//
// It is the durable analogue of browser local storage: one flat key/value
// namespace, values stored as opaque blobs, survives process restarts.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at the given path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent Set calls.
	db.SetMaxOpenConns(1)

	if err := createTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createTable(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	_, err := db.Exec(schema)
	return err
}

// Get retrieves a value. Returns (nil, false, nil) on miss.
func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		// A damaged row is a miss, not a failure.
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores a value, overwriting any previous value.
func (s *SQLiteStore) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes a value. Idempotent - no error on miss.
func (s *SQLiteStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("store: failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix.
func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		"SELECT key FROM kv WHERE key LIKE ? ESCAPE '\\' ORDER BY key",
		likePattern(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Clear removes all keys with the given prefix.
func (s *SQLiteStore) Clear(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		"DELETE FROM kv WHERE key LIKE ? ESCAPE '\\'",
		likePattern(prefix),
	)
	if err != nil {
		return fmt.Errorf("store: failed to clear prefix %q: %w", prefix, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

// likePattern escapes LIKE metacharacters in prefix and appends a wildcard.
func likePattern(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+2)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
