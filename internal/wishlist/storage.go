package wishlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Storage is a small durable key/value area scoped per owner (visitor).
type Storage interface {
	Get(ctx context.Context, owner, key string) (string, bool, error)
	Set(ctx context.Context, owner, key, value string) error
}

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get implements Storage.
func (m *MemoryStorage) Get(_ context.Context, owner, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[owner+"\x00"+key]
	return v, ok, nil
}

// Set implements Storage.
func (m *MemoryStorage) Set(_ context.Context, owner, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[owner+"\x00"+key] = value
	return nil
}

// SQLiteStorage persists values in a local SQLite file.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("wishlist: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wishlist: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("wishlist: open database: %w", err)
	}
	s := &SQLiteStorage{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("wishlist: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS local_storage (
		owner TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (owner, key)
	)`)
	return err
}

// Get implements Storage.
func (s *SQLiteStorage) Get(ctx context.Context, owner, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_storage WHERE owner = ? AND key = ?`, owner, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("wishlist: read %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Storage.
func (s *SQLiteStorage) Set(ctx context.Context, owner, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO local_storage (owner, key, value, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (owner, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		owner, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("wishlist: write %s: %w", key, err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
