package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"

	_ "modernc.org/sqlite"
)

// LocalStore is the default on-device backend: a single SQLite table of
// key/value rows. Size is tracked per row so usage stats never read values.
//
// Usage Example:
//
//	s, _ := store.NewLocalStore(".guardian/data/cache.db")
//	defer s.Close()
//
//	_ = s.Set(ctx, "guardian:u1:alerts", payload)
//	raw, err := s.Get(ctx, "guardian:u1:alerts")
//	if errors.Is(err, store.ErrNotFound) { ... }
//
//	// Periodic maintenance
//	_ = s.Vacuum(ctx)
//	backupPath, _ := s.Backup(ctx, ".guardian/backups")
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var (
	_ KV       = (*LocalStore)(nil)
	_ Vacuumer = (*LocalStore)(nil)
	_ Backuper = (*LocalStore)(nil)
)

// NewLocalStore opens (or creates) the SQLite database at path and brings
// its schema up to date. ":memory:" opens a private in-memory database.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	result, err := RunMigrations(db)
	if err != nil {
		logging.StoreError("Failed to migrate schema: %v", err)
		db.Close()
		return nil, err
	}
	if result.MigrationsRun > 0 {
		logging.Store("Schema migrated v%d -> v%d (%d steps)", result.FromVersion, result.ToVersion, result.MigrationsRun)
	}

	return &LocalStore{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	logging.StoreDebug("Closing LocalStore %s", s.dbPath)
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.StoreError("Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set replaces the value stored under key.
func (s *LocalStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, size, created_at, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 size = excluded.size,
		 updated_at = CURRENT_TIMESTAMP`,
		key, value, len(value),
	)
	if err != nil {
		logging.StoreError("Failed to set key %s: %v", key, err)
		return fmt.Errorf("set %s: %w", key, err)
	}
	logging.StoreDebug("Set %s (%d bytes)", key, len(value))
	return nil
}

// Delete removes key.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		logging.StoreError("Failed to delete key %s: %v", key, err)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix in ascending byte order.
func (s *LocalStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Range scan on the primary key; LIKE would fold ASCII case.
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv_entries WHERE key >= ? ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if !strings.HasPrefix(k, prefix) {
			break
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stats reports row count, summed value size and database size.
func (s *LocalStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Backend: "sqlite"}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM kv_entries").
		Scan(&stats.Keys, &stats.ValueBytes)
	if err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DiskBytes = pageCount * pageSize
		}
	}
	return stats, nil
}

// UpdatedAt returns when key was last written.
func (s *LocalStore) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ts time.Time
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM kv_entries WHERE key = ?", key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return ts, err
}

// Vacuum rebuilds the database file to reclaim space freed by deletes.
func (s *LocalStore) Vacuum(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryStore, "Vacuum")
	defer timer.StopWithInfo()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		logging.StoreError("VACUUM failed: %v", err)
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database into dir and returns its
// path. It uses VACUUM INTO so pages still in the WAL are included.
func (s *LocalStore) Backup(ctx context.Context, dir string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Backup")
	defer timer.StopWithInfo()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	backupPath := filepath.Join(dir, fmt.Sprintf("cache_%s.db", time.Now().Format("20060102_150405.000")))

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.Store("Creating database backup: %s -> %s", s.dbPath, backupPath)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		logging.StoreError("Failed to back up database: %v", err)
		return "", fmt.Errorf("backup failed: %w", err)
	}
	return backupPath, nil
}
