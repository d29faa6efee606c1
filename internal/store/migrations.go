package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
)

// Schema versions:
// v1: kv_entries(key, value, updated_at)
// v2: size and created_at columns, size backfilled from existing values
const CurrentSchemaVersion = 2

// MigrationResult holds the result of a migration operation.
type MigrationResult struct {
	FromVersion   int
	ToVersion     int
	MigrationsRun int
	Duration      time.Duration
}

// Migration defines a column added after a table was first created.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// v2Columns are added to databases created at v1.
var v2Columns = []Migration{
	{"kv_entries", "size", "INTEGER NOT NULL DEFAULT 0"},
	{"kv_entries", "created_at", "DATETIME"},
}

// RunMigrations brings db to CurrentSchemaVersion. Each step runs in its
// own transaction together with the version bump.
func RunMigrations(db *sql.DB) (*MigrationResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	start := time.Now()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_version: %w", err)
	}

	from := GetSchemaVersion(db)
	result := &MigrationResult{FromVersion: from, ToVersion: from}
	if from > CurrentSchemaVersion {
		return nil, fmt.Errorf("database schema v%d is newer than supported v%d", from, CurrentSchemaVersion)
	}

	steps := map[int]func(*sql.Tx) error{
		1: migrateToV1,
		2: migrateV1ToV2,
	}
	for v := from + 1; v <= CurrentSchemaVersion; v++ {
		logging.StoreDebug("Applying schema migration to v%d", v)
		tx, err := db.Begin()
		if err != nil {
			return nil, fmt.Errorf("begin migration v%d: %w", v, err)
		}
		if err := steps[v](tx); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("migration to v%d failed: %w", v, err)
		}
		if err := setSchemaVersion(tx, v); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit migration v%d: %w", v, err)
		}
		result.ToVersion = v
		result.MigrationsRun++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func migrateToV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func migrateV1ToV2(tx *sql.Tx) error {
	for _, m := range v2Columns {
		if columnExists(tx, m.Table, m.Column) {
			logging.StoreDebug("Column already exists, skipping: %s.%s", m.Table, m.Column)
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("add %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
	}
	if _, err := tx.Exec(`UPDATE kv_entries SET size = length(value), created_at = COALESCE(created_at, updated_at)`); err != nil {
		return fmt.Errorf("backfill sizes: %w", err)
	}
	return nil
}

type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(q queryer, table, column string) bool {
	rows, err := q.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// GetSchemaVersion returns the recorded schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) int {
	var v sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v); err != nil || !v.Valid {
		return 0
	}
	return int(v.Int64)
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("clear schema_version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("set schema_version: %w", err)
	}
	return nil
}

// RestoreBackup replaces the database at dbPath with backupPath.
// The store using dbPath must be closed first.
func RestoreBackup(dbPath, backupPath string) error {
	timer := logging.StartTimer(logging.CategoryStore, "RestoreBackup")
	defer timer.Stop()

	logging.Store("Restoring database from backup: %s -> %s", backupPath, dbPath)

	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer src.Close()

	// Stale WAL pages would be replayed over the restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", dbPath+suffix, err)
		}
	}

	dst, err := os.Create(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync restored database: %w", err)
	}

	logging.Store("Database restored from backup (%d bytes)", n)
	return nil
}
