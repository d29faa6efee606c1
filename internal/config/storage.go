package config

import "fmt"

// Local storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// StorageConfig configures the on-device key-value store.
type StorageConfig struct {
	Backend   string `yaml:"backend"`    // sqlite, memory, redis
	Path      string `yaml:"path"`       // sqlite database file, relative to .guardian/
	RedisURL  string `yaml:"redis_url"`  // redis://host:port/db
	Namespace string `yaml:"namespace"`  // redis key prefix
	BackupDir string `yaml:"backup_dir"` // sqlite backups, relative to .guardian/
}

// Validate checks that the selected backend has what it needs.
func (s StorageConfig) Validate() error {
	switch s.Backend {
	case BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendMemory:
	case BackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend (or set GUARDIAN_REDIS_URL)")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (valid: %s, %s, %s)", s.Backend, BackendSQLite, BackendMemory, BackendRedis)
	}
	return nil
}
