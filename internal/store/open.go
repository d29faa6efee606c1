package store

import (
	"context"
	"fmt"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
)

// Open builds the backend selected by cfg. Relative sqlite paths are resolved
// against the workspace's .guardian directory.
func Open(ctx context.Context, cfg config.StorageConfig, workspace string) (KV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		return NewLocalStore(config.ResolvePath(workspace, cfg.Path))
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
