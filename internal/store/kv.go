// Package store provides the on-device key-value storage backends that the
// guardian cache sits on. Values are opaque bytes; every write replaces the
// whole value for its key.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal persistent key-value contract.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Stats reports totals for the whole store.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes a store's contents.
type Stats struct {
	Backend    string `json:"backend"`
	Keys       int64  `json:"keys"`
	ValueBytes int64  `json:"value_bytes"`
	// DiskBytes is the on-disk footprint where the backend has one, else 0.
	DiskBytes int64 `json:"disk_bytes,omitempty"`
}

// Vacuumer is implemented by backends that can reclaim free space.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Backuper is implemented by backends that can snapshot themselves to a file.
type Backuper interface {
	Backup(ctx context.Context, dir string) (string, error)
}

// Timestamper is implemented by backends that record when each key was
// last written.
type Timestamper interface {
	UpdatedAt(ctx context.Context, key string) (time.Time, error)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
