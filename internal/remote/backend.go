// Package remote fetches per-user table rows from the monitoring backend.
// Rows are returned undecoded; the caller owns the mapping onto local types.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// ErrUnknownTable is returned for tables outside the fixed set.
var ErrUnknownTable = errors.New("unknown table")

// Backend reads every row of a table that belongs to a user.
type Backend interface {
	Fetch(ctx context.Context, table types.Table, userID string) ([]json.RawMessage, error)
	Name() string
	Close() error
}

// StatusError is a non-retryable HTTP response from the REST backend.
type StatusError struct {
	Table      types.Table
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fetch %s: %d %s", e.Table, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %d %s: %s", e.Table, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func checkTable(t types.Table) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, string(t))
	}
	return nil
}

// New builds the backend selected by cfg.Kind.
func New(ctx context.Context, cfg config.RemoteConfig) (Backend, error) {
	switch cfg.Kind {
	case config.RemoteREST, "":
		return NewRESTBackend(cfg, nil)
	case config.RemotePostgres:
		return NewPostgresBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("invalid remote kind %q", cfg.Kind)
	}
}
