package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// PostgresBackend reads tables straight from the backend's Postgres database.
type PostgresBackend struct {
	db      *sql.DB
	timeout time.Duration
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend opens a pgx connection pool for cfg.DSN and pings it.
func NewPostgresBackend(ctx context.Context, cfg config.RemoteConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres backend: dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres backend: ping: %w", err)
	}
	logging.Remote("Connected to postgres backend")
	return &PostgresBackend{db: db, timeout: cfg.GetTimeout()}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Close() error { return p.db.Close() }

// fetchQuery builds the row query. table must already be validated; it is
// interpolated as an identifier because it cannot be a bind parameter.
func fetchQuery(table types.Table) string {
	return fmt.Sprintf(`SELECT row_to_json(t)::text FROM %q t WHERE t.user_id = $1`, string(table))
}

func (p *PostgresBackend) Fetch(ctx context.Context, table types.Table, userID string) ([]json.RawMessage, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	rows, err := p.db.QueryContext(ctx, fetchQuery(table), userID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var row string
		if err := rows.Scan(&row); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, json.RawMessage(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	logging.RemoteDebug("SELECT %s for %s: %d rows in %v", table, userID, len(out), time.Since(start))
	return out, nil
}
