package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/store"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// TableUsage is the footprint of one cached table.
type TableUsage struct {
	Table     types.Table `json:"table"`
	Cached    bool        `json:"cached"`
	Records   int         `json:"records"`
	Bytes     int64       `json:"bytes"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"` // sqlite only
}

// Usage is the storage summary shown for one user.
type Usage struct {
	UserID       string       `json:"user_id"`
	Tables       []TableUsage `json:"tables"`
	TotalRecords int          `json:"total_records"`
	TotalBytes   int64        `json:"total_bytes"`
	LastSync     time.Time    `json:"last_sync,omitzero"`
	Backend      store.Stats  `json:"backend"`
}

// Usage computes per-table record counts and sizes for userID together with
// the backend-wide totals.
func (c *Cache) Usage(ctx context.Context, userID string) (*Usage, error) {
	timer := logging.StartTimer(logging.CategoryCache, "Usage")
	defer timer.Stop()

	ts, _ := c.kv.(store.Timestamper)

	u := &Usage{UserID: userID}
	for _, table := range types.AllTables() {
		tu := TableUsage{Table: table}
		raw, err := c.kv.Get(ctx, Key(userID, table))
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			tu.Cached = true
			tu.Bytes = int64(len(raw))
			tu.Records, err = countRecords(table, raw)
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", table, err)
			}
			if ts != nil {
				if tu.UpdatedAt, err = ts.UpdatedAt(ctx, Key(userID, table)); err != nil {
					return nil, fmt.Errorf("updated_at %s: %w", table, err)
				}
			}
		}
		u.Tables = append(u.Tables, tu)
		u.TotalRecords += tu.Records
		u.TotalBytes += tu.Bytes
	}

	last, err := c.LastSync(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.LastSync = last

	stats, err := c.kv.Stats(ctx)
	if err != nil {
		return nil, err
	}
	u.Backend = stats
	return u, nil
}

// countRecords counts array elements without decoding them. Settings is a
// single object.
func countRecords(table types.Table, raw []byte) (int, error) {
	if table == types.TableSettings {
		return 1, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}
