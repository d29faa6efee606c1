package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// BundleVersion is the export format version written by Export.
const BundleVersion = 1

// Bundle is the portable form of one user's cache.
type Bundle struct {
	Version    int             `json:"version"`
	UserID     string          `json:"user_id"`
	ExportedAt time.Time       `json:"exported_at"`
	LastSync   *time.Time      `json:"last_sync,omitempty"`
	Profiles   []types.Profile `json:"profiles"`
	Alerts     []types.Alert   `json:"alerts"`
	Messages   []types.Message `json:"messages"`
	Filters    []types.Filter  `json:"filters"`
	Settings   *types.Settings `json:"settings,omitempty"`
}

// Snapshot reads everything cached for userID into a Bundle. Settings is nil
// when none are stored.
func (c *Cache) Snapshot(ctx context.Context, userID string) (*Bundle, error) {
	b := &Bundle{Version: BundleVersion, UserID: userID, ExportedAt: time.Now().UTC()}
	var err error
	if b.Profiles, err = c.Profiles(ctx, userID); err != nil {
		return nil, err
	}
	if b.Alerts, err = c.Alerts(ctx, userID); err != nil {
		return nil, err
	}
	if b.Messages, err = c.Messages(ctx, userID); err != nil {
		return nil, err
	}
	if b.Filters, err = c.Filters(ctx, userID); err != nil {
		return nil, err
	}
	if s, ok, err := Get[types.Settings](ctx, c.kv, Key(userID, types.TableSettings)); err != nil {
		return nil, err
	} else if ok {
		b.Settings = &s
	}
	last, err := c.LastSync(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() {
		b.LastSync = &last
	}
	return b, nil
}

// Export writes an indented JSON bundle of userID's cache to w.
func (c *Cache) Export(ctx context.Context, userID string, w io.Writer) (*Bundle, error) {
	timer := logging.StartTimer(logging.CategoryExport, "Export")
	defer timer.Stop()

	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	b, err := c.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}
	logging.Export("Exported %s: %d profiles, %d alerts, %d messages, %d filters",
		userID, len(b.Profiles), len(b.Alerts), len(b.Messages), len(b.Filters))
	return b, nil
}

// Import restores a bundle written by Export. Each table in the cache is
// replaced by the bundle's copy; a bundle without settings removes them.
func (c *Cache) Import(ctx context.Context, r io.Reader) (*Bundle, error) {
	timer := logging.StartTimer(logging.CategoryExport, "Import")
	defer timer.Stop()

	var b Bundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d (want %d)", b.Version, BundleVersion)
	}
	if err := ValidateUserID(b.UserID); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}

	if err := c.SetProfiles(ctx, b.UserID, b.Profiles); err != nil {
		return nil, err
	}
	if err := c.SetAlerts(ctx, b.UserID, b.Alerts); err != nil {
		return nil, err
	}
	if err := c.SetMessages(ctx, b.UserID, b.Messages); err != nil {
		return nil, err
	}
	if err := c.SetFilters(ctx, b.UserID, b.Filters); err != nil {
		return nil, err
	}
	if b.Settings != nil {
		if err := c.SetSettings(ctx, b.UserID, *b.Settings); err != nil {
			return nil, err
		}
	} else if err := c.DeleteTable(ctx, b.UserID, types.TableSettings); err != nil {
		return nil, err
	}
	if b.LastSync != nil {
		if err := c.SetLastSync(ctx, b.UserID, *b.LastSync); err != nil {
			return nil, err
		}
	} else if err := c.kv.Delete(ctx, MetaKey(b.UserID, metaLastSync)); err != nil {
		return nil, err
	}

	logging.Export("Imported bundle for %s exported at %s", b.UserID, b.ExportedAt.Format(time.RFC3339))
	return &b, nil
}
