// Package cache is the typed, per-user view over a store.KV.
//
// Every (user, table) pair maps to one key holding the whole table as a JSON
// array, so a write always replaces the entire object:
//
//	guardian:<userID>:<table>        records for one table
//	guardian:<userID>:meta:<name>    bookkeeping such as the last sync time
//
// There is no eviction; data leaves the cache only through Cleanup,
// ClearUser or a sync that overwrites it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/store"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// KeyPrefix is the first segment of every cache key.
const KeyPrefix = "guardian"

const metaLastSync = "last_sync"

// Cache wraps a store with typed per-user accessors.
type Cache struct {
	kv store.KV
}

// New returns a cache over kv. The caller keeps ownership of kv.
func New(kv store.KV) *Cache {
	return &Cache{kv: kv}
}

// Store returns the underlying key-value store.
func (c *Cache) Store() store.KV {
	return c.kv
}

// ValidateUserID rejects ids that would break the key scheme.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if strings.Contains(userID, ":") {
		return fmt.Errorf("user id %q must not contain ':'", userID)
	}
	return nil
}

// Key returns the storage key for one user's table.
func Key(userID string, table types.Table) string {
	return KeyPrefix + ":" + userID + ":" + string(table)
}

// MetaKey returns the storage key for per-user bookkeeping.
func MetaKey(userID, name string) string {
	return KeyPrefix + ":" + userID + ":meta:" + name
}

func userPrefix(userID string) string {
	return KeyPrefix + ":" + userID + ":"
}

// Get decodes the JSON value at key into T. The bool is false when the key
// does not exist, in which case the zero T is returned without error.
func Get[T any](ctx context.Context, kv store.KV, key string) (T, bool, error) {
	var v T
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// Set JSON-encodes v and replaces whatever was stored at key.
func Set[T any](ctx context.Context, kv store.KV, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}

func getList[T any](ctx context.Context, c *Cache, userID string, table types.Table) ([]T, error) {
	list, _, err := Get[[]T](ctx, c.kv, Key(userID, table))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}

func setList[T any](ctx context.Context, c *Cache, userID string, table types.Table, list []T) error {
	if list == nil {
		list = []T{}
	}
	if err := Set(ctx, c.kv, Key(userID, table), list); err != nil {
		logging.CacheWarn("Failed to write %s for %s: %v", table, userID, err)
		return err
	}
	logging.CacheDebug("Replaced %s for %s (%d records)", table, userID, len(list))
	return nil
}

func (c *Cache) Profiles(ctx context.Context, userID string) ([]types.Profile, error) {
	return getList[types.Profile](ctx, c, userID, types.TableProfiles)
}

func (c *Cache) SetProfiles(ctx context.Context, userID string, v []types.Profile) error {
	return setList(ctx, c, userID, types.TableProfiles, v)
}

func (c *Cache) Alerts(ctx context.Context, userID string) ([]types.Alert, error) {
	return getList[types.Alert](ctx, c, userID, types.TableAlerts)
}

func (c *Cache) SetAlerts(ctx context.Context, userID string, v []types.Alert) error {
	return setList(ctx, c, userID, types.TableAlerts, v)
}

func (c *Cache) Messages(ctx context.Context, userID string) ([]types.Message, error) {
	return getList[types.Message](ctx, c, userID, types.TableMessages)
}

func (c *Cache) SetMessages(ctx context.Context, userID string, v []types.Message) error {
	return setList(ctx, c, userID, types.TableMessages, v)
}

func (c *Cache) Filters(ctx context.Context, userID string) ([]types.Filter, error) {
	return getList[types.Filter](ctx, c, userID, types.TableFilters)
}

func (c *Cache) SetFilters(ctx context.Context, userID string, v []types.Filter) error {
	return setList(ctx, c, userID, types.TableFilters, v)
}

// Settings returns the cached settings, or DefaultSettings if none are stored.
func (c *Cache) Settings(ctx context.Context, userID string) (types.Settings, error) {
	s, ok, err := Get[types.Settings](ctx, c.kv, Key(userID, types.TableSettings))
	if err != nil {
		return types.Settings{}, err
	}
	if !ok {
		return types.DefaultSettings(userID), nil
	}
	return s, nil
}

func (c *Cache) SetSettings(ctx context.Context, userID string, s types.Settings) error {
	if err := Set(ctx, c.kv, Key(userID, types.TableSettings), s); err != nil {
		logging.CacheWarn("Failed to write settings for %s: %v", userID, err)
		return err
	}
	return nil
}

// HasTable reports whether anything is cached for the table.
func (c *Cache) HasTable(ctx context.Context, userID string, table types.Table) (bool, error) {
	_, err := c.kv.Get(ctx, Key(userID, table))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DeleteTable drops one cached table.
func (c *Cache) DeleteTable(ctx context.Context, userID string, table types.Table) error {
	return c.kv.Delete(ctx, Key(userID, table))
}

// Raw returns the stored JSON for a table, or store.ErrNotFound.
func (c *Cache) Raw(ctx context.Context, userID string, table types.Table) ([]byte, error) {
	return c.kv.Get(ctx, Key(userID, table))
}

// LastSync returns when the user's last successful sync finished, or the
// zero time if it never ran.
func (c *Cache) LastSync(ctx context.Context, userID string) (time.Time, error) {
	ts, _, err := Get[time.Time](ctx, c.kv, MetaKey(userID, metaLastSync))
	return ts, err
}

func (c *Cache) SetLastSync(ctx context.Context, userID string, ts time.Time) error {
	return Set(ctx, c.kv, MetaKey(userID, metaLastSync), ts.UTC())
}

// ClearUser removes every key belonging to userID and returns how many
// were deleted.
func (c *Cache) ClearUser(ctx context.Context, userID string) (int, error) {
	if err := ValidateUserID(userID); err != nil {
		return 0, err
	}
	keys, err := c.kv.Keys(ctx, userPrefix(userID))
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			return i, fmt.Errorf("delete %s: %w", k, err)
		}
	}
	logging.Cache("Cleared %d keys for user %s", len(keys), userID)
	return len(keys), nil
}

// Users lists the user ids with any cached data, sorted.
func (c *Cache) Users(ctx context.Context) ([]string, error) {
	keys, err := c.kv.Keys(ctx, KeyPrefix+":")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var users []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, KeyPrefix+":")
		id, _, ok := strings.Cut(rest, ":")
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}
