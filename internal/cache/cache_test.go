package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/store"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	kv, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "guardian:u1:alerts", Key("u1", types.TableAlerts))
	assert.Equal(t, "guardian:u1:meta:last_sync", MetaKey("u1", "last_sync"))

	assert.NoError(t, ValidateUserID("3f1c-uuid"))
	assert.Error(t, ValidateUserID(" "))
	assert.Error(t, ValidateUserID("a:b"))
}

func TestGetSet_Generic(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()

	v, ok, err := Get[map[string]int](ctx, kv, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	require.NoError(t, Set(ctx, kv, "k", map[string]int{"a": 1}))
	v, ok, err = Get[map[string]int](ctx, kv, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, v)

	require.NoError(t, kv.Set(ctx, "bad", []byte("{")))
	_, _, err = Get[map[string]int](ctx, kv, "bad")
	assert.ErrorContains(t, err, "decode bad")
}

func TestTypedAccessors(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	alerts, err := c.Alerts(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)

	want := []types.Alert{
		{ID: "a1", UserID: "u1", ProfileID: "p1", Kind: "keyword", Severity: types.SeverityHigh, Title: "Flagged word", CreatedAt: t0},
	}
	require.NoError(t, c.SetAlerts(ctx, "u1", want))
	got, err := c.Alerts(ctx, "u1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("alerts mismatch (-want +got):\n%s", diff)
	}

	// Object-level replace: the second write is all that remains.
	require.NoError(t, c.SetAlerts(ctx, "u1", nil))
	got, err = c.Alerts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.SetProfiles(ctx, "u1", []types.Profile{{ID: "p1", UserID: "u1", Name: "Sam"}}))
	profiles, err := c.Profiles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	require.NoError(t, c.SetFilters(ctx, "u1", []types.Filter{{ID: "f1", Category: "gambling", Enabled: true}}))
	filters, err := c.Filters(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, filters[0].Enabled)
}

func TestSettings_DefaultUntilStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	s, err := c.Settings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSettings("u1"), s)

	custom := types.Settings{UserID: "u1", SyncIntervalMinutes: 5, AlertThreshold: types.SeverityCritical}
	require.NoError(t, c.SetSettings(ctx, "u1", custom))
	s, err = c.Settings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, custom, s)

	require.NoError(t, c.DeleteTable(ctx, "u1", types.TableSettings))
	has, err := c.HasTable(ctx, "u1", types.TableSettings)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLastSync(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	ts, err := c.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	require.NoError(t, c.SetLastSync(ctx, "u1", t0))
	ts, err = c.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(ts))
}

func TestUsersAndClearUser(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.SetAlerts(ctx, "u2", []types.Alert{{ID: "a"}}))
	require.NoError(t, c.SetProfiles(ctx, "u1", nil))
	require.NoError(t, c.SetLastSync(ctx, "u1", t0))
	require.NoError(t, c.Store().Set(ctx, "unrelated", []byte("x")))

	users, err := c.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	n, err := c.ClearUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users, err = c.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)

	_, err = c.ClearUser(ctx, "")
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.SetAlerts(ctx, "u1", []types.Alert{{ID: "a1"}, {ID: "a2"}}))
	require.NoError(t, c.SetMessages(ctx, "u1", []types.Message{{ID: "m1"}}))
	require.NoError(t, c.SetSettings(ctx, "u1", types.DefaultSettings("u1")))
	require.NoError(t, c.SetLastSync(ctx, "u1", t0))

	u, err := c.Usage(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, u.Tables, len(types.AllTables()))

	byTable := map[types.Table]TableUsage{}
	for _, tu := range u.Tables {
		byTable[tu.Table] = tu
	}
	assert.Equal(t, 2, byTable[types.TableAlerts].Records)
	assert.Equal(t, 1, byTable[types.TableMessages].Records)
	assert.Equal(t, 1, byTable[types.TableSettings].Records)
	assert.False(t, byTable[types.TableProfiles].Cached)
	assert.Equal(t, 4, u.TotalRecords)

	var sum int64
	for _, tu := range u.Tables {
		sum += tu.Bytes
	}
	assert.Equal(t, sum, u.TotalBytes)
	assert.True(t, t0.Equal(u.LastSync))
	assert.Equal(t, "sqlite", u.Backend.Backend)
	assert.EqualValues(t, 4, u.Backend.Keys)
	assert.False(t, byTable[types.TableAlerts].UpdatedAt.IsZero(), "sqlite records write times")
	assert.True(t, byTable[types.TableProfiles].UpdatedAt.IsZero())
}

func TestUsage_NeverSynced(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemoryStore())
	require.NoError(t, c.SetAlerts(ctx, "u1", []types.Alert{{ID: "a1"}}))

	u, err := c.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.LastSync.IsZero())
	for _, tu := range u.Tables {
		assert.True(t, tu.UpdatedAt.IsZero(), "memory store has no write times")
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_sync")
	assert.NotContains(t, string(data), "updated_at")
	assert.NotContains(t, string(data), "0001-01-01")
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestCache(t)

	settings := types.DefaultSettings("u1")
	settings.Theme = "dark"
	require.NoError(t, src.SetProfiles(ctx, "u1", []types.Profile{{ID: "p1", UserID: "u1", Name: "Sam", CreatedAt: t0}}))
	require.NoError(t, src.SetAlerts(ctx, "u1", []types.Alert{{ID: "a1", Severity: types.SeverityLow, CreatedAt: t0}}))
	require.NoError(t, src.SetSettings(ctx, "u1", settings))
	require.NoError(t, src.SetLastSync(ctx, "u1", t0))

	var buf bytes.Buffer
	exported, err := src.Export(ctx, "u1", &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "\n  \"user_id\": \"u1\"")

	dst := newTestCache(t)
	require.NoError(t, dst.SetMessages(ctx, "u1", []types.Message{{ID: "stale"}}))

	imported, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, "u1", imported.UserID)

	again, err := dst.Snapshot(ctx, "u1")
	require.NoError(t, err)
	if diff := cmp.Diff(exported, again, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ExportedAt"
	}, cmp.Ignore())); diff != "" {
		t.Fatalf("round trip mismatch (-exported +imported):\n%s", diff)
	}
	assert.Empty(t, again.Messages, "import replaces the stale table")
}

func TestImport_BundleWithoutLastSync(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.SetLastSync(ctx, "u1", t0))
	require.NoError(t, c.SetSettings(ctx, "u1", types.DefaultSettings("u1")))

	_, err := c.Import(ctx, strings.NewReader(`{"version": 1, "user_id": "u1", "alerts": [{"id": "a1"}]}`))
	require.NoError(t, err)

	last, err := c.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "stale sync stamp must not survive the import")

	has, err := c.HasTable(ctx, "u1", types.TableSettings)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestImport_Rejects(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, err := c.Import(ctx, strings.NewReader(`{"version": 9, "user_id": "u1"}`))
	assert.ErrorContains(t, err, "unsupported bundle version")

	_, err = c.Import(ctx, strings.NewReader(`{"version": 1, "user_id": ""}`))
	assert.ErrorContains(t, err, "invalid bundle")

	_, err = c.Import(ctx, strings.NewReader(`{"version": 1, "user_id": "u1", "devices": []}`))
	assert.ErrorContains(t, err, "read bundle")
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	now := t0

	require.NoError(t, c.SetAlerts(ctx, "u1", []types.Alert{
		{ID: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "read", Read: true, CreatedAt: now.Add(-time.Hour)},
		{ID: "new1", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "new2", CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "undated"},
	}))
	require.NoError(t, c.SetMessages(ctx, "u1", []types.Message{
		{ID: "m1", SentAt: now.Add(-time.Minute)},
	}))

	res, err := c.Cleanup(ctx, "u1", Policy{
		AlertRetention: 24 * time.Hour,
		DropReadAlerts: true,
		MaxAlerts:      2,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.AlertsRemoved)
	assert.Equal(t, 2, res.AlertsKept)
	assert.Zero(t, res.MessagesRemoved)
	assert.Equal(t, 3, res.Removed())

	alerts, err := c.Alerts(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"new2", "new1"}, ids, "newest first, undated trimmed by the cap")
}

func TestDroppedIDs(t *testing.T) {
	before := []types.Alert{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	after := []types.Alert{{ID: "b"}}
	got := droppedIDs(before, after, func(a types.Alert) string { return a.ID })
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Nil(t, droppedIDs(after, after, func(a types.Alert) string { return a.ID }))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.DefaultConfig().Cleanup)
	assert.Equal(t, 720*time.Hour, p.AlertRetention)
	assert.Equal(t, 168*time.Hour, p.MessageRetention)
	assert.Equal(t, 500, p.MaxAlerts)
	assert.False(t, p.DropReadAlerts)
}
