package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCategoryLog(t *testing.T, ws string, cat Category) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ws, ".guardian", "logs"))
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
			data, err := os.ReadFile(filepath.Join(ws, ".guardian", "logs", e.Name()))
			require.NoError(t, err)
			return string(data)
		}
	}
	t.Fatalf("no log file for category %s", cat)
	return ""
}

// TestAllCategoriesLog checks each category gets its own file in debug mode.
func TestAllCategoriesLog(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{DebugMode: true, Level: "debug"}))
	t.Cleanup(CloseAll)

	categories := []Category{
		CategoryBoot, CategoryStore, CategoryCache, CategorySync,
		CategoryRemote, CategoryExport, CategoryCleanup, CategoryCLI,
	}
	for _, cat := range categories {
		assert.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		l := Get(cat)
		l.Info("info for %s", cat)
		l.Debug("debug for %s", cat)
		l.Warn("warn for %s", cat)
		l.Error("error for %s", cat)
	}
	CloseAll()

	for _, cat := range categories {
		content := readCategoryLog(t, ws, cat)
		assert.Contains(t, content, "info for "+string(cat))
		assert.Contains(t, content, "debug for "+string(cat))
	}
}

func TestDebugModeDisabled(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{DebugMode: false}))
	t.Cleanup(CloseAll)

	assert.False(t, IsDebugMode())
	l := Get(CategorySync)
	assert.False(t, l.Enabled())
	l.Info("should go nowhere")
	Sync("also nowhere")

	_, err := os.Stat(filepath.Join(ws, ".guardian", "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir must not be created in production mode")
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{
		DebugMode:  true,
		Categories: map[string]bool{"remote": false, "sync": true},
	}))
	t.Cleanup(CloseAll)

	assert.False(t, IsCategoryEnabled(CategoryRemote))
	assert.True(t, IsCategoryEnabled(CategorySync))
	assert.True(t, IsCategoryEnabled(CategoryStore), "unlisted categories default to enabled")
	assert.False(t, Get(CategoryRemote).Enabled())
}

func TestLevelFilter(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{DebugMode: true, Level: "warn"}))
	t.Cleanup(CloseAll)

	Store("info line")
	StoreDebug("debug line")
	StoreWarn("warn line")
	CloseAll()

	content := readCategoryLog(t, ws, CategoryStore)
	assert.NotContains(t, content, "info line")
	assert.NotContains(t, content, "debug line")
	assert.Contains(t, content, "warn line")
}

func TestJSONFormatWithFields(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{DebugMode: true, JSONFormat: true}))
	t.Cleanup(CloseAll)

	Get(CategorySync).With(map[string]interface{}{"user": "u1"}).Info("synced %d tables", 5)
	CloseAll()

	content := strings.TrimSpace(readCategoryLog(t, ws, CategorySync))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(content), &entry))
	assert.Equal(t, "synced 5 tables", entry["msg"])
	assert.Equal(t, "sync", entry["cat"])
	assert.Equal(t, "u1", entry["user"])
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	assert.Error(t, Initialize("", Config{}))
}

func TestTimer(t *testing.T) {
	timer := StartTimer(CategoryStore, "op")
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 2*time.Millisecond)
	assert.GreaterOrEqual(t, StartTimer(CategoryStore, "op").StopWithThreshold(time.Hour), time.Duration(0))
}

func TestDailyRollover(t *testing.T) {
	ws := t.TempDir()
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	now = func() time.Time { return day }
	t.Cleanup(func() { now = time.Now })

	require.NoError(t, Initialize(ws, Config{DebugMode: true}))
	t.Cleanup(CloseAll)

	Sync("before midnight")
	day = day.Add(2 * time.Minute)
	Sync("after midnight")
	CloseAll()

	dir := filepath.Join(ws, ".guardian", "logs")
	first, err := os.ReadFile(filepath.Join(dir, "2026-03-01_sync.log"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "2026-03-02_sync.log"))
	require.NoError(t, err)

	assert.Contains(t, string(first), "before midnight")
	assert.NotContains(t, string(first), "after midnight")
	assert.Contains(t, string(second), "after midnight")
}

func TestCLIHelpers(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Initialize(ws, Config{DebugMode: true, Level: "debug"}))
	t.Cleanup(CloseAll)

	CLI("Running %s", "guardian sync")
	CLIDebug("args %v", []string{"u1"})
	CloseAll()

	content := readCategoryLog(t, ws, CategoryCLI)
	assert.Contains(t, content, "Running guardian sync")
	assert.Contains(t, content, "args [u1]")
}
