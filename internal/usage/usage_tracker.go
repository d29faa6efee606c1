// Package usage keeps a persistent history of sync activity: how often each
// user and table was synced, how much data came down, and what failed.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
)

type contextKey struct{}

type triggerKey struct{}

// Tracker manages sync history recording and persistence.
type Tracker struct {
	mu            sync.Mutex
	data          HistoryData
	filePath      string
	dirty         bool
	autoSaveDelay time.Duration
	autoSaveTimer *time.Timer
}

// NewTracker creates a tracker persisted at <workspace>/.guardian/usage.json.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".guardian")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .guardian dir: %w", err)
	}

	t := &Tracker{
		filePath:      filepath.Join(dir, "usage.json"),
		autoSaveDelay: 5 * time.Second,
		data: HistoryData{
			Version:   "1.0",
			Aggregate: newAggregate(),
		},
	}

	if err := t.Load(); err != nil {
		logging.SyncWarn("Sync history at %s unreadable, starting fresh: %v", t.filePath, err)
		t.data = HistoryData{Version: "1.0", Aggregate: newAggregate()}
	}

	return t, nil
}

func newAggregate() AggregatedStats {
	return AggregatedStats{
		ByUser:    make(map[string]SyncCounts),
		ByTable:   make(map[string]SyncCounts),
		ByTrigger: make(map[string]SyncCounts),
		LastRun:   make(map[string]time.Time),
	}
}

// Path returns the persistence file.
func (t *Tracker) Path() string {
	return t.filePath
}

// Load reads the history from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	if t.data.Aggregate.ByUser == nil {
		t.data.Aggregate.ByUser = make(map[string]SyncCounts)
	}
	if t.data.Aggregate.ByTable == nil {
		t.data.Aggregate.ByTable = make(map[string]SyncCounts)
	}
	if t.data.Aggregate.ByTrigger == nil {
		t.data.Aggregate.ByTrigger = make(map[string]SyncCounts)
	}
	if t.data.Aggregate.LastRun == nil {
		t.data.Aggregate.LastRun = make(map[string]time.Time)
	}

	return nil
}

// Save writes the history to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.filePath)
}

// Track records a finished sync run. The trigger comes from the event or,
// when empty, from the context (see WithTrigger).
func (t *Tracker) Track(ctx context.Context, ev RunEvent) {
	if ev.Trigger == "" {
		ev.Trigger = TriggerFromContext(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var records int
	var bytes int64
	for _, te := range ev.Tables {
		entry := t.data.Aggregate.ByTable[te.Table]
		entry.Add(te.Failed, te.Records, te.Bytes)
		t.data.Aggregate.ByTable[te.Table] = entry
		records += te.Records
		bytes += te.Bytes
	}
	failed := ev.Failed()

	t.data.Aggregate.Total.Add(failed, records, bytes)
	addToMap(t.data.Aggregate.ByUser, ev.UserID, failed, records, bytes)
	addToMap(t.data.Aggregate.ByTrigger, ev.Trigger, failed, records, bytes)
	if end := ev.StartedAt.Add(ev.Duration); end.After(t.data.Aggregate.LastRun[ev.UserID]) {
		t.data.Aggregate.LastRun[ev.UserID] = end
	}

	t.data.Recent = append(t.data.Recent, ev)
	if n := len(t.data.Recent); n > maxRecentRuns {
		t.data.Recent = append([]RunEvent(nil), t.data.Recent[n-maxRecentRuns:]...)
	}

	// Debounced auto-save
	if !t.dirty {
		t.dirty = true
		t.autoSaveTimer = time.AfterFunc(t.autoSaveDelay, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if !t.dirty {
				return
			}
			if err := t.saveLocked(); err != nil {
				logging.SyncWarn("Failed to auto-save sync history: %v", err)
			}
			t.dirty = false
		})
	}
}

// Close stops any pending auto-save and flushes unsaved history.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoSaveTimer != nil {
		t.autoSaveTimer.Stop()
		t.autoSaveTimer = nil
	}
	if !t.dirty {
		return nil
	}
	t.dirty = false
	return t.saveLocked()
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByUser = copyCountsMap(stats.ByUser)
	stats.ByTable = copyCountsMap(stats.ByTable)
	stats.ByTrigger = copyCountsMap(stats.ByTrigger)
	lastRun := make(map[string]time.Time, len(stats.LastRun))
	for k, v := range stats.LastRun {
		lastRun[k] = v
	}
	stats.LastRun = lastRun
	return stats
}

// Recent returns up to n of the latest runs, newest first. n <= 0 means all kept runs.
func (t *Tracker) Recent(n int) []RunEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.data.Recent) {
		n = len(t.data.Recent)
	}
	out := make([]RunEvent, 0, n)
	for i := len(t.data.Recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, t.data.Recent[i])
	}
	return out
}

func copyCountsMap(src map[string]SyncCounts) map[string]SyncCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]SyncCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]SyncCounts, key string, failed bool, records int, bytes int64) {
	entry := m[key]
	entry.Add(failed, records, bytes)
	m[key] = entry
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	val, _ := ctx.Value(contextKey{}).(*Tracker)
	return val
}

// WithTrigger tags the context with what started the sync (manual, daemon).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFromContext returns the trigger set by WithTrigger, or "manual".
func TriggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(triggerKey{}).(string); ok && v != "" {
		return v
	}
	return "manual"
}
