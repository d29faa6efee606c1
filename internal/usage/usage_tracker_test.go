package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var started = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRun(user string, failTables ...string) RunEvent {
	failed := map[string]bool{}
	for _, t := range failTables {
		failed[t] = true
	}
	ev := RunEvent{RunID: "run-" + user, UserID: user, StartedAt: started, Duration: time.Second}
	for _, name := range []string{"profiles", "alerts"} {
		te := TableEvent{Table: name, Failed: failed[name]}
		if !te.Failed {
			te.Records, te.Bytes = 2, 100
		}
		ev.Tables = append(ev.Tables, te)
	}
	return ev
}

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	defer tracker.Close()

	// Avoid background autosave during the test (debounce uses AfterFunc).
	tracker.dirty = true

	ctx := WithTrigger(context.Background(), "daemon")
	tracker.Track(ctx, sampleRun("u1"))
	tracker.Track(ctx, sampleRun("u1", "alerts"))
	tracker.Track(context.Background(), sampleRun("u2", "profiles", "alerts"))

	stats := tracker.Stats()
	if stats.Total.Runs != 3 || stats.Total.Failures != 1 || stats.Total.Records != 6 || stats.Total.Bytes != 300 {
		t.Fatalf("Total=%+v, want runs=3 failures=1 records=6 bytes=300", stats.Total)
	}
	if got := stats.ByUser["u1"]; got.Runs != 2 || got.Records != 6 {
		t.Fatalf("ByUser[u1]=%+v, want runs=2 records=6", got)
	}
	if got := stats.ByTable["alerts"]; got.Runs != 3 || got.Failures != 2 {
		t.Fatalf("ByTable[alerts]=%+v, want runs=3 failures=2", got)
	}
	if got := stats.ByTrigger["daemon"]; got.Runs != 2 {
		t.Fatalf("ByTrigger[daemon]=%+v, want runs=2", got)
	}
	if got := stats.ByTrigger["manual"]; got.Runs != 1 || got.Failures != 1 {
		t.Fatalf("ByTrigger[manual]=%+v, want runs=1 failures=1", got)
	}
	if got := stats.LastRun["u1"]; !got.Equal(started.Add(time.Second)) {
		t.Fatalf("LastRun[u1]=%v", got)
	}

	if err := tracker.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws, ".guardian", "usage.json"))
	if err != nil {
		t.Fatalf("read usage.json: %v", err)
	}
	var persisted HistoryData
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal usage.json: %v", err)
	}
	if persisted.Aggregate.Total.Runs != 3 {
		t.Fatalf("persisted runs=%d, want 3", persisted.Aggregate.Total.Runs)
	}
	if len(persisted.Recent) != 3 {
		t.Fatalf("persisted recent=%d, want 3", len(persisted.Recent))
	}

	reopened, err := NewTracker(ws)
	if err != nil {
		t.Fatalf("NewTracker reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Stats().ByUser["u2"]; got.Failures != 1 {
		t.Fatalf("reloaded ByUser[u2]=%+v, want failures=1", got)
	}
}

func TestTracker_RecentIsCappedNewestFirst(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	defer tracker.Close()
	tracker.dirty = true

	for i := 0; i < maxRecentRuns+5; i++ {
		ev := sampleRun("u1")
		ev.RunID = string(rune('a' + i%26))
		ev.StartedAt = started.Add(time.Duration(i) * time.Minute)
		tracker.Track(context.Background(), ev)
	}

	all := tracker.Recent(0)
	if len(all) != maxRecentRuns {
		t.Fatalf("Recent(0)=%d, want %d", len(all), maxRecentRuns)
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Fatalf("Recent must be newest first")
	}
	if got := tracker.Recent(2); len(got) != 2 {
		t.Fatalf("Recent(2)=%d", len(got))
	}
}

func TestTracker_CloseFlushes(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.autoSaveDelay = time.Hour
	tracker.Track(context.Background(), sampleRun("u1"))

	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(tracker.Path()); err != nil {
		t.Fatalf("usage.json not written on Close: %v", err)
	}
}

func TestTracker_CorruptFileStartsFresh(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, ".guardian"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, ".guardian", "usage.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	tracker, err := NewTracker(ws)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	defer tracker.Close()
	if tracker.Stats().Total.Runs != 0 {
		t.Fatalf("expected empty stats")
	}
	tracker.dirty = true
	tracker.Track(context.Background(), sampleRun("u1"))
	if tracker.Stats().ByUser["u1"].Runs != 1 {
		t.Fatalf("maps not initialized after corrupt load")
	}
}

func TestTracker_ContextHelpers(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	defer tracker.Close()

	ctx := NewContext(context.Background(), tracker)
	if got := FromContext(ctx); got == nil {
		t.Fatalf("FromContext returned nil")
	}
	if got := FromContext(ctx); got != tracker {
		t.Fatalf("FromContext mismatch")
	}
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("FromContext on bare context = %v, want nil", got)
	}
	if got := TriggerFromContext(context.Background()); got != "manual" {
		t.Fatalf("default trigger=%q", got)
	}
}
