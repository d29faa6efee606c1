// Package syncer copies each user's tables from the remote backend into the
// local cache.
//
// A sync is a fixed sequence of independent table copies. Each table is
// fetched and written over whatever the cache held (last write wins, no
// merging). A failing table is logged and recorded in the report; the
// remaining tables still run.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/cache"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/remote"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coryrvde/EVERYBODY-sub001/internal/syncer"

// slowFetch is the remote fetch duration above which a warning is logged.
const slowFetch = 5 * time.Second

var (
	// ErrSyncInProgress is returned when the same user is already syncing.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncFailed is returned when no table could be synced.
	ErrSyncFailed = errors.New("sync failed for every table")
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Tables      []types.Table  // sync order, default all
	Concurrency int            // users synced at once by SyncAll, default 1
	Tracker     *usage.Tracker // sync history, default: usage.FromContext
	Tracer      trace.Tracer   // default: global provider
	Now         func() time.Time
}

// Manager runs syncs. It is safe for concurrent use.
type Manager struct {
	cache       *cache.Cache
	backend     remote.Backend
	tables      []types.Table
	concurrency int
	tracker     *usage.Tracker
	tracer      trace.Tracer
	now         func() time.Time

	mu      sync.Mutex
	running map[string]bool

	reschedule chan schedule
}

type schedule struct {
	users    []string
	interval time.Duration
}

// NewManager creates a manager that syncs from backend into c.
func NewManager(c *cache.Cache, backend remote.Backend, opts Options) *Manager {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = types.AllTables()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cache:       c,
		backend:     backend,
		tables:      append([]types.Table(nil), tables...),
		concurrency: concurrency,
		tracker:     opts.Tracker,
		tracer:      tracer,
		now:         now,
		running:     make(map[string]bool),
		reschedule:  make(chan schedule, 1),
	}
}

// InProgress reports whether a sync for userID is running.
func (m *Manager) InProgress(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[userID]
}

func (m *Manager) acquire(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[userID] {
		return false
	}
	m.running[userID] = true
	return true
}

func (m *Manager) release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, userID)
}

// SyncUser copies every configured table for userID, in order.
//
// A second call for the same user while one is running returns
// ErrSyncInProgress immediately. LastSync is stamped when at least one table
// succeeded; if all failed the report is returned with an error wrapping
// ErrSyncFailed and the first table error.
func (m *Manager) SyncUser(ctx context.Context, userID string) (*Report, error) {
	if err := cache.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if !m.acquire(userID) {
		logging.SyncDebug("Sync for %s already running, rejecting", userID)
		return nil, ErrSyncInProgress
	}
	defer m.release(userID)

	report := &Report{
		RunID:     uuid.NewString(),
		UserID:    userID,
		Backend:   m.backend.Name(),
		StartedAt: m.now(),
	}

	ctx, span := m.tracer.Start(ctx, "sync.user", trace.WithAttributes(
		attribute.String("guardian.user_id", userID),
		attribute.String("guardian.run_id", report.RunID),
	))
	defer span.End()

	runLog := logging.Get(logging.CategorySync).With(map[string]interface{}{
		"run_id": report.RunID,
		"user":   userID,
	})
	timer := logging.StartTimer(logging.CategorySync, "SyncUser")
	runLog.Info("Sync started (%d tables via %s)", len(m.tables), report.Backend)

	for _, table := range m.tables {
		if ctx.Err() != nil {
			report.Tables = append(report.Tables, TableResult{Table: table, Err: ctx.Err()})
			continue
		}
		report.Tables = append(report.Tables, m.syncTable(ctx, userID, table))
	}
	report.FinishedAt = m.now()
	timer.Stop()

	var err error
	if report.Succeeded() > 0 {
		if serr := m.cache.SetLastSync(ctx, userID, report.FinishedAt); serr != nil {
			logging.SyncWarn("Failed to record last sync for %s: %v", userID, serr)
		}
	} else {
		err = fmt.Errorf("%w for %s: %w", ErrSyncFailed, userID, report.FirstError())
		span.RecordError(err)
		span.SetStatus(codes.Error, "all tables failed")
	}
	span.SetAttributes(
		attribute.Int("guardian.tables_ok", report.Succeeded()),
		attribute.Int("guardian.tables_failed", report.Failed()),
	)

	runLog.Info("Sync finished: %d ok, %d failed, %d records in %v",
		report.Succeeded(), report.Failed(), report.Records(), report.Duration())

	tracker := m.tracker
	if tracker == nil {
		tracker = usage.FromContext(ctx)
	}
	if tracker != nil {
		tracker.Track(ctx, report.Event())
	}
	return report, err
}

// syncTable fetches one table and overwrites the cached copy.
func (m *Manager) syncTable(ctx context.Context, userID string, table types.Table) TableResult {
	ctx, span := m.tracer.Start(ctx, "sync.table", trace.WithAttributes(
		attribute.String("guardian.table", string(table)),
	))
	defer span.End()

	start := time.Now()
	res := TableResult{Table: table}

	fetchTimer := logging.StartTimer(logging.CategoryRemote, fmt.Sprintf("Fetch %s for %s", table, userID))
	rows, err := m.backend.Fetch(ctx, table, userID)
	fetchTimer.StopWithThreshold(slowFetch)
	if err == nil {
		res.Records, err = m.write(ctx, userID, table, rows)
		for _, r := range rows {
			res.Bytes += int64(len(r))
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		res.Records = 0
		res.Bytes = 0
		logging.SyncError("Sync %s for %s failed: %v", table, userID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}
	span.SetAttributes(attribute.Int("guardian.records", res.Records))
	logging.SyncDebug("Synced %s for %s: %d records in %v", table, userID, res.Records, res.Duration)
	return res
}

// write decodes rows into the table's record type and replaces the cache slot.
// An empty settings result removes the cached settings so readers fall back
// to the defaults.
func (m *Manager) write(ctx context.Context, userID string, table types.Table, rows []json.RawMessage) (int, error) {
	switch table {
	case types.TableProfiles:
		v, err := decodeRows[types.Profile](table, rows)
		if err != nil {
			return 0, err
		}
		return len(v), m.cache.SetProfiles(ctx, userID, v)
	case types.TableAlerts:
		v, err := decodeRows[types.Alert](table, rows)
		if err != nil {
			return 0, err
		}
		return len(v), m.cache.SetAlerts(ctx, userID, v)
	case types.TableMessages:
		v, err := decodeRows[types.Message](table, rows)
		if err != nil {
			return 0, err
		}
		return len(v), m.cache.SetMessages(ctx, userID, v)
	case types.TableFilters:
		v, err := decodeRows[types.Filter](table, rows)
		if err != nil {
			return 0, err
		}
		return len(v), m.cache.SetFilters(ctx, userID, v)
	case types.TableSettings:
		if len(rows) == 0 {
			return 0, m.cache.DeleteTable(ctx, userID, table)
		}
		if len(rows) > 1 {
			logging.SyncWarn("Remote returned %d settings rows for %s, using the first", len(rows), userID)
		}
		var s types.Settings
		if err := json.Unmarshal(rows[0], &s); err != nil {
			return 0, fmt.Errorf("decode %s: %w", table, err)
		}
		return 1, m.cache.SetSettings(ctx, userID, s)
	default:
		return 0, fmt.Errorf("%w: %q", remote.ErrUnknownTable, string(table))
	}
}

func decodeRows[T any](table types.Table, rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", table, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
