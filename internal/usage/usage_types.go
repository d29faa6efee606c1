package usage

import "time"

// maxRecentRuns bounds HistoryData.Recent.
const maxRecentRuns = 50

// HistoryData represents the root structure stored in persistence.
type HistoryData struct {
	Version   string          `json:"version"`
	Recent    []RunEvent      `json:"recent,omitempty"` // newest last, capped
	Aggregate AggregatedStats `json:"aggregate"`
}

// RunEvent represents one sync of one user.
type RunEvent struct {
	RunID     string        `json:"run_id"`
	UserID    string        `json:"user_id"`
	Trigger   string        `json:"trigger"` // manual, daemon, import
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Tables    []TableEvent  `json:"tables"`
	Error     string        `json:"error,omitempty"`
}

// TableEvent is the outcome of copying one table.
type TableEvent struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
	Bytes   int64  `json:"bytes"`
	Failed  bool   `json:"failed,omitempty"`
}

// Failed reports whether no table in the run succeeded.
func (e RunEvent) Failed() bool {
	for _, t := range e.Tables {
		if !t.Failed {
			return false
		}
	}
	return true
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total     SyncCounts            `json:"total"`
	ByUser    map[string]SyncCounts `json:"by_user"`
	ByTable   map[string]SyncCounts `json:"by_table"`
	ByTrigger map[string]SyncCounts `json:"by_trigger"`
	LastRun   map[string]time.Time  `json:"last_run"` // per user
}

// SyncCounts holds run and volume sums.
type SyncCounts struct {
	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`
	Records  int64 `json:"records"`
	Bytes    int64 `json:"bytes"`
}

func (sc *SyncCounts) Add(failed bool, records int, bytes int64) {
	sc.Runs++
	if failed {
		sc.Failures++
	}
	sc.Records += int64(records)
	sc.Bytes += bytes
}
