package syncer

import (
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"
)

// TableResult is the outcome of copying one table.
type TableResult struct {
	Table    types.Table
	Records  int
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Report describes one SyncUser run.
type Report struct {
	RunID      string
	UserID     string
	Backend    string
	StartedAt  time.Time
	FinishedAt time.Time
	Tables     []TableResult
}

// Succeeded counts tables copied without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, t := range r.Tables {
		if t.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts tables that returned an error.
func (r *Report) Failed() int {
	return len(r.Tables) - r.Succeeded()
}

// Records is the total number of records written.
func (r *Report) Records() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Records
	}
	return n
}

// Bytes is the total size of the rows fetched.
func (r *Report) Bytes() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Bytes
	}
	return n
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FirstError returns the first table error in sync order, or nil.
func (r *Report) FirstError() error {
	for _, t := range r.Tables {
		if t.Err != nil {
			return t.Err
		}
	}
	return nil
}

// Event converts the report for the sync history.
func (r *Report) Event() usage.RunEvent {
	ev := usage.RunEvent{
		RunID:     r.RunID,
		UserID:    r.UserID,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(),
	}
	for _, t := range r.Tables {
		ev.Tables = append(ev.Tables, usage.TableEvent{
			Table:   string(t.Table),
			Records: t.Records,
			Bytes:   t.Bytes,
			Failed:  t.Err != nil,
		})
	}
	if err := r.FirstError(); err != nil {
		ev.Error = err.Error()
	}
	return ev
}
