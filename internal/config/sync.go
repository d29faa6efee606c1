package config

import (
	"fmt"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// SyncConfig configures periodic reconciliation.
type SyncConfig struct {
	Interval    string   `yaml:"interval"`    // daemon period
	Users       []string `yaml:"users"`       // accounts synced by the daemon
	Concurrency int      `yaml:"concurrency"` // users synced in parallel
	Tables      []string `yaml:"tables"`      // subset of tables, empty = all
}

// GetInterval returns the sync period as a duration.
func (s SyncConfig) GetInterval() time.Duration {
	return parseDuration(s.Interval, 15*time.Minute)
}

// GetTables resolves the configured table subset, keeping sync order.
func (s SyncConfig) GetTables() ([]types.Table, error) {
	if len(s.Tables) == 0 {
		return types.AllTables(), nil
	}
	want := make(map[types.Table]bool, len(s.Tables))
	for _, name := range s.Tables {
		t, err := types.ParseTable(name)
		if err != nil {
			return nil, err
		}
		want[t] = true
	}
	var out []types.Table
	for _, t := range types.AllTables() {
		if want[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Validate checks the sync section.
func (s SyncConfig) Validate() error {
	if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			return fmt.Errorf("invalid sync.interval %q", s.Interval)
		}
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative")
	}
	if _, err := s.GetTables(); err != nil {
		return fmt.Errorf("invalid sync.tables: %w", err)
	}
	return nil
}

// CleanupConfig configures retention cleanup of cached alerts and messages.
type CleanupConfig struct {
	AlertRetention   string `yaml:"alert_retention"`   // drop alerts older than this
	MessageRetention string `yaml:"message_retention"` // drop messages older than this
	MaxAlerts        int    `yaml:"max_alerts"`        // keep at most N newest, 0 = no cap
	MaxMessages      int    `yaml:"max_messages"`
	DropReadAlerts   bool   `yaml:"drop_read_alerts"`
	Vacuum           bool   `yaml:"vacuum"` // reclaim sqlite space afterwards
}

// GetAlertRetention returns the alert retention, 0 when disabled.
func (c CleanupConfig) GetAlertRetention() time.Duration {
	return parseDuration(c.AlertRetention, 0)
}

// GetMessageRetention returns the message retention, 0 when disabled.
func (c CleanupConfig) GetMessageRetention() time.Duration {
	return parseDuration(c.MessageRetention, 0)
}
