// Package types defines the per-user records cached on the device and
// mirrored from the monitoring backend.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Table names a remote table and the matching local cache slot.
type Table string

const (
	TableProfiles Table = "profiles"
	TableAlerts   Table = "alerts"
	TableMessages Table = "messages"
	TableFilters  Table = "filters"
	TableSettings Table = "settings"
)

// allTables is the fixed sync order.
var allTables = []Table{TableProfiles, TableAlerts, TableMessages, TableFilters, TableSettings}

// AllTables returns every table in sync order.
func AllTables() []Table {
	out := make([]Table, len(allTables))
	copy(out, allTables)
	return out
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	for _, known := range allTables {
		if t == known {
			return true
		}
	}
	return false
}

func (t Table) String() string { return string(t) }

// ParseTable resolves a table name, case-insensitively.
func ParseTable(name string) (Table, error) {
	t := Table(strings.ToLower(strings.TrimSpace(name)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown table %q (valid: %v)", name, allTables)
	}
	return t, nil
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Profile is a monitored child profile owned by a parent account.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Age       int       `json:"age,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is raised by the monitoring pipeline for a profile.
type Alert struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProfileID string    `json:"profile_id"`
	Kind      string    `json:"kind"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a captured message attributed to a profile.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProfileID string    `json:"profile_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Flagged   bool      `json:"flagged"`
	SentAt    time.Time `json:"sent_at"`
}

// Filter is a content rule applied on a profile's device.
type Filter struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProfileID string    `json:"profile_id,omitempty"`
	Category  string    `json:"category"`
	Pattern   string    `json:"pattern"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings holds account-wide preferences. There is at most one per user.
type Settings struct {
	UserID               string    `json:"user_id"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	SyncIntervalMinutes  int       `json:"sync_interval_minutes"`
	AlertThreshold       Severity  `json:"alert_threshold"`
	Theme                string    `json:"theme,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultSettings is what a user sees before the first successful sync.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:               userID,
		NotificationsEnabled: true,
		SyncIntervalMinutes:  15,
		AlertThreshold:       SeverityMedium,
		Theme:                "system",
	}
}
