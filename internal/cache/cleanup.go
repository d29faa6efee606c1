package cache

import (
	"context"
	"sort"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"
)

// Policy says which cached alerts and messages Cleanup drops.
// Zero durations and counts disable the corresponding rule.
type Policy struct {
	AlertRetention   time.Duration
	MessageRetention time.Duration
	MaxAlerts        int
	MaxMessages      int
	DropReadAlerts   bool
}

// PolicyFromConfig converts the cleanup section of the config.
func PolicyFromConfig(c config.CleanupConfig) Policy {
	return Policy{
		AlertRetention:   c.GetAlertRetention(),
		MessageRetention: c.GetMessageRetention(),
		MaxAlerts:        c.MaxAlerts,
		MaxMessages:      c.MaxMessages,
		DropReadAlerts:   c.DropReadAlerts,
	}
}

// CleanupResult counts what Cleanup removed.
type CleanupResult struct {
	UserID          string `json:"user_id"`
	AlertsRemoved   int    `json:"alerts_removed"`
	MessagesRemoved int    `json:"messages_removed"`
	AlertsKept      int    `json:"alerts_kept"`
	MessagesKept    int    `json:"messages_kept"`
}

// Removed is the total number of records dropped.
func (r CleanupResult) Removed() int {
	return r.AlertsRemoved + r.MessagesRemoved
}

// Cleanup applies policy to userID's alerts and messages as of now.
// Survivors are stored newest first. Tables with nothing to drop are not
// rewritten. Records with no timestamp are never considered expired.
func (c *Cache) Cleanup(ctx context.Context, userID string, policy Policy, now time.Time) (CleanupResult, error) {
	timer := logging.StartTimer(logging.CategoryCleanup, "Cleanup")
	defer timer.Stop()

	res := CleanupResult{UserID: userID}

	alerts, err := c.Alerts(ctx, userID)
	if err != nil {
		return res, err
	}
	keptAlerts := filterAlerts(alerts, policy, now)
	res.AlertsRemoved = len(alerts) - len(keptAlerts)
	res.AlertsKept = len(keptAlerts)
	if res.AlertsRemoved > 0 {
		if err := c.SetAlerts(ctx, userID, keptAlerts); err != nil {
			return res, err
		}
	}

	messages, err := c.Messages(ctx, userID)
	if err != nil {
		return res, err
	}
	keptMessages := filterMessages(messages, policy, now)
	res.MessagesRemoved = len(messages) - len(keptMessages)
	res.MessagesKept = len(keptMessages)
	if res.MessagesRemoved > 0 {
		if err := c.SetMessages(ctx, userID, keptMessages); err != nil {
			return res, err
		}
	}

	if log := logging.Get(logging.CategoryCleanup); log.Enabled() && res.Removed() > 0 {
		log.Debug("Cleanup %s dropped alerts %v, messages %v", userID,
			droppedIDs(alerts, keptAlerts, func(a types.Alert) string { return a.ID }),
			droppedIDs(messages, keptMessages, func(m types.Message) string { return m.ID }))
	}
	logging.Cleanup("Cleanup %s: removed %d alerts, %d messages", userID, res.AlertsRemoved, res.MessagesRemoved)
	return res, nil
}

// droppedIDs returns the ids in before that are missing from after.
func droppedIDs[T any](before, after []T, id func(T) string) []string {
	kept := make(map[string]bool, len(after))
	for _, v := range after {
		kept[id(v)] = true
	}
	var out []string
	for _, v := range before {
		if !kept[id(v)] {
			out = append(out, id(v))
		}
	}
	return out
}

func expired(ts, now time.Time, retention time.Duration) bool {
	return retention > 0 && !ts.IsZero() && now.Sub(ts) > retention
}

func filterAlerts(in []types.Alert, p Policy, now time.Time) []types.Alert {
	out := make([]types.Alert, 0, len(in))
	for _, a := range in {
		if expired(a.CreatedAt, now, p.AlertRetention) {
			continue
		}
		if p.DropReadAlerts && a.Read {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if p.MaxAlerts > 0 && len(out) > p.MaxAlerts {
		logging.CleanupDebug("Trimming alerts from %d to %d", len(out), p.MaxAlerts)
		out = out[:p.MaxAlerts]
	}
	return out
}

func filterMessages(in []types.Message, p Policy, now time.Time) []types.Message {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		if expired(m.SentAt, now, p.MessageRetention) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if p.MaxMessages > 0 && len(out) > p.MaxMessages {
		logging.CleanupDebug("Trimming messages from %d to %d", len(out), p.MaxMessages)
		out = out[:p.MaxMessages]
	}
	return out
}
