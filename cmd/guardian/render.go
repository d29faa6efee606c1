package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/cache"
	"github.com/coryrvde/EVERYBODY-sub001/internal/syncer"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	colorPrimary = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6b7280")
	colorError   = lipgloss.Color("#e5534b")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", ts.Local().Format("2006-01-02 15:04:05"), humanize.Time(ts))
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// renderUsage draws the storage summary for one user.
func renderUsage(u *cache.Usage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Storage for "+u.UserID))
	fmt.Fprintf(&b, "Last sync: %s\n", formatTime(u.LastSync))

	t := newTable("Table", "Records", "Size", "Updated")
	for _, tu := range u.Tables {
		records := humanize.Comma(int64(tu.Records))
		if !tu.Cached {
			records = mutedStyle.Render("not cached")
		}
		updated := ""
		if !tu.UpdatedAt.IsZero() {
			updated = humanize.Time(tu.UpdatedAt)
		}
		t.Row(string(tu.Table), records, formatBytes(tu.Bytes), updated)
	}
	t.Row("total", humanize.Comma(int64(u.TotalRecords)), formatBytes(u.TotalBytes), "")
	b.WriteString(t.Render())
	b.WriteString("\n")

	backend := fmt.Sprintf("Backend %s: %s keys, %s values", u.Backend.Backend,
		humanize.Comma(u.Backend.Keys), formatBytes(u.Backend.ValueBytes))
	if u.Backend.DiskBytes > 0 {
		backend += ", " + formatBytes(u.Backend.DiskBytes) + " on disk"
	}
	b.WriteString(mutedStyle.Render(backend))
	b.WriteString("\n")
	return b.String()
}

// renderOverview draws one row per cached user plus sync history totals.
func renderOverview(rows []*cache.Usage, hist usage.AggregatedStats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Cached users"))
	b.WriteString("\n")
	if len(rows) == 0 {
		b.WriteString(mutedStyle.Render("No cached data."))
		b.WriteString("\n")
	} else {
		t := newTable("User", "Records", "Size", "Last sync", "Runs", "Failed")
		for _, u := range rows {
			h := hist.ByUser[u.UserID]
			t.Row(u.UserID,
				humanize.Comma(int64(u.TotalRecords)),
				formatBytes(u.TotalBytes),
				formatTime(u.LastSync),
				humanize.Comma(h.Runs),
				humanize.Comma(h.Failures))
		}
		b.WriteString(t.Render())
		b.WriteString("\n")

		be := rows[0].Backend
		line := fmt.Sprintf("Backend %s: %s keys, %s values", be.Backend, humanize.Comma(be.Keys), formatBytes(be.ValueBytes))
		if be.DiskBytes > 0 {
			line += ", " + formatBytes(be.DiskBytes) + " on disk"
		}
		b.WriteString(mutedStyle.Render(line))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Sync history: %s runs, %s failed, %s records, %s pulled\n",
		humanize.Comma(hist.Total.Runs), humanize.Comma(hist.Total.Failures),
		humanize.Comma(hist.Total.Records), formatBytes(hist.Total.Bytes))
	return b.String()
}

// renderReport draws the per-table outcome of one sync.
func renderReport(r *syncer.Report) string {
	var b strings.Builder
	status := titleStyle.Render("ok")
	if r.Failed() > 0 {
		status = errorStyle.Render(fmt.Sprintf("%d failed", r.Failed()))
	}
	fmt.Fprintf(&b, "%s %s %s\n", titleStyle.Render("Sync "+r.UserID), status,
		mutedStyle.Render(fmt.Sprintf("(%s, run %s)", r.Duration().Round(time.Millisecond), r.RunID)))

	t := newTable("Table", "Records", "Size", "Time", "Error")
	for _, tr := range r.Tables {
		errText := ""
		if tr.Err != nil {
			errText = errorStyle.Render(truncate(tr.Err.Error(), 60))
		}
		t.Row(string(tr.Table), humanize.Comma(int64(tr.Records)), formatBytes(tr.Bytes),
			tr.Duration.Round(time.Millisecond).String(), errText)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

func renderCleanup(res cache.CleanupResult, dryRun bool) string {
	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	return fmt.Sprintf("%s %s alerts and %s messages for %s (%s alerts, %s messages kept)\n",
		verb,
		humanize.Comma(int64(res.AlertsRemoved)), humanize.Comma(int64(res.MessagesRemoved)), res.UserID,
		humanize.Comma(int64(res.AlertsKept)), humanize.Comma(int64(res.MessagesKept)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
