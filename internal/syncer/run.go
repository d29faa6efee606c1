package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"

	"golang.org/x/sync/errgroup"
)

// UserResult pairs a user with the outcome of its sync.
type UserResult struct {
	UserID string
	Report *Report
	Err    error
}

// SyncAll syncs every user, at most Options.Concurrency at a time. One user
// failing does not stop the others. Results come back in input order and the
// returned error joins the per-user errors.
func (m *Manager) SyncAll(ctx context.Context, userIDs []string) ([]UserResult, error) {
	results := make([]UserResult, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, id := range userIDs {
		i, id := i, id
		g.Go(func() error {
			report, err := m.SyncUser(gctx, id)
			results[i] = UserResult{UserID: id, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.UserID, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Run syncs users immediately and then every interval until ctx is done.
// Reschedule swaps the user list and period without restarting the loop.
func (m *Manager) Run(ctx context.Context, users []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %v", interval)
	}
	ctx = usage.WithTrigger(ctx, "daemon")
	users = append([]string(nil), users...)

	logging.Sync("Sync loop started: %d users every %v", len(users), interval)
	m.pass(ctx, users)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Sync("Sync loop stopped: %v", ctx.Err())
			return nil
		case s := <-m.reschedule:
			users = s.users
			if s.interval > 0 && s.interval != interval {
				interval = s.interval
				ticker.Reset(interval)
			}
			logging.Sync("Sync loop rescheduled: %d users every %v", len(users), interval)
		case <-ticker.C:
			m.pass(ctx, users)
		}
	}
}

// Reschedule replaces the users and interval used by a running Run loop.
// Only the latest pending schedule is kept.
func (m *Manager) Reschedule(users []string, interval time.Duration) {
	s := schedule{users: append([]string(nil), users...), interval: interval}
	for {
		select {
		case m.reschedule <- s:
			return
		default:
		}
		select {
		case <-m.reschedule:
		default:
		}
	}
}

func (m *Manager) pass(ctx context.Context, users []string) {
	if len(users) == 0 {
		logging.SyncDebug("Sync pass skipped: no users configured")
		return
	}
	results, err := m.SyncAll(ctx, users)
	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	if err != nil {
		logging.SyncWarn("Sync pass: %d/%d users ok: %v", ok, len(results), err)
		return
	}
	logging.Sync("Sync pass: %d/%d users ok", ok, len(results))
}
