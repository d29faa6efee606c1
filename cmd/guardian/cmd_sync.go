package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/syncer"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// syncCmd runs one sync pass
var syncCmd = &cobra.Command{
	Use:   "sync [user...]",
	Short: "Sync users from the remote backend into the local cache",
	Long: `Copies every configured table for each user, overwriting the cached copy.
Without arguments the users listed under sync.users (or GUARDIAN_SYNC_USERS)
are synced.

Exits non-zero if any user could not sync a single table.`,
	RunE: runSync,
}

// daemonCmd runs the periodic sync loop
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync configured users periodically until interrupted",
	Long: `Runs a sync pass immediately and then every sync.interval.
Edits to sync.users and sync.interval are picked up without a restart.
Changes to sync.tables, sync.concurrency, remote or storage are logged and
take effect on the next start.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func usersFor(args []string, cfg *config.Config) ([]string, error) {
	users := args
	if len(users) == 0 {
		users = cfg.Sync.Users
	}
	if len(users) == 0 {
		return nil, errors.New("no users to sync: pass user ids or set sync.users")
	}
	return users, nil
}

// restartFields lists the config sections that changed between old and
// updated but are only read at daemon start.
func restartFields(old, updated *config.Config) []string {
	var fields []string
	if !slices.Equal(old.Sync.Tables, updated.Sync.Tables) {
		fields = append(fields, "sync.tables")
	}
	if old.Sync.Concurrency != updated.Sync.Concurrency {
		fields = append(fields, "sync.concurrency")
	}
	if old.Remote != updated.Remote {
		fields = append(fields, "remote")
	}
	if old.Storage != updated.Storage {
		fields = append(fields, "storage")
	}
	return fields
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		users, err := usersFor(args, a.cfg)
		if err != nil {
			return err
		}
		m, backend, err := a.newManager(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		ctx = usage.WithTrigger(ctx, "manual")
		logger.Info("Starting sync", zap.Strings("users", users), zap.String("remote", backend.Name()))

		results, err := m.SyncAll(ctx, users)
		out := cmd.OutOrStdout()
		for _, r := range results {
			switch {
			case r.Report != nil:
				fmt.Fprint(out, renderReport(r.Report))
			case errors.Is(r.Err, syncer.ErrSyncInProgress):
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Sync "+r.UserID), mutedStyle.Render("already running, skipped"))
			default:
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Sync "+r.UserID), errorStyle.Render(r.Err.Error()))
			}
		}
		if err != nil {
			logger.Warn("Sync finished with errors", zap.Error(err))
			return err
		}
		logger.Info("Sync complete", zap.Int("users", len(results)))
		return nil
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	ctx = usage.NewContext(ctx, a.tracker)

	m, backend, err := a.newManager(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	watcher, err := config.NewWatcher(a.configPath, func(cfg *config.Config) {
		logging.Boot("Config changed: %d users every %v", len(cfg.Sync.Users), cfg.Sync.GetInterval())
		logger.Info("Config reloaded",
			zap.Strings("users", cfg.Sync.Users),
			zap.Duration("interval", cfg.Sync.GetInterval()))
		if fields := restartFields(a.cfg, cfg); len(fields) > 0 {
			logging.BootWarn("Config changes to %v need a restart", fields)
			logger.Warn("Config changes need a daemon restart to apply", zap.Strings("fields", fields))
		}
		m.Reschedule(cfg.Sync.Users, cfg.Sync.GetInterval())
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher failed to start", zap.Error(err))
		watcher.Stop()
	} else {
		defer watcher.Stop()
	}

	interval := a.cfg.Sync.GetInterval()
	logger.Info("Daemon started",
		zap.Strings("users", a.cfg.Sync.Users),
		zap.Duration("interval", interval),
		zap.String("remote", backend.Name()))
	if len(a.cfg.Sync.Users) == 0 {
		logger.Warn("No users configured yet; waiting for sync.users in the config file")
	}

	return m.Run(ctx, a.cfg.Sync.Users, interval)
}
