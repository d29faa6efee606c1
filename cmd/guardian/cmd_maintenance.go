package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/cache"
	"github.com/coryrvde/EVERYBODY-sub001/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupDryRun bool

// cleanupCmd applies the retention policy
var cleanupCmd = &cobra.Command{
	Use:   "cleanup [user...]",
	Short: "Drop expired alerts and messages from the cache",
	Long: `Applies the cleanup section of the config: alerts and messages older than
their retention are dropped, read alerts optionally too, and each table is
trimmed to its maximum keeping the newest records.

Without arguments every cached user is cleaned. On the sqlite backend the
database is vacuumed afterwards when cleanup.vacuum is set.`,
	RunE: runCleanup,
}

// backupCmd snapshots the sqlite database
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the local database",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

// vacuumCmd reclaims free space
var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim space freed by deletes",
	Args:  cobra.NoArgs,
	RunE:  runVacuum,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		users := args
		if len(users) == 0 {
			var err error
			if users, err = a.cache.Users(ctx); err != nil {
				return err
			}
		}
		policy := cache.PolicyFromConfig(a.cfg.Cleanup)
		out := cmd.OutOrStdout()

		target := a.cache
		if cleanupDryRun {
			// Run against a scratch copy so nothing is written.
			scratch := store.NewMemoryStore()
			defer scratch.Close()
			target = cache.New(scratch)
			for _, id := range users {
				b, err := a.cache.Snapshot(ctx, id)
				if err != nil {
					return err
				}
				if err := target.SetAlerts(ctx, id, b.Alerts); err != nil {
					return err
				}
				if err := target.SetMessages(ctx, id, b.Messages); err != nil {
					return err
				}
			}
		}

		now := time.Now()
		removed := 0
		for _, id := range users {
			res, err := target.Cleanup(ctx, id, policy, now)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", id, err)
			}
			removed += res.Removed()
			fmt.Fprint(out, renderCleanup(res, cleanupDryRun))
		}

		if !cleanupDryRun && removed > 0 && a.cfg.Cleanup.Vacuum {
			if v, ok := a.kv.(store.Vacuumer); ok {
				if err := v.Vacuum(ctx); err != nil {
					logger.Warn("Vacuum after cleanup failed", zap.Error(err))
				}
			}
		}
		logger.Info("Cleanup complete", zap.Int("users", len(users)), zap.Int("removed", removed), zap.Bool("dry_run", cleanupDryRun))
		return nil
	})
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		b, ok := a.kv.(store.Backuper)
		if !ok {
			return fmt.Errorf("the %s backend does not support backups", a.cfg.Storage.Backend)
		}
		path, err := b.Backup(ctx, a.resolveDir(a.cfg.Storage.BackupDir))
		if err != nil {
			return err
		}
		logger.Info("Backup written", zap.String("path", path))
		fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
		return nil
	})
}

func runVacuum(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		v, ok := a.kv.(store.Vacuumer)
		if !ok {
			return errors.New("the " + a.cfg.Storage.Backend + " backend has nothing to vacuum")
		}
		before, err := a.kv.Stats(ctx)
		if err != nil {
			return err
		}
		if err := v.Vacuum(ctx); err != nil {
			return err
		}
		after, err := a.kv.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vacuumed: %s -> %s on disk\n",
			humanize.Bytes(uint64(before.DiskBytes)), humanize.Bytes(uint64(after.DiskBytes)))
		return nil
	})
}
