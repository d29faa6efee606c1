package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/cache"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	statsJSON bool
	exportOut string
	showLimit int
)

// statsCmd shows pre-computed storage usage
var statsCmd = &cobra.Command{
	Use:   "stats [user]",
	Short: "Show cached storage usage",
	Long: `With a user id, shows record counts and sizes per table for that user.
Without one, lists every cached user with totals and sync history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

// exportCmd writes a user's cache to a JSON bundle
var exportCmd = &cobra.Command{
	Use:   "export <user>",
	Short: "Export a user's cached data as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

// importCmd restores a bundle written by export
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore a user's cache from an export bundle",
	Long: `Replaces every cached table of the bundle's user with the bundle's copy.
Use - to read the bundle from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// clearCmd drops a user's cache
var clearCmd = &cobra.Command{
	Use:   "clear <user>",
	Short: "Remove all cached data for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

// showCmd prints one cached table
var showCmd = &cobra.Command{
	Use:   "show <user> <table>",
	Short: "Print a cached table as JSON",
	Long:  `Tables: profiles, alerts, messages, filters, settings.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runShow,
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			if err := cache.ValidateUserID(args[0]); err != nil {
				return err
			}
			u, err := a.cache.Usage(ctx, args[0])
			if err != nil {
				return err
			}
			if statsJSON {
				return writeJSON(out, u)
			}
			fmt.Fprint(out, renderUsage(u))
			return nil
		}

		users, err := a.cache.Users(ctx)
		if err != nil {
			return err
		}
		rows := make([]*cache.Usage, 0, len(users))
		for _, id := range users {
			u, err := a.cache.Usage(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, u)
		}
		hist := a.tracker.Stats()
		if statsJSON {
			return writeJSON(out, map[string]interface{}{"users": rows, "history": hist})
		}
		fmt.Fprint(out, renderOverview(rows, hist))
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	userID := args[0]
	return withApp(func(ctx context.Context, a *app) error {
		if exportOut == "-" {
			_, err := a.cache.Export(ctx, userID, cmd.OutOrStdout())
			return err
		}

		path := exportOut
		if path == "" {
			name := fmt.Sprintf("%s_%s.json", userID, time.Now().UTC().Format("20060102T150405Z"))
			path = filepath.Join(a.resolveDir(a.cfg.Export.Dir), name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}

		var buf bytes.Buffer
		b, err := a.cache.Export(ctx, userID, &buf)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info("Export written", zap.String("user", userID), zap.String("path", path))
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%d profiles, %d alerts, %d messages, %d filters, %s) to %s\n",
			userID, len(b.Profiles), len(b.Alerts), len(b.Messages), len(b.Filters),
			humanize.Bytes(uint64(buf.Len())), path)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		in := cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open bundle: %w", err)
			}
			defer f.Close()
			in = f
		}
		b, err := a.cache.Import(ctx, in)
		if err != nil {
			return err
		}
		logger.Info("Bundle imported", zap.String("user", b.UserID))
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d profiles, %d alerts, %d messages, %d filters)\n",
			b.UserID, len(b.Profiles), len(b.Alerts), len(b.Messages), len(b.Filters))
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.cache.ClearUser(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d keys for %s\n", n, args[0])
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	userID := args[0]
	tbl, err := types.ParseTable(args[1])
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if tbl == types.TableSettings {
			s, err := a.cache.Settings(ctx, userID)
			if err != nil {
				return err
			}
			return writeJSON(out, s)
		}

		has, err := a.cache.HasTable(ctx, userID, tbl)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("nothing cached for %s/%s; run sync first", userID, tbl)
		}
		raw, err := a.cache.Raw(ctx, userID, tbl)
		if err != nil {
			return err
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("cached %s is corrupt: %w", tbl, err)
		}
		if showLimit > 0 && len(rows) > showLimit {
			rows = rows[:showLimit]
		}
		return writeJSON(out, rows)
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
