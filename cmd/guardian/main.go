package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose      bool
	workspace    string
	configPath   string
	timeout      time.Duration
	traceEnabled bool

	// Logger
	logger *zap.Logger

	// shutdownTracing flushes the stdout exporter when --trace is set.
	shutdownTracing func()

	// Command being dispatched, for the cli log category.
	commandPath string
	commandArgs []string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "guardian - local cache and cloud sync for the monitoring client",
	Long: `guardian keeps a per-user copy of profiles, alerts, messages, filters and
settings on the device and reconciles it with the monitoring backend.

Each sync copies the tables in a fixed order and overwrites the local copy.
A failing table is logged and the rest still run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		commandPath, commandArgs = cmd.CommandPath(), args

		// Initialize logger
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if traceEnabled {
			shutdown, err := setupTracing(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}
			shutdownTracing = shutdown
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTracing != nil {
			shutdownTracing()
			shutdownTracing = nil
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.guardian/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "Print OpenTelemetry spans to stderr")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: <export dir>/<user>_<timestamp>.json, - for stdout)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be removed without writing")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print stats as JSON")
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 0, "Show at most N records (0 = all)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(vacuumCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
