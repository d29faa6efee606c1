package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coryrvde/EVERYBODY-sub001/internal/cache"
	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/remote"
	"github.com/coryrvde/EVERYBODY-sub001/internal/store"
	"github.com/coryrvde/EVERYBODY-sub001/internal/syncer"
	"github.com/coryrvde/EVERYBODY-sub001/internal/usage"

	"go.uber.org/zap"
)

// app bundles what every command needs.
type app struct {
	workspace  string
	configPath string
	cfg        *config.Config
	kv         store.KV
	cache      *cache.Cache
	tracker    *usage.Tracker
}

func resolveWorkspace() (string, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Abs(ws)
}

// openApp loads config, starts file logging and opens the local store.
func openApp(ctx context.Context) (*app, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	path := configPath
	if path == "" {
		path = config.DefaultPath(ws)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := logging.Initialize(ws, cfg.Logging.ToLogging()); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	} else if logging.IsDebugMode() {
		logger.Debug("File logging enabled", zap.String("dir", filepath.Join(ws, ".guardian", "logs")))
	}
	logging.Boot("guardian %s starting in %s", cfg.Version, ws)
	logging.CLI("Running %s", commandPath)
	logging.CLIDebug("Args: %v", commandArgs)

	kv, err := store.Open(ctx, cfg.Storage, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	tracker, err := usage.NewTracker(ws)
	if err != nil {
		kv.Close()
		return nil, err
	}

	logger.Debug("Workspace ready",
		zap.String("workspace", ws),
		zap.String("config", path),
		zap.String("backend", cfg.Storage.Backend))

	return &app{
		workspace:  ws,
		configPath: path,
		cfg:        cfg,
		kv:         kv,
		cache:      cache.New(kv),
		tracker:    tracker,
	}, nil
}

// newManager connects to the configured remote and builds a sync manager.
// The caller must close the returned backend.
func (a *app) newManager(ctx context.Context) (*syncer.Manager, remote.Backend, error) {
	if err := a.cfg.ValidateRemote(); err != nil {
		return nil, nil, err
	}
	tables, err := a.cfg.Sync.GetTables()
	if err != nil {
		return nil, nil, err
	}
	backend, err := remote.New(ctx, a.cfg.Remote)
	if err != nil {
		return nil, nil, err
	}
	m := syncer.NewManager(a.cache, backend, syncer.Options{
		Tables:      tables,
		Concurrency: a.cfg.Sync.Concurrency,
	})
	return m, backend, nil
}

// resolveDir anchors a configured directory under .guardian.
func (a *app) resolveDir(dir string) string {
	return config.ResolvePath(a.workspace, dir)
}

func (a *app) close() {
	if err := a.tracker.Close(); err != nil {
		logger.Warn("Failed to save sync history", zap.Error(err))
	}
	if err := a.kv.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
	logging.CloseAll()
}

// withApp runs fn with an opened app and a context bounded by --timeout.
// The context carries the sync history tracker.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	err = fn(usage.NewContext(ctx, a.tracker), a)
	if err != nil {
		logging.CLI("%s failed: %v", commandPath, err)
	} else {
		logging.CLIDebug("%s done", commandPath)
	}
	return err
}
