package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all guardian configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Local key-value storage
	Storage StorageConfig `yaml:"storage"`

	// Remote backend the cache is reconciled against
	Remote RemoteConfig `yaml:"remote"`

	// Sync scheduling
	Sync SyncConfig `yaml:"sync"`

	// Retention cleanup
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Export bundles
	Export ExportConfig `yaml:"export"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ExportConfig configures where export bundles are written.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "guardian",
		Version: "0.4.0",

		Storage: StorageConfig{
			Backend:   BackendSQLite,
			Path:      "data/cache.db",
			Namespace: "guardian",
			BackupDir: "backups",
		},

		Remote: RemoteConfig{
			Kind:       RemoteREST,
			BaseURL:    "http://localhost:54321",
			Timeout:    "15s",
			RateLimit:  10,
			Burst:      5,
			MaxRetries: 3,
			RetryDelay: "250ms",
		},

		Sync: SyncConfig{
			Interval:    "15m",
			Concurrency: 2,
		},

		Cleanup: CleanupConfig{
			AlertRetention:   "720h",
			MessageRetention: "168h",
			MaxAlerts:        500,
			MaxMessages:      2000,
			DropReadAlerts:   false,
			Vacuum:           true,
		},

		Export: ExportConfig{
			Dir: "exports",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envOverrides lists every GUARDIAN_* variable. Zero values mean "not set".
type envOverrides struct {
	StorageBackend string   `env:"GUARDIAN_STORAGE_BACKEND"`
	StoragePath    string   `env:"GUARDIAN_DB"`
	RedisURL       string   `env:"GUARDIAN_REDIS_URL"`
	RemoteKind     string   `env:"GUARDIAN_REMOTE_KIND"`
	RemoteURL      string   `env:"GUARDIAN_REMOTE_URL"`
	RemoteAPIKey   string   `env:"GUARDIAN_API_KEY"`
	AccessToken    string   `env:"GUARDIAN_ACCESS_TOKEN"`
	RemoteDSN      string   `env:"GUARDIAN_REMOTE_DSN"`
	SyncInterval   string   `env:"GUARDIAN_SYNC_INTERVAL"`
	SyncUsers      []string `env:"GUARDIAN_SYNC_USERS" envSeparator:","`
	LogLevel       string   `env:"GUARDIAN_LOG_LEVEL"`
	Debug          bool     `env:"GUARDIAN_DEBUG"`
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.StorageBackend != "" {
		c.Storage.Backend = o.StorageBackend
	}
	if o.StoragePath != "" {
		c.Storage.Path = o.StoragePath
	}
	if o.RedisURL != "" {
		c.Storage.RedisURL = o.RedisURL
		if o.StorageBackend == "" {
			c.Storage.Backend = BackendRedis
		}
	}
	if o.RemoteKind != "" {
		c.Remote.Kind = o.RemoteKind
	}
	if o.RemoteURL != "" {
		c.Remote.BaseURL = o.RemoteURL
	}
	if o.RemoteAPIKey != "" {
		c.Remote.APIKey = o.RemoteAPIKey
	}
	if o.AccessToken != "" {
		c.Remote.AccessToken = o.AccessToken
	}
	if o.RemoteDSN != "" {
		c.Remote.DSN = o.RemoteDSN
		if o.RemoteKind == "" {
			c.Remote.Kind = RemotePostgres
		}
	}
	if o.SyncInterval != "" {
		c.Sync.Interval = o.SyncInterval
	}
	if len(o.SyncUsers) > 0 {
		c.Sync.Users = o.SyncUsers
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.Debug {
		c.Logging.DebugMode = true
	}
	return nil
}

// ResolvePath anchors a relative path at the workspace's .guardian directory.
func ResolvePath(workspace, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, ".guardian", p)
}

// DefaultPath returns the config file location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".guardian", "config.yaml")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the local side of the configuration: storage, sync and cleanup.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return nil
}
