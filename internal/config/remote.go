package config

import (
	"fmt"
	"time"
)

// Remote backend kinds.
const (
	RemoteREST     = "rest"
	RemotePostgres = "postgres"
)

// RemoteConfig configures the backend the cache syncs from.
type RemoteConfig struct {
	Kind        string  `yaml:"kind"`         // rest, postgres
	BaseURL     string  `yaml:"base_url"`     // rest: project URL, /rest/v1 is appended
	APIKey      string  `yaml:"api_key"`      // rest: anon/service key sent as apikey header
	AccessToken string  `yaml:"access_token"` // rest: user session token, falls back to APIKey
	DSN         string  `yaml:"dsn"`          // postgres connection string
	Timeout     string  `yaml:"timeout"`      // per request
	RateLimit   float64 `yaml:"rate_limit"`   // requests per second, 0 = unlimited
	Burst       int     `yaml:"burst"`
	MaxRetries  int     `yaml:"max_retries"`
	RetryDelay  string  `yaml:"retry_delay"` // initial backoff
}

// GetTimeout returns the request timeout as a duration.
func (r RemoteConfig) GetTimeout() time.Duration {
	return parseDuration(r.Timeout, 15*time.Second)
}

// GetRetryDelay returns the initial retry backoff.
func (r RemoteConfig) GetRetryDelay() time.Duration {
	return parseDuration(r.RetryDelay, 250*time.Millisecond)
}

// ValidateRemote checks the remote section. Only commands that talk to the
// backend need it.
func (c *Config) ValidateRemote() error {
	switch c.Remote.Kind {
	case RemoteREST:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required for the rest backend (or set GUARDIAN_REMOTE_URL)")
		}
		if c.Remote.APIKey == "" {
			return fmt.Errorf("remote API key not configured (set GUARDIAN_API_KEY)")
		}
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the postgres backend (or set GUARDIAN_REMOTE_DSN)")
		}
	default:
		return fmt.Errorf("invalid remote kind: %q (valid: %s, %s)", c.Remote.Kind, RemoteREST, RemotePostgres)
	}
	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("remote.rate_limit must not be negative")
	}
	return nil
}
