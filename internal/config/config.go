// Package config loads the offline core configuration from a TOML file
// under the user's config directory, with environment overrides for the
// values that change between deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the root configuration, stored in ~/.cinq/config.toml.
type Config struct {
	Storage   Storage   `toml:"storage"`
	Endpoints Endpoints `toml:"endpoints"`
	Sync      Sync      `toml:"sync"`
	Server    Server    `toml:"server"`
	Auth      Auth      `toml:"auth"`
}

// Storage locates the local durable store.
type Storage struct {
	DataDir string `toml:"data_dir"`
}

// Endpoints are the network collaborators the sync engine talks to.
type Endpoints struct {
	// Messages is the absolute URL of the messages function.
	Messages string `toml:"messages"`
	// ActionBase prefixes relative action endpoints.
	ActionBase string `toml:"action_base"`
	// Probe is fetched to detect connectivity transitions.
	Probe string `toml:"probe"`
}

// Sync tunes the drain behaviour.
type Sync struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	MaxRetries            int `toml:"max_retries"`
	LeaseTTLSeconds       int `toml:"lease_ttl_seconds"`
	ProbeIntervalSeconds  int `toml:"probe_interval_seconds"`
}

// Server configures the local HTTP API.
type Server struct {
	Addr string `toml:"addr"`
}

// Auth configures the session-token collaborator. Token takes precedence;
// TokenFile is re-read on every request so an external session layer can
// rotate it.
type Auth struct {
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Storage: Storage{DataDir: filepath.Join(home, ".cinq", "offline")},
		Sync: Sync{
			IntervalSeconds:       60,
			RequestTimeoutSeconds: 30,
			MaxRetries:            10,
			LeaseTTLSeconds:       120,
			ProbeIntervalSeconds:  15,
		},
		Server: Server{Addr: "127.0.0.1:8090"},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".cinq", "config.toml"), nil
}

// Load reads the config file at path (or the default location when path
// is empty), fills unset values with defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %w", err)
	}

	applyEnv(cfg)
	fillDefaults(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables on the loaded config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CINQ_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CINQ_MESSAGES_ENDPOINT"); v != "" {
		cfg.Endpoints.Messages = v
	}
	if v := os.Getenv("CINQ_ACTION_BASE"); v != "" {
		cfg.Endpoints.ActionBase = v
	}
	if v := os.Getenv("CINQ_PROBE_URL"); v != "" {
		cfg.Endpoints.Probe = v
	}
	if v := os.Getenv("CINQ_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CINQ_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("CINQ_AUTH_TOKEN_FILE"); v != "" {
		cfg.Auth.TokenFile = v
	}
}

// fillDefaults backstops zero values left by a partial config file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = def.Sync.IntervalSeconds
	}
	if cfg.Sync.RequestTimeoutSeconds <= 0 {
		cfg.Sync.RequestTimeoutSeconds = def.Sync.RequestTimeoutSeconds
	}
	if cfg.Sync.MaxRetries <= 0 {
		cfg.Sync.MaxRetries = def.Sync.MaxRetries
	}
	if cfg.Sync.LeaseTTLSeconds <= 0 {
		cfg.Sync.LeaseTTLSeconds = def.Sync.LeaseTTLSeconds
	}
	if cfg.Sync.ProbeIntervalSeconds <= 0 {
		cfg.Sync.ProbeIntervalSeconds = def.Sync.ProbeIntervalSeconds
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
}

// SyncInterval returns the drain interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sync.RequestTimeoutSeconds) * time.Second
}

// LeaseTTL returns the sync lease TTL as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Sync.LeaseTTLSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}
