package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadMissingFileYieldsDefaults verifies a missing config file is fine.
func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sync.IntervalSeconds != 60 || cfg.Sync.MaxRetries != 10 {
		t.Errorf("Unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Server.Addr != "127.0.0.1:8090" {
		t.Errorf("Unexpected server default: %s", cfg.Server.Addr)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Expected a default data dir")
	}
}

// TestLoadFile verifies TOML values override defaults and unset values are
// backfilled.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
data_dir = "/tmp/cinq-test"

[endpoints]
messages = "https://api.example.com/messages"
action_base = "https://api.example.com"

[sync]
interval_seconds = 15
max_retries = 3

[auth]
token = "secret"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/cinq-test" {
		t.Errorf("Unexpected data dir: %s", cfg.Storage.DataDir)
	}
	if cfg.Endpoints.Messages != "https://api.example.com/messages" {
		t.Errorf("Unexpected messages endpoint: %s", cfg.Endpoints.Messages)
	}
	if cfg.Sync.IntervalSeconds != 15 || cfg.Sync.MaxRetries != 3 {
		t.Errorf("Unexpected sync settings: %+v", cfg.Sync)
	}
	if cfg.Auth.Token != "secret" {
		t.Errorf("Unexpected token: %s", cfg.Auth.Token)
	}

	// Values the file leaves unset keep their defaults.
	if cfg.Sync.RequestTimeoutSeconds != 30 || cfg.Server.Addr != "127.0.0.1:8090" {
		t.Errorf("Expected backfilled defaults, got %+v / %s", cfg.Sync, cfg.Server.Addr)
	}
}

// TestLoadBadFile verifies malformed TOML is an error, not silent defaults.
func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("this is { not toml"), 0o600)

	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

// TestEnvOverrides verifies environment variables win over the file.
func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[auth]\ntoken = \"from-file\"\n"), 0o600)

	t.Setenv("CINQ_AUTH_TOKEN", "from-env")
	t.Setenv("CINQ_SERVER_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.Token != "from-env" {
		t.Errorf("Expected env token, got %s", cfg.Auth.Token)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("Expected env addr, got %s", cfg.Server.Addr)
	}
}

// TestDurationAccessors verifies second counts convert to durations.
func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	if cfg.SyncInterval() != time.Minute {
		t.Errorf("Unexpected sync interval: %v", cfg.SyncInterval())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("Unexpected request timeout: %v", cfg.RequestTimeout())
	}
	if cfg.LeaseTTL() != 2*time.Minute {
		t.Errorf("Unexpected lease TTL: %v", cfg.LeaseTTL())
	}
	if cfg.ProbeInterval() != 15*time.Second {
		t.Errorf("Unexpected probe interval: %v", cfg.ProbeInterval())
	}
}
