package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":3000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.XRPL.Endpoints) != 2 {
		t.Fatalf("endpoints = %v", cfg.XRPL.Endpoints)
	}
	if cfg.XRPL.OracleAccount == "" {
		t.Fatalf("oracle account unset")
	}
	if cfg.XRPL.MaxRetries != 10 {
		t.Fatalf("maxRetries = %d", cfg.XRPL.MaxRetries)
	}
	if cfg.XRPL.ReconnectDelay != 5*time.Second {
		t.Fatalf("reconnectDelay = %v", cfg.XRPL.ReconnectDelay)
	}
	if cfg.XRPL.PollInterval != 30*time.Second {
		t.Fatalf("pollInterval = %v", cfg.XRPL.PollInterval)
	}
	if cfg.XRPL.BackfillLimit != 100 {
		t.Fatalf("backfillLimit = %d", cfg.XRPL.BackfillLimit)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  addr: ":8080"
xrpl:
  endpoints:
    - wss://example.test
  oracle_account: rOracle
  max_retries: 3
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.XRPL.Endpoints) != 1 || cfg.XRPL.Endpoints[0] != "wss://example.test" {
		t.Fatalf("endpoints = %v", cfg.XRPL.Endpoints)
	}
	if cfg.XRPL.MaxRetries != 3 {
		t.Fatalf("maxRetries = %d", cfg.XRPL.MaxRetries)
	}
	// Untouched fields keep their defaults.
	if cfg.XRPL.PollInterval != 30*time.Second {
		t.Fatalf("pollInterval = %v", cfg.XRPL.PollInterval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
xrpl:
  endpoints: []
  oracle_account: rOracle
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty endpoint list")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Server.Addr != ":3000" {
		t.Fatalf("addr = %q, want default", cfg.Server.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XRPLDASH_DB_DSN", "postgres://test")
	t.Setenv("XRPLDASH_ADDR", ":9000")

	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Database.DSN != "postgres://test" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
