// Package config loads the xrpldash server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	XRPL     XRPLConfig     `yaml:"xrpl"`
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig controls price persistence. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// XRPLConfig controls the upstream ledger connection and price derivation.
type XRPLConfig struct {
	Endpoints      []string      `yaml:"endpoints"`
	OracleAccount  string        `yaml:"oracle_account"`
	QuoteCurrency  string        `yaml:"quote_currency"`
	RLUSDCurrency  string        `yaml:"rlusd_currency"`
	RLUSDIssuer    string        `yaml:"rlusd_issuer"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxRetries     int           `yaml:"max_retries"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BackfillLimit  int           `yaml:"backfill_limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":3000"},
		XRPL: XRPLConfig{
			Endpoints: []string{
				"wss://s1.ripple.com",
				"wss://rich-list.info:5001/",
			},
			OracleAccount:  "rXUMMaPpZqPutoRszR29jtC8amWq3APkx",
			QuoteCurrency:  "USD",
			RLUSDCurrency:  "524C555344000000000000000000000000000000",
			RLUSDIssuer:    "rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De",
			ReconnectDelay: 5 * time.Second,
			MaxRetries:     10,
			PollInterval:   30 * time.Second,
			BackfillLimit:  100,
		},
	}
}

// Load reads configuration from path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault loads from path, falling back to defaults when the file is
// absent.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

func (c *Config) validate() error {
	if len(c.XRPL.Endpoints) == 0 {
		return fmt.Errorf("xrpl: at least one endpoint is required")
	}
	if c.XRPL.OracleAccount == "" {
		return fmt.Errorf("xrpl: oracle_account is required")
	}
	if c.XRPL.MaxRetries <= 0 {
		return fmt.Errorf("xrpl: max_retries must be positive")
	}
	return nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("XRPLDASH_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("XRPLDASH_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}
