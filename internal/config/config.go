// Package config loads the traderd YAML configuration and applies
// environment variable overrides.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for the traderd session daemon.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Session SessionConfig `yaml:"session"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`     // parquet bar series root
	CatalogPath string `yaml:"catalog_path"` // sqlite universe catalog
}

// Server holds the status HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca gateway.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"` // "iex" or "sip"
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig defines connection and reconciliation parameters.
type SessionConfig struct {
	Account         string   `yaml:"account"`
	LiveData        bool     `yaml:"live_data"` // false = delayed/free feed
	ConnectAttempts int      `yaml:"connect_attempts"`
	ConnectBudget   Duration `yaml:"connect_budget"`
	ConnectDelay    Duration `yaml:"connect_delay"`
	HistoryDays     int      `yaml:"history_days"`
	BarSize         Duration `yaml:"bar_size"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	PaperMode       bool     `yaml:"paper_mode"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued connection parameters with the defaults
// the session was tuned for: ten attempts inside a two-minute budget,
// trailing 30 days of 1-minute bars.
func applyDefaults(cfg *Config) {
	if cfg.Session.ConnectAttempts == 0 {
		cfg.Session.ConnectAttempts = 10
	}
	if cfg.Session.ConnectBudget == 0 {
		cfg.Session.ConnectBudget = Duration(2 * time.Minute)
	}
	if cfg.Session.ConnectDelay == 0 {
		cfg.Session.ConnectDelay = Duration(time.Second)
	}
	if cfg.Session.HistoryDays == 0 {
		cfg.Session.HistoryDays = 30
	}
	if cfg.Session.BarSize == 0 {
		cfg.Session.BarSize = Duration(time.Minute)
	}
	if cfg.Session.RateLimitPerMin == 0 {
		cfg.Session.RateLimitPerMin = 200
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.Storage.CatalogPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
