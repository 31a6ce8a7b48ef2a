package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/traderd/data"
  catalog_path: "/tmp/traderd/catalog.db"
server:
  host: "0.0.0.0"
  port: 8080
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "info"
  format: "json"
session:
  account: "PA123"
  live_data: false
  connect_attempts: 5
  connect_budget: 90s
  history_days: 14
  paper_mode: true
`)

	tmpFile, err := os.CreateTemp("", "traderd-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("CATALOG_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/traderd/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/traderd/data")
	}
	if cfg.Storage.CatalogPath != "/tmp/traderd/catalog.db" {
		t.Errorf("Storage.CatalogPath = %q, want %q", cfg.Storage.CatalogPath, "/tmp/traderd/catalog.db")
	}

	// -- Server --
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want default %q", cfg.Alpaca.Feed, "iex")
	}

	// -- Logging --
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	// -- Session: explicit values kept, unset values defaulted --
	if cfg.Session.Account != "PA123" {
		t.Errorf("Session.Account = %q, want %q", cfg.Session.Account, "PA123")
	}
	if cfg.Session.ConnectAttempts != 5 {
		t.Errorf("Session.ConnectAttempts = %d, want 5", cfg.Session.ConnectAttempts)
	}
	if cfg.Session.ConnectBudget.Std() != 90*time.Second {
		t.Errorf("Session.ConnectBudget = %v, want 90s", cfg.Session.ConnectBudget)
	}
	if cfg.Session.HistoryDays != 14 {
		t.Errorf("Session.HistoryDays = %d, want 14", cfg.Session.HistoryDays)
	}
	if cfg.Session.ConnectDelay.Std() != time.Second {
		t.Errorf("Session.ConnectDelay = %v, want default 1s", cfg.Session.ConnectDelay)
	}
	if cfg.Session.BarSize.Std() != time.Minute {
		t.Errorf("Session.BarSize = %v, want default 1m", cfg.Session.BarSize)
	}
	if cfg.Session.RateLimitPerMin != 200 {
		t.Errorf("Session.RateLimitPerMin = %d, want default 200", cfg.Session.RateLimitPerMin)
	}
	if !cfg.Session.PaperMode {
		t.Error("Session.PaperMode = false, want true")
	}
	if cfg.Session.LiveData {
		t.Error("Session.LiveData = true, want false (delayed is the default)")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "traderd-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}
