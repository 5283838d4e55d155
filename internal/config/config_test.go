package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var overrideVars = []string{
	"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
	"ALPACA_BASE_URL", "ALPACA_DATA_URL", "LOG_LEVEL", "QUOTE_PROVIDER", "PORT",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtester.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/backtester/data"
  sqlite_path: "/tmp/backtester/backtester.db"
server:
  host: "0.0.0.0"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
yahoo:
  timeout: 15s
quotes:
  provider: "yahoo"
  cache: true
  max_attempts: 5
  retry_delay: 2s
  rate_limit_burst: 4
logging:
  level: "debug"
  format: "text"
backtest:
  warmup_padding_days: 20
refresh:
  enabled: true
  schedule: "0 0 22 * * *"
gather:
  tickers: ["AAPL", "MSFT"]
  start_date: "2015-01-01"
  max_workers: 8
  rate_limit_per_min: 120
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/backtester/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Server.Addr() != "0.0.0.0:8081" || cfg.Server.GRPCAddr() != "0.0.0.0:9091" {
		t.Errorf("Server addrs = %q, %q", cfg.Server.Addr(), cfg.Server.GRPCAddr())
	}
	if !cfg.Alpaca.HasCredentials() {
		t.Error("Alpaca credentials not loaded")
	}
	if cfg.Yahoo.Timeout != 15*time.Second {
		t.Errorf("Yahoo.Timeout = %v, want 15s", cfg.Yahoo.Timeout)
	}
	if cfg.Quotes.Provider != "yahoo" || !cfg.Quotes.Cache || cfg.Quotes.MaxAttempts != 5 || cfg.Quotes.RetryDelay != 2*time.Second || cfg.Quotes.RateLimitBurst != 4 {
		t.Errorf("Quotes = %+v", cfg.Quotes)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Backtest.WarmupPaddingDays != 20 {
		t.Errorf("Backtest.WarmupPaddingDays = %d, want 20", cfg.Backtest.WarmupPaddingDays)
	}
	if !cfg.Refresh.Enabled || cfg.Refresh.Schedule != "0 0 22 * * *" {
		t.Errorf("Refresh = %+v", cfg.Refresh)
	}
	if len(cfg.Gather.Tickers) != 2 || cfg.Gather.MaxWorkers != 8 || cfg.Gather.RateLimitPerMin != 120 {
		t.Errorf("Gather = %+v", cfg.Gather)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "data" || cfg.Storage.SQLitePath != "data/backtester.db" {
		t.Errorf("Storage defaults = %+v", cfg.Storage)
	}
	if cfg.Server.Port != 8080 || cfg.Server.GRPCAddr() != "" {
		t.Errorf("Server defaults = %+v", cfg.Server)
	}
	if cfg.Quotes.Provider != "yahoo" {
		t.Errorf("Quotes.Provider = %q, want yahoo without credentials", cfg.Quotes.Provider)
	}
	if cfg.Backtest.WarmupPaddingDays != 10 {
		t.Errorf("Backtest.WarmupPaddingDays = %d, want 10", cfg.Backtest.WarmupPaddingDays)
	}
	if cfg.Logging.Level != "info" || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Logging/Feed defaults = %+v / %q", cfg.Logging, cfg.Alpaca.Feed)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("ALPACA_API_KEY", "from-alpaca-var")
	t.Setenv("APCA_API_KEY_ID", "from-apca-var")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PORT", "9000")

	cfg, err := Load(writeConfig(t, "storage:\n  data_dir: /file/data\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DATA_DIR override = %q", cfg.Storage.DataDir)
	}
	if cfg.Alpaca.APIKey != "from-apca-var" {
		t.Errorf("APCA_API_KEY_ID should win, got %q", cfg.Alpaca.APIKey)
	}
	if cfg.Quotes.Provider != "alpaca" {
		t.Errorf("Quotes.Provider = %q, want alpaca once credentials exist", cfg.Quotes.Provider)
	}
	if cfg.Logging.Level != "warn" || cfg.Server.Port != 9000 {
		t.Errorf("LOG_LEVEL/PORT override = %q/%d", cfg.Logging.Level, cfg.Server.Port)
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}

	if _, err := Load(writeConfig(t, "server: [broken")); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("BACKTESTER_CONFIG", "")
	if Path() != DefaultPath {
		t.Errorf("Path() = %q, want %q", Path(), DefaultPath)
	}
	t.Setenv("BACKTESTER_CONFIG", "/etc/bt.yaml")
	if Path() != "/etc/bt.yaml" {
		t.Errorf("Path() = %q", Path())
	}
}
