package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when BACKTESTER_CONFIG is unset.
const DefaultPath = "config/backtester.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtester.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Yahoo    Yahoo          `yaml:"yahoo"`
	Quotes   QuotesConfig   `yaml:"quotes"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Gather   GatherConfig   `yaml:"gather"`
}

// Storage holds paths for the quote cache and the scenario database.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns host:port for the HTTP listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns host:grpc_port, or "" when gRPC is disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// HasCredentials reports whether both key and secret are set.
func (a Alpaca) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Yahoo configures the Yahoo Finance chart source.
type Yahoo struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// QuotesConfig selects and tunes the quote source.
type QuotesConfig struct {
	// Provider is "alpaca" or "yahoo". Empty selects alpaca when credentials
	// are configured and yahoo otherwise.
	Provider        string        `yaml:"provider"`
	Cache           bool          `yaml:"cache"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"` // <= 1 means no bursting
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig tunes the backtest runner.
type BacktestConfig struct {
	WarmupPaddingDays int `yaml:"warmup_padding_days"`
}

// RefreshConfig controls the scheduled re-run of saved scenarios.
type RefreshConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, seconds field optional
}

// GatherConfig controls quote cache warming.
type GatherConfig struct {
	Tickers         []string `yaml:"tickers"`
	StartDate       string   `yaml:"start_date"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns BACKTESTER_CONFIG when set, otherwise DefaultPath.
func Path() string {
	if v := os.Getenv("BACKTESTER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns an env-and-defaults config
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = &Config{}
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
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
	if v := os.Getenv("QUOTE_PROVIDER"); v != "" {
		cfg.Quotes.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	// Standard Alpaca env vars win over ALPACA_*: they are the names the SDK reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/backtester.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "sip"
	}
	if cfg.Quotes.Provider == "" {
		cfg.Quotes.Provider = "yahoo"
		if cfg.Alpaca.HasCredentials() {
			cfg.Quotes.Provider = "alpaca"
		}
	}
	if cfg.Quotes.MaxAttempts == 0 {
		cfg.Quotes.MaxAttempts = 3
	}
	if cfg.Quotes.RetryDelay == 0 {
		cfg.Quotes.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Backtest.WarmupPaddingDays == 0 {
		cfg.Backtest.WarmupPaddingDays = 10
	}
	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "0 30 21 * * 1-5"
	}
	if cfg.Gather.StartDate == "" {
		cfg.Gather.StartDate = "2010-01-01"
	}
	if cfg.Gather.MaxWorkers == 0 {
		cfg.Gather.MaxWorkers = 4
	}
}
