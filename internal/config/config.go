package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the zhunleme service. It is built
// once at process start and handed to the components that need it.
type Config struct {
	Database Database `yaml:"database"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Sources  Sources  `yaml:"sources"`
	Quota    Quota    `yaml:"quota"`
	Sync     Sync     `yaml:"sync"`
	Backtest Backtest `yaml:"backtest"`
}

// Database selects the SQL driver and connection string.
type Database struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// Server holds network listener configuration.
type Server struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	GRPCPort  int    `yaml:"grpc_port"`
	APIPrefix string `yaml:"api_prefix"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Sources holds endpoints for the remote market data providers.
type Sources struct {
	THSBaseURL      string        `yaml:"ths_base_url"`
	AKToolsBaseURL  string        `yaml:"aktools_base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	ArchiveDir      string        `yaml:"archive_dir"`
}

// Quota holds the daily backtest allowances reported by the quota endpoint.
type Quota struct {
	GuestPerDay int `yaml:"guest_per_day"`
	LoginPerDay int `yaml:"login_per_day"`
}

// Sync controls the in-process quote sync job.
type Sync struct {
	Cron         string `yaml:"cron"`
	LookbackDays int    `yaml:"lookback_days"`
	CodesLimit   int    `yaml:"codes_limit"`
}

// Backtest holds limits for backtest requests.
type Backtest struct {
	MaxStocks        int    `yaml:"max_stocks"`
	Workers          int    `yaml:"workers"`
	DefaultBenchmark string `yaml:"default_benchmark"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides and fills defaults. A missing file is not an
// error; the result is then built from the environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZLM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ZLM_DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("ZLM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ZLM_AKSHARE_BASE_URL"); v != "" {
		cfg.Sources.AKToolsBaseURL = v
	}
	if v := os.Getenv("ZLM_THS_BASE_URL"); v != "" {
		cfg.Sources.THSBaseURL = v
	}

	if n, ok := envInt("ZLM_QUOTA_GUEST_PER_DAY"); ok {
		cfg.Quota.GuestPerDay = n
	}
	if n, ok := envInt("ZLM_QUOTA_LOGIN_PER_DAY"); ok {
		cfg.Quota.LoginPerDay = n
	}
	if n, ok := envInt("ZLM_HTTP_PORT"); ok {
		cfg.Server.Port = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/zlm.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "/api"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Sources.THSBaseURL == "" {
		cfg.Sources.THSBaseURL = "https://d.10jqka.com.cn"
	}
	if cfg.Sources.AKToolsBaseURL == "" {
		cfg.Sources.AKToolsBaseURL = "https://akshare.xyz"
	}
	if cfg.Sources.Timeout == 0 {
		cfg.Sources.Timeout = 10 * time.Second
	}
	if cfg.Sources.RateLimitPerMin == 0 {
		cfg.Sources.RateLimitPerMin = 120
	}
	if cfg.Quota.GuestPerDay == 0 {
		cfg.Quota.GuestPerDay = 3
	}
	if cfg.Quota.LoginPerDay == 0 {
		cfg.Quota.LoginPerDay = 20
	}
	if cfg.Sync.LookbackDays == 0 {
		cfg.Sync.LookbackDays = 10
	}
	if cfg.Sync.CodesLimit == 0 {
		cfg.Sync.CodesLimit = 50
	}
	if cfg.Backtest.MaxStocks == 0 {
		cfg.Backtest.MaxStocks = 20
	}
	if cfg.Backtest.Workers == 0 {
		cfg.Backtest.Workers = 4
	}
	if cfg.Backtest.DefaultBenchmark == "" {
		cfg.Backtest.DefaultBenchmark = "HS300"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Backtest.MaxStocks < 1 {
		return fmt.Errorf("backtest.max_stocks must be positive")
	}
	if c.Backtest.Workers < 1 {
		return fmt.Errorf("backtest.workers must be positive")
	}
	return nil
}

// HTTPAddr returns the host:port the REST API listens on.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr returns the host:port of the gRPC health listener, or "" when
// disabled.
func (c *Config) GRPCAddr() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
