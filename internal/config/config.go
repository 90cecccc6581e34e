// Package config loads lostpaws server configuration from an optional file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the config file path.
const FileEnv = "LOSTPAWS_CONFIG"

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Ledger    LedgerConfig    `toml:"ledger" yaml:"ledger"`
	Auth      AuthConfig      `toml:"auth" yaml:"auth"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Bounty    BountyConfig    `toml:"bounty" yaml:"bounty"`
	Sweep     SweepConfig     `toml:"sweep" yaml:"sweep"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `toml:"port" yaml:"port"`
	Host           string `toml:"host" yaml:"host"`
	ReadTimeout    int    `toml:"read_timeout" yaml:"read_timeout"`       // seconds
	WriteTimeout   int    `toml:"write_timeout" yaml:"write_timeout"`     // seconds
	IdleTimeout    int    `toml:"idle_timeout" yaml:"idle_timeout"`       // seconds
	RequestTimeout int    `toml:"request_timeout" yaml:"request_timeout"` // seconds
	MaxBodyKB      int    `toml:"max_body_kb" yaml:"max_body_kb"`
	TrustProxy     bool   `toml:"trust_proxy" yaml:"trust_proxy"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string         `toml:"type" yaml:"type"` // "sqlite" or "postgres"
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url" yaml:"url"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LedgerConfig selects where balances live
type LedgerConfig struct {
	Type string `toml:"type" yaml:"type"` // "storage" or "memory"
	// AllowDeposit exposes the deposit route, which mints value into the
	// caller's own account. Off outside development.
	AllowDeposit bool `toml:"allow_deposit" yaml:"allow_deposit"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string `toml:"type" yaml:"type"` // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled             bool `toml:"enabled" yaml:"enabled"`
	RequestsPerMin      int  `toml:"requests_per_min" yaml:"requests_per_min"`
	WriteRequestsPerMin int  `toml:"write_requests_per_min" yaml:"write_requests_per_min"`
	BurstSize           int  `toml:"burst_size" yaml:"burst_size"`
	CleanupMinutes      int  `toml:"cleanup_minutes" yaml:"cleanup_minutes"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
}

// BountyConfig holds the case lifecycle rules
type BountyConfig struct {
	MinBounty       uint64        `toml:"min_bounty" yaml:"min_bounty"`
	ExpiryPeriod    time.Duration `toml:"expiry_period" yaml:"expiry_period"`
	ResolveCooldown time.Duration `toml:"resolve_cooldown" yaml:"resolve_cooldown"`
	CancelCooldown  time.Duration `toml:"cancel_cooldown" yaml:"cancel_cooldown"`
}

// SweepConfig holds background expiry settings
type SweepConfig struct {
	Enabled  bool          `toml:"enabled" yaml:"enabled"`
	Interval time.Duration `toml:"interval" yaml:"interval"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30,
			WriteTimeout:   60,
			IdleTimeout:    120,
			RequestTimeout: 30,
			MaxBodyKB:      64,
		},
		Storage: StorageConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "./data/lostpaws.db"},
		},
		Ledger:  LedgerConfig{Type: "storage"},
		Auth:    AuthConfig{Type: "none"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			RequestsPerMin:      300,
			WriteRequestsPerMin: 60,
			BurstSize:           50,
			CleanupMinutes:      10,
		},
		Metrics: MetricsConfig{Enabled: true, ServiceName: "lostpaws"},
		Bounty: BountyConfig{
			MinBounty:       1_000_000,
			ExpiryPeriod:    30 * 24 * time.Hour,
			ResolveCooldown: time.Hour,
			CancelCooldown:  time.Hour,
		},
		Sweep: SweepConfig{Enabled: true, Interval: time.Minute},
	}
}

// Load builds the configuration from defaults, then the file at path (or
// $LOSTPAWS_CONFIG when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && os.Getenv("STORAGE_TYPE") == "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	s := &cfg.Server
	s.Port = getEnvInt("PORT", s.Port)
	s.Host = getEnv("HOST", s.Host)
	s.ReadTimeout = getEnvInt("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvInt("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvInt("SERVER_IDLE_TIMEOUT", s.IdleTimeout)
	s.RequestTimeout = getEnvInt("SERVER_REQUEST_TIMEOUT", s.RequestTimeout)
	s.MaxBodyKB = getEnvInt("SERVER_MAX_BODY_KB", s.MaxBodyKB)
	s.TrustProxy = getEnvBool("TRUST_PROXY", s.TrustProxy)

	cfg.Storage.Type = getEnv("STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.Postgres.URL = getEnv("DATABASE_URL", cfg.Storage.Postgres.URL)
	cfg.Storage.SQLite.Path = getEnv("SQLITE_PATH", cfg.Storage.SQLite.Path)
	cfg.Ledger.Type = getEnv("LEDGER_TYPE", cfg.Ledger.Type)
	cfg.Ledger.AllowDeposit = getEnvBool("LEDGER_ALLOW_DEPOSIT", cfg.Ledger.AllowDeposit)
	cfg.Auth.Type = getEnv("AUTH_TYPE", cfg.Auth.Type)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	rl := &cfg.RateLimit
	rl.Enabled = getEnvBool("RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerMin = getEnvInt("RATE_LIMIT_RPM", rl.RequestsPerMin)
	rl.WriteRequestsPerMin = getEnvInt("RATE_LIMIT_WRITE_RPM", rl.WriteRequestsPerMin)
	rl.BurstSize = getEnvInt("RATE_LIMIT_BURST", rl.BurstSize)
	rl.CleanupMinutes = getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", rl.CleanupMinutes)

	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ServiceName = getEnv("METRICS_SERVICE_NAME", cfg.Metrics.ServiceName)

	b := &cfg.Bounty
	var err error
	b.MinBounty, err = getEnvUint64("BOUNTY_MIN", b.MinBounty)
	collect(err)
	b.ExpiryPeriod, err = getEnvDuration("BOUNTY_EXPIRY_PERIOD", b.ExpiryPeriod)
	collect(err)
	b.ResolveCooldown, err = getEnvDuration("BOUNTY_RESOLVE_COOLDOWN", b.ResolveCooldown)
	collect(err)
	b.CancelCooldown, err = getEnvDuration("BOUNTY_CANCEL_COOLDOWN", b.CancelCooldown)
	collect(err)

	cfg.Sweep.Enabled = getEnvBool("EXPIRY_SWEEP_ENABLED", cfg.Sweep.Enabled)
	cfg.Sweep.Interval, err = getEnvDuration("EXPIRY_SWEEP_INTERVAL", cfg.Sweep.Interval)
	collect(err)

	return errors.Join(errs...)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, errors.New("storage type postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	if c.Ledger.Type != "storage" && c.Ledger.Type != "memory" {
		errs = append(errs, fmt.Errorf("unknown ledger type %q", c.Ledger.Type))
	}
	if c.Auth.Type != "none" && c.Auth.Type != "api-key" {
		errs = append(errs, fmt.Errorf("unknown auth type %q", c.Auth.Type))
	}
	if c.Bounty.MinBounty == 0 {
		errs = append(errs, errors.New("bounty.min_bounty must be positive"))
	}
	if c.Bounty.ExpiryPeriod <= 0 {
		errs = append(errs, errors.New("bounty.expiry_period must be positive"))
	}
	if c.Bounty.ResolveCooldown < 0 || c.Bounty.CancelCooldown < 0 {
		errs = append(errs, errors.New("bounty cooldowns cannot be negative"))
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep.interval must be positive when the sweeper is enabled"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	u, err := strconv.ParseUint(strings.ReplaceAll(value, "_", ""), 10, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return u, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
