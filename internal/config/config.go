package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dyluth/bingo/internal/identity"
	"github.com/dyluth/bingo/pkg/ledger"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate.
const (
	DefaultNamespace        = "default"
	DefaultListen           = ":8080"
	DefaultRedisURL         = "redis://localhost:6379/0"
	DefaultSQLitePath       = "bingo.db"
	DefaultOperationTimeout = 2 * time.Second
	DefaultRefreshInterval  = 30 * time.Second
	DefaultCacheSize        = 100000
	DefaultCookieMaxAge     = identity.DefaultCookieMaxAge
)

// Store drivers.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// BingoConfig represents the top-level bingo.yml configuration
type BingoConfig struct {
	Version     string            `yaml:"version"`
	Namespace   string            `yaml:"namespace,omitempty"` // Key prefix shared by every process of one deployment
	Listen      string            `yaml:"listen,omitempty"`    // HTTP listen address
	Store       *StoreConfig      `yaml:"store,omitempty"`
	Identity    *IdentityConfig   `yaml:"identity,omitempty"`
	Control     *ControlConfig    `yaml:"control,omitempty"`
	Assignment  *AssignmentConfig `yaml:"assignment,omitempty"`
	Registry    *RegistryConfig   `yaml:"registry,omitempty"`
	Log         *LogConfig        `yaml:"log,omitempty"`
	Experiments []ExperimentSeed  `yaml:"experiments,omitempty"` // Created at startup when absent
}

// StoreConfig selects and configures the durable ledger
type StoreConfig struct {
	Driver           string        `yaml:"driver,omitempty"` // "redis" (default) or "sqlite"
	RedisURL         string        `yaml:"redis_url,omitempty"`
	SQLitePath       string        `yaml:"sqlite_path,omitempty"`
	OperationTimeout time.Duration `yaml:"operation_timeout,omitempty"` // Per-request store deadline
}

// IdentityConfig controls the identity cookie
type IdentityConfig struct {
	CookieName   string        `yaml:"cookie_name,omitempty"`
	CookieMaxAge *time.Duration `yaml:"cookie_max_age,omitempty"` // 0 = session cookie, default = one year
	Secure       bool          `yaml:"secure,omitempty"`
}

// ControlConfig lists who may create experiments through the blotter
type ControlConfig struct {
	Header string   `yaml:"header,omitempty"`
	Tokens []string `yaml:"tokens,omitempty"`
}

// AssignmentConfig tunes bucketing
type AssignmentConfig struct {
	HashSeed  uint64 `yaml:"hash_seed,omitempty"`
	CacheSize *int   `yaml:"cache_size,omitempty"` // 0 = unbounded, default = 100000
}

// RegistryConfig tunes the experiment cache
type RegistryConfig struct {
	RefreshInterval *time.Duration `yaml:"refresh_interval,omitempty"` // 0 disables periodic refresh
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // json (default) or text
}

// ExperimentSeed declares an experiment that must exist at startup.
// Alternatives and conversions use the same JSON forms as the blotter.
type ExperimentSeed struct {
	Name         string `yaml:"name"`
	Alternatives string `yaml:"alternatives,omitempty"`
	Conversions  string `yaml:"conversions,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *BingoConfig {
	c := &BingoConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Validate performs strict validation on the configuration and fills defaults
func (c *BingoConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if strings.ContainsAny(c.Namespace, ": ") {
		return fmt.Errorf("invalid namespace %q: must not contain ':' or spaces", c.Namespace)
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Identity == nil {
		c.Identity = &IdentityConfig{}
	}
	if c.Identity.CookieMaxAge == nil {
		maxAge := DefaultCookieMaxAge
		c.Identity.CookieMaxAge = &maxAge
	}
	if *c.Identity.CookieMaxAge < 0 {
		return fmt.Errorf("identity.cookie_max_age must be >= 0 (0 = session cookie), got %s", *c.Identity.CookieMaxAge)
	}

	if c.Control == nil {
		c.Control = &ControlConfig{}
	}

	if c.Assignment == nil {
		c.Assignment = &AssignmentConfig{}
	}
	if c.Assignment.CacheSize == nil {
		size := DefaultCacheSize
		c.Assignment.CacheSize = &size
	}
	if *c.Assignment.CacheSize < 0 {
		return fmt.Errorf("assignment.cache_size must be >= 0 (0 = unbounded), got %d", *c.Assignment.CacheSize)
	}

	if c.Registry == nil {
		c.Registry = &RegistryConfig{}
	}
	if c.Registry.RefreshInterval == nil {
		interval := DefaultRefreshInterval
		c.Registry.RefreshInterval = &interval
	}
	if *c.Registry.RefreshInterval < 0 {
		return fmt.Errorf("registry.refresh_interval must be >= 0 (0 = disabled), got %s", *c.Registry.RefreshInterval)
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be 'json' or 'text')", c.Log.Format)
	}

	seen := make(map[string]struct{}, len(c.Experiments))
	for i, seed := range c.Experiments {
		if err := seed.Validate(); err != nil {
			return fmt.Errorf("experiments[%d]: %w", i, err)
		}
		if _, dup := seen[seed.Name]; dup {
			return fmt.Errorf("experiments[%d]: duplicate experiment '%s'", i, seed.Name)
		}
		seen[seed.Name] = struct{}{}
	}

	return nil
}

func (c *BingoConfig) validateStore() error {
	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	s := c.Store

	if s.Driver == "" {
		s.Driver = DriverRedis
	}
	switch s.Driver {
	case DriverRedis:
		if s.RedisURL == "" {
			s.RedisURL = DefaultRedisURL
		}
	case DriverSQLite:
		if s.SQLitePath == "" {
			s.SQLitePath = DefaultSQLitePath
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be 'redis' or 'sqlite')", s.Driver)
	}

	if s.OperationTimeout == 0 {
		s.OperationTimeout = DefaultOperationTimeout
	}
	if s.OperationTimeout < 0 {
		return fmt.Errorf("store.operation_timeout must be > 0, got %s", s.OperationTimeout)
	}
	return nil
}

// Validate checks that the seed parses the way a blotter request would.
func (s *ExperimentSeed) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Alternatives != "" {
		if _, err := ledger.ParseAlternatives([]byte(s.Alternatives)); err != nil {
			return fmt.Errorf("experiment '%s': %w", s.Name, err)
		}
	}
	if s.Conversions != "" {
		if _, err := ledger.ParseConversionNames([]byte(s.Conversions)); err != nil {
			return fmt.Errorf("experiment '%s': %w", s.Name, err)
		}
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (l *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level: %s (must be 'debug', 'info', 'warn' or 'error')", l.Level)
	}
	return level, nil
}

// ApplyEnv overrides file settings from BINGO_REDIS_URL, BINGO_NAMESPACE and
// BINGO_LISTEN. Call before Validate.
func (c *BingoConfig) ApplyEnv() {
	if v := os.Getenv("BINGO_REDIS_URL"); v != "" {
		if c.Store == nil {
			c.Store = &StoreConfig{}
		}
		c.Store.RedisURL = v
	}
	if v := os.Getenv("BINGO_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("BINGO_LISTEN"); v != "" {
		c.Listen = v
	}
}

// Load reads bingo.yml from the specified path, applies environment
// overrides and validates the result
func Load(path string) (*BingoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BingoConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
