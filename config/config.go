// Package config loads budgetd settings from defaults, an optional TOML
// file, a .env file and the environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// ConfigPathEnv names the TOML file when --config is not given.
	ConfigPathEnv = "BUDGETD_CONFIG"
	// EnvFileEnv names an alternative to ./.env.
	EnvFileEnv = "ENV_FILE"
)

// Config holds all budgetd configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Engine   EngineConfig   `toml:"engine"`
	AMQP     AMQPConfig     `toml:"amqp"`
	Log      LogConfig      `toml:"log"`

	// values from the environment that did not parse, reported by Validate
	envErrors []string
}

type ServerConfig struct {
	Port                 string `toml:"port"`
	RefreshRatePerMinute int    `toml:"refresh_rate_per_minute"`
}

type DatabaseConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
	URL        string `toml:"url,omitempty"`
	MaxConns   int    `toml:"max_conns"`
}

type EngineConfig struct {
	MaxCycles            int  `toml:"max_cycles"`
	OwnerConcurrency     int  `toml:"owner_concurrency"`
	RefreshTimeoutSecs   int  `toml:"refresh_timeout_seconds"`
	DefaultRefreshDay    int  `toml:"default_refresh_day"`
	AllowDeficitRollover bool `toml:"allow_deficit_rollover"`
	// MaxDeficitRollover caps how far below zero a carried balance may go.
	// Empty means uncapped.
	MaxDeficitRollover string `toml:"max_deficit_rollover,omitempty"`
}

// AMQPConfig is optional: an empty URL disables event publishing.
type AMQPConfig struct {
	URL        string `toml:"url,omitempty"`
	Exchange   string `toml:"exchange"`
	RoutingKey string `toml:"routing_key"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:                 "8080",
			RefreshRatePerMinute: 60,
		},
		Database: DatabaseConfig{
			Driver:     DriverSQLite,
			SQLitePath: "./data/budgets.db",
			MaxConns:   10,
		},
		Engine: EngineConfig{
			MaxCycles:            budget.DefaultMaxCycles,
			OwnerConcurrency:     budget.DefaultOwnerConcurrency,
			RefreshTimeoutSecs:   int(budget.DefaultRefreshTimeout / time.Second),
			DefaultRefreshDay:    int(budget.DefaultRefreshDay),
			AllowDeficitRollover: true,
		},
		AMQP: AMQPConfig{
			Exchange:   "budgets",
			RoutingKey: "budget.cycle_opened",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// BUDGETD_CONFIG is consulted; with neither set no file is read.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := loadEnvFile(); err != nil {
		return cfg, err
	}
	applyEnv(&cfg, os.LookupEnv)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// loadEnvFile reads ENV_FILE or ./.env into the process environment without
// overriding variables that are already set.
func loadEnvFile() error {
	if envFile := os.Getenv(EnvFileEnv); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) {
	env := envReader{lookup: lookup}

	env.stringVar("PORT", &cfg.Server.Port)
	env.intVar("REFRESH_RATE_PER_MINUTE", &cfg.Server.RefreshRatePerMinute)

	env.stringVar("DB_DRIVER", &cfg.Database.Driver)
	env.stringVar("SQLITE_PATH", &cfg.Database.SQLitePath)
	env.stringVar("DATABASE_URL", &cfg.Database.URL)
	env.intVar("DB_MAX_CONNS", &cfg.Database.MaxConns)

	env.intVar("MAX_CYCLES", &cfg.Engine.MaxCycles)
	env.intVar("OWNER_CONCURRENCY", &cfg.Engine.OwnerConcurrency)
	env.intVar("REFRESH_TIMEOUT_SECONDS", &cfg.Engine.RefreshTimeoutSecs)
	env.intVar("DEFAULT_REFRESH_DAY", &cfg.Engine.DefaultRefreshDay)
	env.boolVar("ALLOW_DEFICIT_ROLLOVER", &cfg.Engine.AllowDeficitRollover)
	env.stringVar("MAX_DEFICIT_ROLLOVER", &cfg.Engine.MaxDeficitRollover)

	env.stringVar("AMQP_URL", &cfg.AMQP.URL)
	env.stringVar("AMQP_EXCHANGE", &cfg.AMQP.Exchange)
	env.stringVar("AMQP_ROUTING_KEY", &cfg.AMQP.RoutingKey)

	env.stringVar("LOG_LEVEL", &cfg.Log.Level)
	env.stringVar("LOG_FORMAT", &cfg.Log.Format)

	cfg.envErrors = append(cfg.envErrors, env.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []string
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) stringVar(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) intVar(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s '%s': must be a number", key, v))
		return
	}
	*dst = i
}

func (r *envReader) boolVar(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s '%s': must be true or false", key, v))
		return
	}
	*dst = b
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	errs := append([]string(nil), c.envErrors...)

	if port, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Server.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}
	if c.Server.RefreshRatePerMinute < 0 {
		errs = append(errs, fmt.Sprintf("invalid refresh rate %d: must not be negative", c.Server.RefreshRatePerMinute))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when using postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid database driver '%s': must be one of [%s %s]", c.Database.Driver, DriverSQLite, DriverPostgres))
	}

	if c.Engine.MaxCycles < 1 {
		errs = append(errs, fmt.Sprintf("invalid max cycles %d: must be at least 1", c.Engine.MaxCycles))
	}
	if c.Engine.OwnerConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("invalid owner concurrency %d: must be at least 1", c.Engine.OwnerConcurrency))
	}
	if c.Engine.RefreshTimeoutSecs < 1 {
		errs = append(errs, fmt.Sprintf("invalid refresh timeout %ds: must be at least 1", c.Engine.RefreshTimeoutSecs))
	}
	if _, err := budget.ParseRefreshDay(c.Engine.DefaultRefreshDay); err != nil {
		errs = append(errs, fmt.Sprintf("invalid default refresh day %d: must be one of %v", c.Engine.DefaultRefreshDay, budget.RefreshDays()))
	}
	if c.Engine.MaxDeficitRollover != "" {
		if d, err := decimal.NewFromString(c.Engine.MaxDeficitRollover); err != nil {
			errs = append(errs, fmt.Sprintf("invalid max deficit rollover '%s': must be a decimal", c.Engine.MaxDeficitRollover))
		} else if d.IsNegative() {
			errs = append(errs, fmt.Sprintf("invalid max deficit rollover %s: must not be negative", d))
		}
	}

	if c.AMQP.URL != "" {
		if parsed, err := url.Parse(c.AMQP.URL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQP.URL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQP.Exchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQP.RoutingKey == "" {
			errs = append(errs, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// InstantiatorConfig converts the engine section. Call after Validate.
func (c *Config) InstantiatorConfig() budget.InstantiatorConfig {
	policy := budget.RolloverPolicy{AllowDeficit: c.Engine.AllowDeficitRollover}
	if c.Engine.MaxDeficitRollover != "" {
		if d, err := decimal.NewFromString(c.Engine.MaxDeficitRollover); err == nil {
			policy.MaxDeficit = &d
		}
	}
	return budget.InstantiatorConfig{
		MaxCycles:         c.Engine.MaxCycles,
		OwnerConcurrency:  c.Engine.OwnerConcurrency,
		DefaultRefreshDay: budget.RefreshDay(c.Engine.DefaultRefreshDay),
		RefreshTimeout:    time.Duration(c.Engine.RefreshTimeoutSecs) * time.Second,
		Policy:            policy,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.Format = strings.ToLower(c.Log.Format)
	return lc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}
