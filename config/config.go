// Package config loads executor and tool settings from a YAML file with
// environment overrides.
//
//	connection: sqlite3://file:app.db
//	log_level: INFO
//	default_timeout: 30s
//	isolation: read committed
//	migrations:
//	  dir: ./migrations
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/driver"
)

// Environment variables that override file values.
const (
	EnvConn          = "SQLBATCH_CONN"
	EnvLogLevel      = "SQLBATCH_LOG_LEVEL"
	EnvMigrationsDir = "SQLBATCH_MIGRATIONS_DIR"
	EnvDebug         = "SQLBATCH_DEBUG"
	EnvTimeout       = "SQLBATCH_TIMEOUT"
)

// Config holds everything needed to build an executor and run migrations.
type Config struct {
	Connection     string        `yaml:"connection"`
	LogLevel       string        `yaml:"log_level"`
	Debug          bool          `yaml:"debug"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	Isolation      string        `yaml:"isolation"`
	ReadOnly       bool          `yaml:"read_only"`

	// SlowStatement enables a warning for statements slower than the
	// threshold. Zero disables it.
	SlowStatement time.Duration `yaml:"slow_statement"`

	Migrations Migrations `yaml:"migrations"`
}

// Migrations configures the migration runner.
type Migrations struct {
	Dir      string `yaml:"dir"`
	Table    string `yaml:"table"`
	LockFile string `yaml:"lock_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "WARN",
		Isolation: "default",
		Migrations: Migrations{
			Dir:   "./migrations",
			Table: "schema_migrations",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file; a missing file is an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode reads YAML from r into c. Unknown keys are rejected; an empty
// document leaves c unchanged.
func (c *Config) Decode(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvConn); ok && v != "" {
		c.Connection = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvMigrationsDir); ok && v != "" {
		c.Migrations.Dir = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = debug
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

var logLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true}

// Validate checks value ranges. The connection string is not required here
// so commands that never connect can run without one.
func (c *Config) Validate() error {
	if !logLevels[strings.ToUpper(strings.TrimSpace(c.LogLevel))] {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if _, err := driver.ParseIsolationLevel(c.Isolation); err != nil {
		return fmt.Errorf("invalid isolation: %w", err)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must not be negative, got %s", c.DefaultTimeout)
	}
	if c.SlowStatement < 0 {
		return fmt.Errorf("slow_statement must not be negative, got %s", c.SlowStatement)
	}
	if strings.TrimSpace(c.Migrations.Table) == "" {
		return errors.New("migrations.table must not be empty")
	}
	if c.Connection != "" {
		if _, _, err := driver.SplitConnString(c.Connection); err != nil {
			return fmt.Errorf("invalid connection: %w", err)
		}
	}
	return nil
}

// ExecutorOptions builds executor options. A nil logger lets the executor
// create its default logger at the configured level.
func (c *Config) ExecutorOptions(logger batch.Logger) (*batch.Options, error) {
	level, err := driver.ParseIsolationLevel(c.Isolation)
	if err != nil {
		return nil, err
	}

	opts := batch.DefaultOptions()
	opts.Logger = logger
	opts.LogLevel = c.LogLevel
	opts.DebugMode = c.Debug
	opts.DefaultTimeout = c.DefaultTimeout
	opts.Isolation = level
	opts.ReadOnly = c.ReadOnly

	if c.SlowStatement > 0 {
		hookLogger := logger
		if hookLogger == nil {
			hookLogger = batch.NewLogger(c.LogLevel, nil)
		}
		opts.Hooks = append(opts.Hooks, batch.NewSlowStatementHook(hookLogger, c.SlowStatement))
	}
	return &opts, nil
}

// NewExecutor creates an executor for the configured connection.
func (c *Config) NewExecutor(logger batch.Logger) (*batch.Executor, error) {
	if c.Connection == "" {
		return nil, fmt.Errorf("no connection configured: set connection or %s", EnvConn)
	}
	opts, err := c.ExecutorOptions(logger)
	if err != nil {
		return nil, err
	}
	return batch.NewExecutor(c.Connection, opts), nil
}
