package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/piwi3910/tasklist/pkg/stores"
	"github.com/piwi3910/tasklist/pkg/telemetry"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "tasks.yaml"

// Environment variables that override file settings.
const (
	EnvDataDir  = "TASKS_DATA_DIR"
	EnvDBPath   = "TASKS_DB_PATH"
	EnvLogLevel = "LOG_LEVEL"
)

const dbFileName = "tasks.db"

var validate = validator.New()

// Config is the task list configuration file.
type Config struct {
	// DataDir holds the database unless Database.Path says otherwise.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Database contains store settings.
	Database DatabaseConfig `yaml:"database"`

	// Telemetry contains logging, tracing, metrics and events settings.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file. Empty means <data_dir>/tasks.db.
	Path string `yaml:"path,omitempty"`

	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the config file at path over the defaults, applies
// environment overrides (including a .env file) and validates the result.
//
// An empty path loads DefaultPath if it exists and falls back to the
// defaults otherwise. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No config file; defaults apply
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// A .env file in the working directory fills unset variables
	_ = godotenv.Load()
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is usually
// os.Getenv; empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Telemetry.Logging.Level = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// DatabasePath returns the resolved database file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, dbFileName)
}

// StoreConfig returns the store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:        c.DatabasePath(),
		BusyTimeout: c.Database.BusyTimeout,
	}
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
