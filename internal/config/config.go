// Package config loads the worker configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/limbopet/worldcore/pkg/logger"
)

// Duration wraps time.Duration so YAML values like "15s" decode cleanly.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the world tick worker.
type Config struct {
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Worker   WorkerConfig         `yaml:"worker"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

// DatabaseConfig describes the shared Postgres store.
type DatabaseConfig struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig describes the optional advisory balance cache.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// WorkerConfig controls the tick polling loop.
//
// World names the logical world this worker drives; every replica of the same
// world must be configured with the same value, because the advisory mutex key
// is derived from it. Distinct world names own distinct mutexes on purpose.
type WorkerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	World          string   `yaml:"world"`
	PollInterval   Duration `yaml:"poll_interval"`
	PinToSystemDay bool     `yaml:"pin_to_system_day"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/worldcore?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Worker: WorkerConfig{
			Enabled:        true,
			World:          "default",
			PollInterval:   Duration(15 * time.Second),
			PinToSystemDay: true,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads config.yaml from the working directory, falling back to defaults
// when the file does not exist. Environment overrides always apply.
func Load() (*Config, error) {
	return LoadFromPath("config.yaml")
}

// LoadFromPath reads the configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Worker.PollInterval <= 0 {
		return nil, fmt.Errorf("worker poll_interval must be positive")
	}
	if cfg.Worker.World == "" {
		return nil, fmt.Errorf("worker world is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("WORLD_NAME"); v != "" {
		cfg.Worker.World = v
	}
	if v := os.Getenv("WORLD_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("WORLD_PIN_TO_SYSTEM_DAY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.PinToSystemDay = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
