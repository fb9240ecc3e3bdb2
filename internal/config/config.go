// Package config loads the server's runtime configuration from the
// environment. Every variable is prefixed with ESSENCE_, e.g. ESSENCE_PORT.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/snowflake"
)

const prefix = "ESSENCE"

type Config struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	DBPath string `envconfig:"DB_PATH" default:"data/essence.db"`

	// RedisAddr empty runs without a cache.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// NodeID goes into every snowflake this process generates. Two
	// processes sharing a node can hand out the same ID.
	NodeID int `envconfig:"NODE_ID" default:"0"`

	HasherSecret     string `envconfig:"HASHER_SECRET"`
	HasherMemoryKiB  int    `envconfig:"HASHER_MEMORY_KIB" default:"4096"`
	HasherIterations int    `envconfig:"HASHER_ITERATIONS" default:"64"`
	// HasherWorkers 0 means GOMAXPROCS.
	HasherWorkers int `envconfig:"HASHER_WORKERS" default:"0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would only fail later, deep inside startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.NodeID < 0 || c.NodeID > snowflake.MaxNode {
		errs = append(errs, fmt.Errorf("NODE_ID must be between 0 and %d, got %d", snowflake.MaxNode, c.NodeID))
	}
	if c.HasherMemoryKiB <= 0 {
		errs = append(errs, errors.New("HASHER_MEMORY_KIB must be positive"))
	}
	if c.HasherIterations <= 0 {
		errs = append(errs, errors.New("HASHER_ITERATIONS must be positive"))
	}
	if c.HasherWorkers < 0 {
		errs = append(errs, errors.New("HASHER_WORKERS must not be negative"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HasherConfig is the password hasher configuration.
func (c *Config) HasherConfig() auth.HasherConfig {
	return auth.HasherConfig{
		Secret:     []byte(c.HasherSecret),
		MemoryKiB:  uint32(c.HasherMemoryKiB),
		Iterations: uint32(c.HasherIterations),
		Workers:    c.HasherWorkers,
	}
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
