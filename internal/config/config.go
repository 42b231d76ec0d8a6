// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is everything cmd/worldsim reads from the environment.
type Config struct {
	DBPath     string `env:"WORLDSIM_DB_PATH" envDefault:"data/worldorder.db"`
	Port       int    `env:"WORLDSIM_PORT" envDefault:"8080"`
	AdminKey   string `env:"WORLDSIM_ADMIN_KEY"`
	ArchiveDir string `env:"WORLDSIM_ARCHIVE_DIR"` // empty disables the event archive
	Scenario   string `env:"WORLDSIM_SCENARIO"`    // created and started at boot when set
	LogLevel   string `env:"WORLDSIM_LOG_LEVEL" envDefault:"info"`

	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
	Model        string `env:"WORLDSIM_MODEL" envDefault:"claude-haiku-4-5-20251001"`
	LLMRate      int    `env:"WORLDSIM_LLM_RATE" envDefault:"20"`

	TickInterval        time.Duration `env:"WORLDSIM_TICK_INTERVAL" envDefault:"30s"`
	MaxYears            int           `env:"WORLDSIM_MAX_YEARS" envDefault:"1000"`
	ConcurrentDecisions bool          `env:"WORLDSIM_CONCURRENT_DECISIONS" envDefault:"false"`
	MaxStreamClients    int           `env:"WORLDSIM_MAX_STREAM_CLIENTS" envDefault:"64"`

	Seed         int64  `env:"WORLDSIM_SEED"`
	RandomOrgKey string `env:"RANDOM_ORG_API_KEY"`

	OTelEndpoint string `env:"WORLDSIM_OTEL_ENDPOINT"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("WORLDSIM_PORT %d out of range", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("WORLDSIM_TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.MaxYears <= 0 {
		return fmt.Errorf("WORLDSIM_MAX_YEARS must be positive, got %d", c.MaxYears)
	}
	if c.LLMRate <= 0 {
		return fmt.Errorf("WORLDSIM_LLM_RATE must be positive, got %d", c.LLMRate)
	}
	return nil
}

// Level maps LogLevel onto a slog level, defaulting to Info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
