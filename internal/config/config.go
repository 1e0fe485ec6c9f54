// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	// DatabaseURL enables the PostgreSQL rule store and catalog. When
	// empty the server runs on in-memory stores, which is only useful for
	// local development.
	DatabaseURL string `env:"DATABASE_URL"`

	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// PolicyConfigPath points at the JSON policy table config (programs,
	// mappings, hold rules).
	PolicyConfigPath string `env:"POLICY_CONFIG_PATH" envDefault:"policy.json"`

	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
