// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Supported engines.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds settings shared by the subxact commands. Command-line flags
// override these values.
type Config struct {
	Driver       string `env:"SUBXACT_DRIVER" envDefault:"sqlite"`
	Database     string `env:"SUBXACT_DB" envDefault:"subxact.db"`
	PostgresURL  string `env:"SUBXACT_POSTGRES_URL"`
	LogLevel     string `env:"SUBXACT_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"SUBXACT_LOG_FORMAT" envDefault:"text"`
	OTelEndpoint string `env:"SUBXACT_OTEL_ENDPOINT"`
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings are usable together.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.Database, validation.When(c.Driver == DriverSQLite, validation.Required)),
		validation.Field(&c.PostgresURL, validation.When(c.Driver == DriverPostgres,
			validation.Required.Error("is required for the postgres driver"))),
		validation.Field(&c.LogLevel, validation.By(func(any) error {
			_, err := ParseLevel(c.LogLevel)
			return err
		})),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
