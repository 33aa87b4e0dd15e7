package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "evcharge/backend/libs/config"
)

// Config defines billing service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"BILLING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"BILLING_POSTGRES_DSN"`
	} `yaml:"database"`
	Internal struct {
		Token string `yaml:"token" env:"BILLING_INTERNAL_TOKEN"`
	} `yaml:"internal"`
	Pricing struct {
		DefaultPrice float64 `yaml:"defaultPrice" env:"BILLING_DEFAULT_PRICE"`
		Currency     string  `yaml:"currency" env:"BILLING_CURRENCY"`
		Timezone     string  `yaml:"timezone" env:"BILLING_TIMEZONE"`
	} `yaml:"pricing"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8084"
	cfg.Pricing.Currency = "EUR"
	cfg.Pricing.Timezone = "UTC"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if cfg.Pricing.DefaultPrice < 0 {
		return nil, errors.New("config: default price must not be negative")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8084"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Location returns the zone pricing windows are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Pricing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}
