package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "evcharge/backend/libs/config"
)

// Config defines booking service configuration.
type Config struct {
	HTTP struct {
		Port            string        `yaml:"port" env:"BOOKING_HTTP_PORT"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"BOOKING_HTTP_SHUTDOWN_TIMEOUT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"BOOKING_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"BOOKING_REDIS_ADDR"`
		Password string `yaml:"password" env:"BOOKING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"BOOKING_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"BOOKING_REDIS_TTL"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret" env:"BOOKING_JWT_SECRET"`
	} `yaml:"jwt"`
	Kafka struct {
		Enabled bool     `yaml:"enabled" env:"BOOKING_KAFKA_ENABLED"`
		Brokers []string `yaml:"brokers" env:"BOOKING_KAFKA_BROKERS"`
		Topic   string   `yaml:"topic" env:"BOOKING_KAFKA_TOPIC"`
	} `yaml:"kafka"`
	Billing struct {
		URL     string        `yaml:"url" env:"BOOKING_BILLING_URL"`
		Token   string        `yaml:"token" env:"BOOKING_BILLING_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"BOOKING_BILLING_TIMEOUT"`
	} `yaml:"billing"`
	Booking struct {
		NoShowGrace     time.Duration `yaml:"noShowGrace" env:"BOOKING_NO_SHOW_GRACE"`
		SweepInterval   time.Duration `yaml:"sweepInterval" env:"BOOKING_SWEEP_INTERVAL"`
		EarlyCheckIn    time.Duration `yaml:"earlyCheckIn" env:"BOOKING_EARLY_CHECKIN"`
		DefaultDuration time.Duration `yaml:"defaultDuration" env:"BOOKING_DEFAULT_DURATION"`
		TaxRate         float64       `yaml:"taxRate" env:"BOOKING_TAX_RATE"`
		Currency        string        `yaml:"currency" env:"BOOKING_CURRENCY"`
	} `yaml:"booking"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8082"
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Redis.TTL = 86400
	cfg.Kafka.Topic = "booking-events"
	cfg.Billing.URL = "http://localhost:8084"
	cfg.Billing.Timeout = 5 * time.Second
	cfg.Booking.NoShowGrace = 15 * time.Minute
	cfg.Booking.SweepInterval = time.Minute
	cfg.Booking.EarlyCheckIn = 15 * time.Minute
	cfg.Booking.DefaultDuration = time.Hour
	cfg.Booking.TaxRate = 0.20
	cfg.Booking.Currency = "EUR"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka brokers required when kafka is enabled")
	}
	if c.Booking.TaxRate < 0 || c.Booking.TaxRate > 1 {
		return fmt.Errorf("config: tax rate %v outside 0..1", c.Booking.TaxRate)
	}
	if c.Booking.NoShowGrace < 0 || c.Booking.EarlyCheckIn < 0 {
		return errors.New("config: booking windows must not be negative")
	}
	if c.Booking.SweepInterval <= 0 {
		return errors.New("config: sweep interval must be positive")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8082"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ProgressTTL returns how long cached progress outlives its last sample.
func (c *Config) ProgressTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// RedisEnabled reports whether a progress cache is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}
