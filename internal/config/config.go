// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" envconfig:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling" envconfig:"LOG_SAMPLING"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" envconfig:"HTTP_PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"HTTP_REQUEST_TIMEOUT"`
	// BookingsPerMinute limits booking attempts per user; 0 disables the limit.
	BookingsPerMinute int `yaml:"bookings_per_minute" envconfig:"HTTP_BOOKINGS_PER_MINUTE"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"AUTH_JWT_SECRET"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns" envconfig:"DATABASE_MAX_CONNS"`
	Migrate  bool   `yaml:"migrate" envconfig:"DATABASE_MIGRATE"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" envconfig:"REDIS_URL"`
	Password string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" envconfig:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" envconfig:"REDIS_TTL"`
}

type BookingConfig struct {
	Timezone             string `yaml:"timezone" envconfig:"BOOKING_TIMEZONE"`
	MaxPromotionAttempts int    `yaml:"max_promotion_attempts" envconfig:"BOOKING_MAX_PROMOTION_ATTEMPTS"`
}

type LedgerConfig struct {
	MaxAttempts int `yaml:"max_attempts" envconfig:"LEDGER_MAX_ATTEMPTS"`
}

type PaymentConfig struct {
	BaseURL       string        `yaml:"base_url" envconfig:"PAYMENT_BASE_URL"`
	APIKey        string        `yaml:"api_key" envconfig:"PAYMENT_API_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" envconfig:"PAYMENT_WEBHOOK_SECRET"`
	SuccessURL    string        `yaml:"success_url" envconfig:"PAYMENT_SUCCESS_URL"`
	CancelURL     string        `yaml:"cancel_url" envconfig:"PAYMENT_CANCEL_URL"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"PAYMENT_TIMEOUT"`
}

type NotifyConfig struct {
	AMQPURL       string `yaml:"amqp_url" envconfig:"NOTIFY_AMQP_URL"`
	Exchange      string `yaml:"exchange" envconfig:"NOTIFY_EXCHANGE"`
	TelegramToken string `yaml:"telegram_token" envconfig:"NOTIFY_TELEGRAM_TOKEN"`
	Workers       int    `yaml:"workers" envconfig:"NOTIFY_WORKERS"`
}

type SchedulerConfig struct {
	ActivationInterval time.Duration `yaml:"activation_interval" envconfig:"SCHEDULER_ACTIVATION_INTERVAL"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Booking   BookingConfig   `yaml:"booking"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Payment   PaymentConfig   `yaml:"payment"`
	Notify    NotifyConfig    `yaml:"notify"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracing   TracingConfig   `yaml:"tracing"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// LoadConfig reads the YAML file at path (optional when missing), loads a
// .env file if present and then applies BOOKING_* environment overrides.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	_ = godotenv.Load()
	if err := envconfig.Process("booking", &cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Booking.Timezone == "" {
		cfg.Booking.Timezone = "UTC"
	}
	if cfg.Booking.MaxPromotionAttempts <= 0 {
		cfg.Booking.MaxPromotionAttempts = 5
	}
	if cfg.Ledger.MaxAttempts <= 0 {
		cfg.Ledger.MaxAttempts = 3
	}
	if cfg.Payment.Timeout <= 0 {
		cfg.Payment.Timeout = 15 * time.Second
	}
	if cfg.Notify.Exchange == "" {
		cfg.Notify.Exchange = "booking.events"
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Scheduler.ActivationInterval <= 0 {
		cfg.Scheduler.ActivationInterval = 10 * time.Minute
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "course-booking-engine"
	}
}

// Validate performs minimal checks. Dev mode runs on the in-memory store and
// needs neither a database nor redis.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Payment.BaseURL == "" {
		return errors.New("payment.base_url is required")
	}
	return nil
}

// Location returns the booking timezone; Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
