// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/alerts"
	"github.com/sudo-init-do/tradiehub/internal/db"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/payments"
)

type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type PoliConfig struct {
	BaseURL            string        `env:"BASE_URL" envDefault:"https://poliapi.apac.paywithpoli.com"`
	MerchantCode       string        `env:"MERCHANT_CODE"`
	AuthenticationCode string        `env:"AUTH_CODE"`
	HomepageURL        string        `env:"HOMEPAGE_URL"`
	SuccessURL         string        `env:"SUCCESS_URL"`
	FailureURL         string        `env:"FAILURE_URL"`
	CancellationURL    string        `env:"CANCELLATION_URL"`
	NotificationURL    string        `env:"NOTIFICATION_URL"`
	Timeout            time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret string `env:"JWT_SECRET"`

	DB db.Config `envPrefix:"DB_"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// MailTransport is queue, smtp or log.
	MailTransport string `env:"MAIL_TRANSPORT" envDefault:"queue"`
	Mail          alerts.MailConfig

	Stripe          StripeConfig `envPrefix:"STRIPE_"`
	Poli            PoliConfig   `envPrefix:"POLI_"`
	DefaultProvider string       `env:"DEFAULT_PAYMENT_PROVIDER" envDefault:"stripe"`
	DefaultCurrency string       `env:"DEFAULT_CURRENCY" envDefault:"NZD"`

	PlatformFeeRate    decimal.Decimal `env:"PLATFORM_FEE_RATE" envDefault:"0.10"`
	AffiliateFeeRate   decimal.Decimal `env:"AFFILIATE_FEE_RATE" envDefault:"0.02"`
	TaxWithholdingRate decimal.Decimal `env:"TAX_WITHHOLDING_RATE" envDefault:"0.05"`
	ProtectionPeriod   time.Duration   `env:"PROTECTION_PERIOD" envDefault:"360h"`
	FeeSchedulePath    string          `env:"FEE_SCHEDULE_PATH"`

	SweepInterval      string        `env:"SWEEP_INTERVAL" envDefault:"@every 15m"`
	ExpiryNoticeWindow time.Duration `env:"EXPIRY_NOTICE_WINDOW" envDefault:"48h"`
	WithdrawalEstimate string        `env:"WITHDRAWAL_ESTIMATE" envDefault:"1-3 business days"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	return cfg, nil
}

// Schedule builds the fee schedule from the environment and overlays the
// YAML file at FeeSchedulePath when one is set.
func (c Config) Schedule() (fees.Schedule, error) {
	s := fees.Schedule{
		PlatformFeeRate:    c.PlatformFeeRate,
		AffiliateFeeRate:   c.AffiliateFeeRate,
		TaxWithholdingRate: c.TaxWithholdingRate,
		ProtectionPeriod:   c.ProtectionPeriod,
	}
	if c.FeeSchedulePath != "" {
		return fees.LoadScheduleFile(c.FeeSchedulePath, s)
	}
	if err := s.Validate(); err != nil {
		return fees.Schedule{}, fmt.Errorf("fee schedule: %w", err)
	}
	return s, nil
}

// RequireAPI checks the settings only the HTTP server needs.
func (c Config) RequireAPI() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Stripe.SecretKey == "" && c.Poli.MerchantCode == "" {
		return errors.New("no payment provider configured: set STRIPE_SECRET_KEY or POLI_MERCHANT_CODE")
	}
	return nil
}

// Providers returns the payment providers that have credentials.
func (c Config) Providers() []payments.Provider {
	var out []payments.Provider
	if c.Stripe.SecretKey != "" {
		out = append(out, payments.NewStripe(payments.StripeConfig{
			SecretKey:     c.Stripe.SecretKey,
			WebhookSecret: c.Stripe.WebhookSecret,
		}))
	}
	if c.Poli.MerchantCode != "" {
		out = append(out, payments.NewPoli(payments.PoliConfig{
			BaseURL:            c.Poli.BaseURL,
			MerchantCode:       c.Poli.MerchantCode,
			AuthenticationCode: c.Poli.AuthenticationCode,
			HomepageURL:        c.Poli.HomepageURL,
			SuccessURL:         c.Poli.SuccessURL,
			FailureURL:         c.Poli.FailureURL,
			CancellationURL:    c.Poli.CancellationURL,
			NotificationURL:    c.Poli.NotificationURL,
			Timeout:            c.Poli.Timeout,
		}))
	}
	return out
}

// Logger builds the JSON logger each binary installs as the default.
func (c Config) Logger(service string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service, "env", c.Env)
}
