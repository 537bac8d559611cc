package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Store backend: "postgres" (production) or "memory" (development)
	StoreBackend string
	DatabaseUrl  string

	// Rate limit presets
	InferenceLimit  int
	InferenceWindow time.Duration
	ReviewLimit     int
	ReviewWindow    time.Duration
	APILimit        int
	APIWindow       time.Duration

	// Affiliate commission rate (fraction of each referred payment)
	CommissionRate decimal.Decimal

	// Stripe Billing Configuration
	// Required when billing is enabled in production. In development the
	// webhook endpoint rejects everything if the secret is empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeProMonthlyPriceID       string
	StripeProYearlyPriceID        string
	StripeUnlimitedMonthlyPriceID string
	StripeUnlimitedYearlyPriceID  string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		StoreBackend: getEnv("STORE_BACKEND", "postgres"),

		// Rate limit defaults: expensive inference 10/min, review grants
		// 3/h (anti-farming), generic API 60/min.
		InferenceLimit:  getEnvInt("RATE_LIMIT_INFERENCE", 10),
		InferenceWindow: getEnvDuration("RATE_LIMIT_INFERENCE_WINDOW", time.Minute),
		ReviewLimit:     getEnvInt("RATE_LIMIT_REVIEW", 3),
		ReviewWindow:    getEnvDuration("RATE_LIMIT_REVIEW_WINDOW", time.Hour),
		APILimit:        getEnvInt("RATE_LIMIT_API", 60),
		APIWindow:       getEnvDuration("RATE_LIMIT_API_WINDOW", time.Minute),

		// Stripe billing
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeProMonthlyPriceID:       getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:        getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),
		StripeUnlimitedMonthlyPriceID: getEnv("STRIPE_UNLIMITED_MONTHLY_PRICE_ID", ""),
		StripeUnlimitedYearlyPriceID:  getEnv("STRIPE_UNLIMITED_YEARLY_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	rate, err := decimal.NewFromString(getEnv("COMMISSION_RATE", "0.5"))
	if err != nil {
		return nil, fmt.Errorf("COMMISSION_RATE must be a decimal fraction: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("COMMISSION_RATE must be between 0 and 1, got %s", rate)
	}
	cfg.CommissionRate = rate

	switch cfg.StoreBackend {
	case "postgres":
		cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is 'postgres'")
		}
	case "memory":
		// No configuration needed; state is process-local.
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be either 'postgres' or 'memory', got: %s", cfg.StoreBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
