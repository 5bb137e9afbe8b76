package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	WebhookSecret    string
	WebhookTolerance time.Duration

	// RedisAddr is optional; empty disables the processed-event cache.
	RedisAddr     string
	RedisPassword string

	EventRetention  time.Duration
	DispatchTimeout time.Duration

	SupportedCurrencies []string
	AllowedOrigins      []string
}

// IsProduction selects production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET environment variable is required")
	}

	tolerance, err := durationEnv("WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	retention, err := durationEnv("EVENT_RETENTION", 720*time.Hour)
	if err != nil {
		return nil, err
	}
	dispatchTimeout, err := durationEnv("DISPATCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	currencies := listEnv("SUPPORTED_CURRENCIES", "usd,eur")
	if len(currencies) == 0 {
		return nil, fmt.Errorf("SUPPORTED_CURRENCIES must name at least one currency")
	}

	return &Config{
		DBSource:            dbSource,
		Port:                stringEnv("SERVER_PORT", "8080"),
		Env:                 stringEnv("ENVIRONMENT", "development"),
		WebhookSecret:       secret,
		WebhookTolerance:    tolerance,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		EventRetention:      retention,
		DispatchTimeout:     dispatchTimeout,
		SupportedCurrencies: currencies,
		AllowedOrigins:      listEnv("CORS_ALLOWED_ORIGINS", "*"),
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func listEnv(key, def string) []string {
	var out []string
	for _, part := range strings.Split(stringEnv(key, def), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
