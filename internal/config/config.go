// Package config reads service settings from the environment. A .env file in
// the working directory, when present, fills in variables that are not set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrInvalid = errors.New("invalid configuration")

type HTTP struct {
	Host              string
	Port              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	LivenessEndpoint  string
}

type Storage struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	SeedDemo    bool
}

type Feed struct {
	RedisAddr    string
	RedisChannel string
}

type Payment struct {
	APIURL         string
	APIKey         string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string
	DepositPercent int
	Currency       string
	Timeout        time.Duration
}

type Config struct {
	HTTP           HTTP
	Storage        Storage
	Feed           Feed
	Payment        Payment
	AdminJWTSecret string
	PromoCodes     string
	SuggestHorizon int
	MaxStayNights  int
	LogLevel       string
}

// Load reads files (default ".env") with godotenv without overriding variables
// already present, then builds the Config from the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	return FromEnv()
}

func FromEnv() (Config, error) {
	var err error

	cfg := Config{
		HTTP: HTTP{
			Host:             getEnv("HTTP_HOST", "localhost"),
			Port:             getEnv("HTTP_PORT", "8092"),
			LivenessEndpoint: getEnv("LIVENESS_ENDPOINT", "/liveness"),
		},
		Storage: Storage{
			Driver:      getEnv("STORAGE_DRIVER", DriverMemory),
			SQLitePath:  getEnv("SQLITE_PATH", "innkeeper.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Feed: Feed{
			RedisAddr:    os.Getenv("REDIS_ADDR"),
			RedisChannel: getEnv("REDIS_CHANNEL", "innkeeper:changes"),
		},
		Payment: Payment{
			APIURL:        os.Getenv("PAYMENT_API_URL"),
			APIKey:        os.Getenv("PAYMENT_API_KEY"),
			WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
			SuccessURL:    getEnv("PAYMENT_SUCCESS_URL", "http://localhost:3000/booking/success"),
			CancelURL:     getEnv("PAYMENT_CANCEL_URL", "http://localhost:3000/booking/cancel"),
			Currency:      getEnv("CURRENCY", "usd"),
		},
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		PromoCodes:     os.Getenv("PROMO_CODES"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.HTTP.ReadHeaderTimeout, err = getDuration("HTTP_READ_HEADER_TIMEOUT", 20*time.Second); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.HTTP.ShutdownTimeout, err = getDuration("HTTP_SHUTDOWN_TIMEOUT", 4*time.Second); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.Payment.Timeout, err = getDuration("PAYMENT_TIMEOUT", 10*time.Second); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.Payment.DepositPercent, err = getInt("DEPOSIT_PERCENT", 30); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.SuggestHorizon, err = getInt("SUGGEST_HORIZON_DAYS", 30); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.MaxStayNights, err = getInt("MAX_STAY_NIGHTS", 365); err != nil { //nolint:gomnd
		return Config{}, err
	}

	if cfg.Storage.SeedDemo, err = getBool("SEED_DEMO", true); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q: %w", c.Storage.Driver, ErrInvalid)
	}

	if c.Payment.DepositPercent < 1 || c.Payment.DepositPercent > 100 {
		return fmt.Errorf("DEPOSIT_PERCENT must be within 1..100, got %d: %w", c.Payment.DepositPercent, ErrInvalid)
	}

	if c.SuggestHorizon < 0 {
		return fmt.Errorf("SUGGEST_HORIZON_DAYS must not be negative: %w", ErrInvalid)
	}

	if c.MaxStayNights < 1 {
		return fmt.Errorf("MAX_STAY_NIGHTS must be at least 1, got %d: %w", c.MaxStayNights, ErrInvalid)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, ErrInvalid)
	}

	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, ErrInvalid)
	}

	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, ErrInvalid)
	}

	return d, nil
}
