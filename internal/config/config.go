// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the element service.
type Config struct {
	HTTP     HTTPConfig
	DB       DBConfig
	Log      LogConfig
	Platform PlatformConfig
	Cookie   CookieConfig
	Worker   WorkerConfig
	Seed     SeedConfig
	OTel     OTelConfig
}

// HTTPConfig holds HTTP server configuration. ExchangeRPS/ExchangeBurst
// cap the instance-wide rate of the token exchange and refresh routes,
// each of which costs an upstream OAuth round-trip.
type HTTPConfig struct {
	Port          int
	ExchangeRPS   int
	ExchangeBurst int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "element.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// PlatformConfig holds the credentials and endpoint for the platform OAuth
// collaborators. All three fields are required: the token-exchange trust
// chain cannot operate without them, so their absence fails Load().
type PlatformConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string //nolint:gosec // intentional: holds the element secret loaded from env
	HTTPTimeout   time.Duration
	RetryMax      int
	RetryBackoff  time.Duration
	ExchangeScope string // default scope applied when the exchange response omits one
}

// CookieConfig controls the optional httpOnly session-token cookie. This is
// a testing convenience path, not part of the trust chain.
type CookieConfig struct {
	MaxAge   time.Duration
	SameSite string // "lax" (default), "strict" or "none"
	Secure   bool
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// SeedConfig holds optional development bootstrap settings.
type SeedConfig struct {
	OrgMantleID string
	OrgName     string
	UserEmail   string
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	cfg.HTTP.ExchangeRPS = envInt("EXCHANGE_RATE_RPS", 5)
	cfg.HTTP.ExchangeBurst = envInt("EXCHANGE_RATE_BURST", 10)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "element.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// Platform (required)
	cfg.Platform.BaseURL = os.Getenv("PLATFORM_BASE_URL")
	if cfg.Platform.BaseURL == "" {
		return nil, errors.New("PLATFORM_BASE_URL is required")
	}
	cfg.Platform.ClientID = os.Getenv("ELEMENT_CLIENT_ID")
	if cfg.Platform.ClientID == "" {
		return nil, errors.New("ELEMENT_CLIENT_ID is required")
	}
	cfg.Platform.ClientSecret = os.Getenv("ELEMENT_CLIENT_SECRET")
	if cfg.Platform.ClientSecret == "" {
		return nil, errors.New("ELEMENT_CLIENT_SECRET is required")
	}
	var err error
	cfg.Platform.HTTPTimeout, err = envDuration("PLATFORM_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_HTTP_TIMEOUT: %w", err)
	}
	cfg.Platform.RetryMax = envInt("PLATFORM_RETRY_MAX", 3)
	cfg.Platform.RetryBackoff, err = envDuration("PLATFORM_RETRY_BACKOFF", 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_RETRY_BACKOFF: %w", err)
	}
	cfg.Platform.ExchangeScope = envStr("PLATFORM_EXCHANGE_SCOPE", "read:apps,read:customers,write:customers")

	// Cookie
	cfg.Cookie.MaxAge, err = envDuration("SESSION_COOKIE_MAX_AGE", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SESSION_COOKIE_MAX_AGE: %w", err)
	}
	cfg.Cookie.SameSite = envStr("SESSION_COOKIE_SAME_SITE", "lax")
	cfg.Cookie.Secure = envBool("SESSION_COOKIE_SECURE", true)

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// Seed (optional)
	cfg.Seed.OrgMantleID = os.Getenv("SEED_ORG_MANTLE_ID")
	cfg.Seed.OrgName = envStr("SEED_ORG_NAME", "Development Organization")
	cfg.Seed.UserEmail = os.Getenv("SEED_USER_EMAIL")

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
