// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Backend endpoints
	APIBaseURL string // REST base URL, e.g. https://api.example.com
	WSURL      string // Push channel URL, e.g. wss://api.example.com/ws

	// Sync behaviour
	PollInterval   time.Duration // Fixed poll cadence, independent of channel health
	RequestTimeout time.Duration // Per-request client timeout

	// Channel reconnect policy
	ReconnectBase    time.Duration // Backoff base delay
	ReconnectCap     time.Duration // Backoff ceiling per attempt
	ReconnectCeiling int           // Attempts before the channel is declared down

	// Local surfaces
	MetricsAddr string // Address for /metrics and /healthz (empty disables)
	SessionFile string // Durable session storage path (empty = default)

	// Observability
	Env          string // "development", "staging", "production"
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string // OTLP gRPC endpoint for traces (empty disables)
}

const (
	DefaultPollInterval   = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultReconnectBase  = time.Second
	DefaultReconnectCap   = 30 * time.Second
	DefaultReconnectMax   = 10
	DefaultMetricsAddr    = "127.0.0.1:9190"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:       os.Getenv("API_BASE_URL"), // Required, no default
		WSURL:            os.Getenv("WS_URL"),       // Required, no default
		PollInterval:     getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		ReconnectBase:    getEnvDuration("RECONNECT_BASE", DefaultReconnectBase),
		ReconnectCap:     getEnvDuration("RECONNECT_CAP", DefaultReconnectCap),
		ReconnectCeiling: int(getEnvInt64("RECONNECT_CEILING", DefaultReconnectMax)),
		MetricsAddr:      getEnv("METRICS_ADDR", DefaultMetricsAddr),
		SessionFile:      os.Getenv("SESSION_FILE"),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}

	if c.WSURL == "" {
		return fmt.Errorf("WS_URL is required")
	}
	u, err := url.Parse(c.WSURL)
	if err != nil {
		return fmt.Errorf("WS_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("WS_URL must use ws:// or wss:// scheme, got %q", u.Scheme)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase {
		return fmt.Errorf("reconnect backoff misconfigured: base=%v cap=%v", c.ReconnectBase, c.ReconnectCap)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
