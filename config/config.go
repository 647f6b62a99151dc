// Package config loads SDK configuration from the environment, with .env
// file support for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the SDK configuration.
type Config struct {
	// APIBaseURL is the backend origin, e.g. "https://api.seatwise.example".
	// Required.
	APIBaseURL string

	// DatabasePath is the SQLite file backing the persistent store. Empty
	// selects the in-memory store.
	DatabasePath string

	// EnableCacheBroadcast opens the push-invalidation transport.
	EnableCacheBroadcast bool

	// SyncDebounce is the quiet period before dirty preferences are pushed.
	SyncDebounce time.Duration

	// SyncBatchThreshold forces an immediate preference sync once this many
	// paths are pending.
	SyncBatchThreshold int

	// KeepaliveInterval pings the backend for active sessions. Zero
	// disables keepalive.
	KeepaliveInterval time.Duration

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration

	// ServiceName identifies this client in telemetry.
	ServiceName string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// TracingEnabled and MetricsEnabled switch on OpenTelemetry export.
	TracingEnabled bool
	MetricsEnabled bool

	// OTLPEndpoint receives traces when tracing is enabled. Empty falls
	// back to the standard OTEL_EXPORTER_OTLP_* environment variables.
	OTLPEndpoint string
}

// Default returns the configuration defaults. APIBaseURL stays empty and
// must be supplied.
func Default() Config {
	return Config{
		SyncDebounce:       2 * time.Second,
		SyncBatchThreshold: 10,
		ProbeInterval:      15 * time.Second,
		ServiceName:        "synckit",
		LogLevel:           "info",
	}
}

// FromEnv builds a Config from SYNCKIT_* environment variables, loading a
// .env file first when one exists.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := Default()
	cfg.APIBaseURL = envString("SYNCKIT_API_BASE_URL", cfg.APIBaseURL)
	cfg.DatabasePath = envString("SYNCKIT_DB_PATH", cfg.DatabasePath)
	cfg.ServiceName = envString("SYNCKIT_SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = envString("SYNCKIT_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = envString("SYNCKIT_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	var err error
	if cfg.EnableCacheBroadcast, err = envBool("SYNCKIT_ENABLE_CACHE_BROADCAST", cfg.EnableCacheBroadcast); err != nil {
		return Config{}, err
	}
	if cfg.TracingEnabled, err = envBool("SYNCKIT_TRACING_ENABLED", cfg.TracingEnabled); err != nil {
		return Config{}, err
	}
	if cfg.MetricsEnabled, err = envBool("SYNCKIT_METRICS_ENABLED", cfg.MetricsEnabled); err != nil {
		return Config{}, err
	}
	if cfg.SyncDebounce, err = envDuration("SYNCKIT_SYNC_DEBOUNCE", cfg.SyncDebounce); err != nil {
		return Config{}, err
	}
	if cfg.KeepaliveInterval, err = envDuration("SYNCKIT_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval); err != nil {
		return Config{}, err
	}
	if cfg.ProbeInterval, err = envDuration("SYNCKIT_PROBE_INTERVAL", cfg.ProbeInterval); err != nil {
		return Config{}, err
	}
	if cfg.SyncBatchThreshold, err = envInt("SYNCKIT_SYNC_BATCH_THRESHOLD", cfg.SyncBatchThreshold); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: SYNCKIT_API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid API base URL %q", c.APIBaseURL)
	}
	if c.SyncDebounce < 0 {
		return fmt.Errorf("config: sync debounce must not be negative")
	}
	if c.SyncBatchThreshold < 0 {
		return fmt.Errorf("config: sync batch threshold must not be negative")
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("config: probe interval must not be negative")
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
