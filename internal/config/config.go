// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Ingest modes. Direct mode enriches and appends clicks in-process; stream
// mode publishes hits to Redis and lets the analytics worker persist them.
const (
	IngestModeDirect = "direct"
	IngestModeStream = "stream"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Base URL for short links (e.g., https://clk.example)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Click ingestion
	IngestMode             string        `env:"INGEST_MODE" envDefault:"direct"`
	TrackBudget            time.Duration `env:"TRACK_BUDGET" envDefault:"5s"`
	AnalyticsWorkerEnabled bool          `env:"ANALYTICS_WORKER_ENABLED" envDefault:"true"`

	// Stream worker tuning (INGEST_MODE=stream)
	WorkerBatchSize     int           `env:"ANALYTICS_WORKER_BATCH_SIZE" envDefault:"100"`
	WorkerConcurrency   int           `env:"ANALYTICS_WORKER_CONCURRENCY" envDefault:"8"`
	WorkerClaimInterval time.Duration `env:"ANALYTICS_WORKER_CLAIM_INTERVAL" envDefault:"10s"`
	WorkerClaimIdle     time.Duration `env:"ANALYTICS_WORKER_CLAIM_IDLE" envDefault:"30s"`

	// Geolocation
	GeoProviders        []string      `env:"GEO_PROVIDERS" envSeparator:"," envDefault:"ipapi.co,ip-api.com,ipinfo.io"`
	GeoProviderTimeout  time.Duration `env:"GEO_PROVIDER_TIMEOUT" envDefault:"2s"`
	GeoTotalBudget      time.Duration `env:"GEO_TOTAL_BUDGET" envDefault:"3s"`
	GeoCacheSize        int           `env:"GEO_CACHE_SIZE" envDefault:"10000"`
	GeoBreakerFailures  uint32        `env:"GEO_BREAKER_FAILURES" envDefault:"5"`
	GeoBreakerCooldown  time.Duration `env:"GEO_BREAKER_COOLDOWN" envDefault:"1m"`
	GeoIPInfoToken      string        `env:"GEO_IPINFO_TOKEN"`
	GeoIPAPIComRPM      int           `env:"GEO_IPAPI_COM_RPM" envDefault:"45"`

	// Sessions and reporting time
	SessionBucketWidth time.Duration `env:"SESSION_BUCKET_WIDTH" envDefault:"30m"`
	TemporalLocation   string        `env:"TEMPORAL_LOCATION" envDefault:"UTC"`

	// Aggregation
	AggregationEnabled  bool          `env:"AGGREGATION_ENABLED" envDefault:"true"`
	AggregationSchedule string        `env:"AGGREGATION_SCHEDULE" envDefault:"@every 5m"`
	AggregationTimeout  time.Duration `env:"AGGREGATION_TIMEOUT" envDefault:"10m"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesPostgres reports whether clicks, links and rollups live in Postgres.
func (c *Config) UsesPostgres() bool {
	return c.StoreDriver == StoreDriverPostgres
}

// UsesRedis reports whether a Redis connection is opened. Stream ingestion
// requires it; with the postgres store a configured REDIS_URL also enables
// the link cache and the click dead-letter stream.
func (c *Config) UsesRedis() bool {
	return c.IngestMode == IngestModeStream || (c.UsesPostgres() && c.RedisURL != "")
}

// Location resolves TemporalLocation.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TemporalLocation)
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}

	switch c.IngestMode {
	case IngestModeDirect, IngestModeStream:
	default:
		errs = append(errs, fmt.Errorf("INGEST_MODE must be %q or %q, got %q", IngestModeDirect, IngestModeStream, c.IngestMode))
	}

	if c.UsesPostgres() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
	}
	if c.IngestMode == IngestModeStream && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when INGEST_MODE=stream"))
	}
	if c.IngestMode == IngestModeStream && c.StoreDriver == StoreDriverMemory {
		errs = append(errs, errors.New("INGEST_MODE=stream requires STORE_DRIVER=postgres"))
	}

	if len(c.GeoProviders) == 0 {
		errs = append(errs, errors.New("GEO_PROVIDERS must name at least one provider"))
	}
	if c.GeoCacheSize <= 0 {
		errs = append(errs, errors.New("GEO_CACHE_SIZE must be positive"))
	}
	if c.SessionBucketWidth <= 0 {
		errs = append(errs, errors.New("SESSION_BUCKET_WIDTH must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TEMPORAL_LOCATION: %w", err))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.IngestMode = strings.ToLower(strings.TrimSpace(cfg.IngestMode))
	providers := cfg.GeoProviders[:0]
	for _, p := range cfg.GeoProviders {
		if p = strings.TrimSpace(p); p != "" {
			providers = append(providers, p)
		}
	}
	cfg.GeoProviders = providers

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
