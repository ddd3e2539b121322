// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Fetch     FetchConfig
	Run       RunConfig
	Sink      SinkConfig
	History   HistoryConfig
	Schedule  ScheduleConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
	Transform TransformConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout is 0 by default so long downloads are not cut off
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout applies to JSON endpoints; downloads and exports are
	// bounded by RUN_TIMEOUT instead (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// CatalogConfig locates the topic catalog.
type CatalogConfig struct {
	// Dir is the catalog root holding one directory per topic (default: catalog)
	Dir string `env:"CATALOG_DIR" envDefault:"catalog"`

	// Watch reloads the catalog when files under Dir change (default: true)
	Watch bool `env:"CATALOG_WATCH" envDefault:"true"`
}

// FetchConfig holds source retrieval settings.
type FetchConfig struct {
	Timeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	MaxBytes      int64         `env:"FETCH_MAX_BYTES" envDefault:"268435456"`
	Retries       int           `env:"FETCH_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"FETCH_RETRY_INTERVAL" envDefault:"500ms"`
	UserAgent     string        `env:"FETCH_USER_AGENT" envDefault:"openpdi"`

	// Prefetch is how many sources are fetched ahead of the merge (default: 1)
	Prefetch int `env:"MERGE_PREFETCH" envDefault:"1"`

	// LinkParallel is the number of concurrent link checks (default: 8)
	LinkParallel int `env:"LINK_CHECK_PARALLEL" envDefault:"8"`
}

// RunConfig bounds harmonization runs.
type RunConfig struct {
	// MaxConcurrent is the number of runs allowed at once (default: 4)
	MaxConcurrent int `env:"RUN_MAX_CONCURRENT" envDefault:"4"`

	// MaxWait is how long a run waits for a slot (default: 30s)
	MaxWait time.Duration `env:"RUN_MAX_WAIT" envDefault:"30s"`

	// Timeout is the upper bound on one run; 0 disables (default: 30m)
	Timeout time.Duration `env:"RUN_TIMEOUT" envDefault:"30m"`
}

// SinkConfig holds export settings.
type SinkConfig struct {
	// DSN is the destination used when an export request names none
	DSN string `env:"SINK_DSN"`

	// Destinations are the named destinations an export request may pick,
	// as name=dsn pairs separated by semicolons
	Destinations map[string]string `env:"SINK_DESTINATIONS" envSeparator:";" envKeyValSeparator:"="`

	// ExportDir holds every csv and jsonl export; file DSNs are relative to
	// it (default: exports)
	ExportDir string `env:"SINK_EXPORT_DIR" envDefault:"exports"`

	// BatchSize is rows per database write (default: 500)
	BatchSize int `env:"SINK_BATCH_SIZE" envDefault:"500"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	// Path is the SQLite file; empty disables the history (default: openpdi.db)
	Path string `env:"HISTORY_PATH" envDefault:"openpdi.db"`

	// Retention is how long finished runs are kept; 0 keeps all (default: 720h)
	Retention time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`

	PurgeSchedule string `env:"HISTORY_PURGE_SCHEDULE" envDefault:"@daily"`
}

// ScheduleConfig locates the scheduled export definitions.
type ScheduleConfig struct {
	// File is a JSON array of jobs; empty disables scheduling
	File string `env:"SCHEDULE_FILE"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// RequireAPIKey guards exports and job triggers with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector; empty disables tracing
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"openpdi"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// TransformConfig holds transformation switches.
type TransformConfig struct {
	// EthnicityParity maps unrecognized ethnicity values to HISPANIC
	// instead of null (default: false)
	EthnicityParity bool `env:"TRANSFORM_ETHNICITY_PARITY" envDefault:"false"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
