package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

// Load reads configuration from the process environment and validates it.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from environ instead of the process
// environment. Variables absent from environ take their defaults.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad calls Load and panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	if c.Catalog.Dir == "" {
		errs = append(errs, "CATALOG_DIR is required")
	}

	// Fetch
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, "FETCH_MAX_BYTES must be positive")
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, "FETCH_RETRIES must be non-negative")
	}
	if c.Fetch.Prefetch < 0 {
		errs = append(errs, "MERGE_PREFETCH must be non-negative")
	}
	if c.Fetch.LinkParallel <= 0 {
		errs = append(errs, "LINK_CHECK_PARALLEL must be positive")
	}

	// Runs
	if c.Run.MaxConcurrent <= 0 {
		errs = append(errs, "RUN_MAX_CONCURRENT must be positive")
	}
	if c.Run.MaxWait <= 0 {
		errs = append(errs, "RUN_MAX_WAIT must be positive")
	}
	if c.Run.Timeout < 0 {
		errs = append(errs, "RUN_TIMEOUT must be non-negative")
	}
	if c.Sink.BatchSize <= 0 {
		errs = append(errs, "SINK_BATCH_SIZE must be positive")
	}
	for name, dsn := range c.Sink.Destinations {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(dsn) == "" {
			errs = append(errs, "SINK_DESTINATIONS entries must be name=dsn")
			break
		}
	}

	// History
	if c.History.Retention < 0 {
		errs = append(errs, "HISTORY_RETENTION must be non-negative")
	}
	if c.History.Path != "" && c.History.Retention > 0 {
		if _, err := cron.ParseStandard(c.History.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("HISTORY_PURGE_SCHEDULE (%q) is not a valid schedule: %v", c.History.PurgeSchedule, err))
		}
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("OTEL_SAMPLE_RATIO (%g) must be between 0 and 1", c.Telemetry.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a string representation of the config with the sink DSNs
// masked. Named destinations are listed by name only.
func (c *Config) String() string {
	dsn := ""
	if c.Sink.DSN != "" {
		dsn = "[MASKED]"
	}
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Catalog: {Dir: %q, Watch: %v}, ", c.Catalog.Dir, c.Catalog.Watch))
	b.WriteString(fmt.Sprintf("Run: {MaxConcurrent: %d, Timeout: %s}, ", c.Run.MaxConcurrent, c.Run.Timeout))
	names := make([]string, 0, len(c.Sink.Destinations))
	for name := range c.Sink.Destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString(fmt.Sprintf("Sink: {DSN: %s, Destinations: %v, ExportDir: %q, BatchSize: %d}, ",
		dsn, names, c.Sink.ExportDir, c.Sink.BatchSize))
	b.WriteString(fmt.Sprintf("History: {Path: %q, Retention: %s}, ", c.History.Path, c.History.Retention))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
