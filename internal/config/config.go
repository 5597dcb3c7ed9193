// Package config loads process configuration from environment variables,
// applies defaults, normalizes values and validates the result. It covers
// the HTTP server, logging, the upstream feed, reconciliation cadences,
// persistence backends and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// FeedConfig points at the upstream service that serves decoded records.
type FeedConfig struct {
	BaseURL string  // FEED_BASE_URL
	Token   string  // FEED_TOKEN
	RPS     float64 // FEED_RPS, 0 disables client-side throttling
}

// SyncConfig drives the reconciliation loop.
type SyncConfig struct {
	Groups         []string      // GROUPS, comma separated
	FastInterval   time.Duration // FAST_INTERVAL
	SlowInterval   time.Duration // SLOW_INTERVAL
	FetchTimeout   time.Duration // FETCH_TIMEOUT
	PendingExpiry  time.Duration // PENDING_EXPIRY
	MaxConcurrent  int           // MAX_CONCURRENT_GROUPS, 0 means unbounded
	AllowNewGroups bool          // ALLOW_NEW_GROUPS
}

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	Backend       string // STORAGE_BACKEND: memory|sqlite|redis|pebble
	DBPath        string // DB_PATH
	RedisURL      string // REDIS_URL
	PebbleDir     string // PEBBLE_DIR
	SnapshotLimit int    // SNAPSHOT_LIMIT
}

// RetentionConfig bounds in-memory history.
type RetentionConfig struct {
	Cron string // RETENTION_CRON, empty disables
	Keep int    // RETENTION_KEEP
}

// Config holds all configuration values.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // 0 disables; streams need it off
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Feed      FeedConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Retention RetentionConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Feed: FeedConfig{
			BaseURL: getenv("FEED_BASE_URL", "http://127.0.0.1:9053"),
			Token:   getenv("FEED_TOKEN", ""),
			RPS:     getfloat("FEED_RPS", 0),
		},
		Sync: SyncConfig{
			Groups:         splitCSV(getenv("GROUPS", "general")),
			FastInterval:   getdur("FAST_INTERVAL", 2*time.Second),
			SlowInterval:   getdur("SLOW_INTERVAL", 6*time.Second),
			FetchTimeout:   getdur("FETCH_TIMEOUT", 2*time.Second),
			PendingExpiry:  getdur("PENDING_EXPIRY", 10*time.Minute),
			MaxConcurrent:  getint("MAX_CONCURRENT_GROUPS", 0),
			AllowNewGroups: getbool("ALLOW_NEW_GROUPS", false),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getenv("STORAGE_BACKEND", "sqlite")),
			DBPath:        getenv("DB_PATH", "ledgersync.db"),
			RedisURL:      getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
			PebbleDir:     getenv("PEBBLE_DIR", "data/pebble"),
			SnapshotLimit: getint("SNAPSHOT_LIMIT", 1000),
		},
		Retention: RetentionConfig{
			Cron: strings.TrimSpace(getenvAllowEmpty("RETENTION_CRON", "*/5 * * * *")),
			Keep: getint("RETENTION_KEEP", 5000),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ledgersync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("READ_TIMEOUT, READ_HEADER_TIMEOUT and IDLE_TIMEOUT must be positive")
	}
	if cfg.WriteTimeout < 0 {
		return errors.New("WRITE_TIMEOUT must be >= 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	s := cfg.Sync
	if len(s.Groups) == 0 {
		return errors.New("GROUPS must name at least one group")
	}
	if s.FastInterval <= 0 || s.SlowInterval <= 0 || s.FetchTimeout <= 0 || s.PendingExpiry <= 0 {
		return errors.New("FAST_INTERVAL, SLOW_INTERVAL, FETCH_TIMEOUT and PENDING_EXPIRY must be positive")
	}
	if s.SlowInterval < s.FastInterval {
		return errors.New("SLOW_INTERVAL must be >= FAST_INTERVAL")
	}
	if s.FetchTimeout > s.FastInterval {
		return errors.New("FETCH_TIMEOUT must not exceed FAST_INTERVAL")
	}
	if s.MaxConcurrent < 0 {
		return errors.New("MAX_CONCURRENT_GROUPS must be >= 0")
	}
	if cfg.Feed.RPS < 0 {
		return errors.New("FEED_RPS must be >= 0")
	}

	st := cfg.Storage
	switch st.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(st.DBPath) == "" {
			return errors.New("DB_PATH must not be empty for the sqlite backend")
		}
	case "redis":
		if strings.TrimSpace(st.RedisURL) == "" {
			return errors.New("REDIS_URL must not be empty for the redis backend")
		}
	case "pebble":
		if strings.TrimSpace(st.PebbleDir) == "" {
			return errors.New("PEBBLE_DIR must not be empty for the pebble backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND %q must be one of: memory, sqlite, redis, pebble", st.Backend)
	}
	if st.SnapshotLimit < 1 {
		return errors.New("SNAPSHOT_LIMIT must be >= 1")
	}

	if r := cfg.Retention; r.Cron != "" {
		if !gronx.New().IsValid(r.Cron) {
			return fmt.Errorf("RETENTION_CRON %q is not a valid cron expression", r.Cron)
		}
		if r.Keep < 1 {
			return errors.New("RETENTION_KEEP must be >= 1")
		}
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// getenvAllowEmpty returns def only when k is unset, so an explicit empty
// value can switch a feature off.
func getenvAllowEmpty(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getdur accepts Go durations ("1500ms") and bare integers as seconds.
func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips a trailing one.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
