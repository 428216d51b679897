// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting,
// observability, and the QR issuance policy.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
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

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-token-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QRPolicy defines the issuance policy applied to every generated artifact.
// It replaces the mutable settings row of earlier revisions: each operation
// receives the policy by value, so there is no ambient global state.
type QRPolicy struct {
	ExpiryHours     int    // QR_EXPIRY_HOURS: artifact validity window
	ErrorCorrection string // QR_ERROR_CORRECTION: L|M|Q|H
	BoxSize         int    // QR_BOX_SIZE: pixels per module
	Border          int    // QR_BORDER: quiet-zone modules (0 disables)
	BaseURL         string // QR_BASE_URL: public token-status page prefix
	Format          string // QR_FORMAT: image format, PNG only today
}

// Expiry returns the configured validity window as a duration.
func (p QRPolicy) Expiry() time.Duration {
	return time.Duration(p.ExpiryHours) * time.Hour
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath   string // SQLite path
	LockWait time.Duration // max wait for a category lock before ErrContention

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// QR issuance policy
	QR QRPolicy

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

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:   getenv("DB_PATH", "tokens.db"),
		LockWait: getdur("LOCK_WAIT", 2*time.Second),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// QR issuance policy
		QR: QRPolicy{
			ExpiryHours:     getint("QR_EXPIRY_HOURS", 24),
			ErrorCorrection: strings.ToUpper(getenv("QR_ERROR_CORRECTION", "M")),
			BoxSize:         getint("QR_BOX_SIZE", 10),
			Border:          getint("QR_BORDER", 4),
			BaseURL:         getenv("QR_BASE_URL", "http://localhost:3000/token-status/"),
			Format:          strings.ToUpper(getenv("QR_FORMAT", "PNG")),
		},

		// Observability
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-token-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks configuration invariants after loading.
func (c Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("config: PORT must be numeric")
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return errors.New("config: GIN_MODE must be debug, release, or test")
	}
	if c.RateRPS < 0 {
		return errors.New("config: RATE_RPS must be >= 0")
	}
	if c.RateBurst < 1 {
		return errors.New("config: RATE_BURST must be >= 1")
	}
	if c.QR.ExpiryHours < 1 {
		return errors.New("config: QR_EXPIRY_HOURS must be >= 1")
	}
	switch c.QR.ErrorCorrection {
	case "L", "M", "Q", "H":
	default:
		return errors.New("config: QR_ERROR_CORRECTION must be L, M, Q, or H")
	}
	if c.QR.BoxSize < 1 {
		return errors.New("config: QR_BOX_SIZE must be >= 1")
	}
	if c.QR.Border < 0 {
		return errors.New("config: QR_BORDER must be >= 0")
	}
	if c.QR.Format != "PNG" {
		return errors.New("config: QR_FORMAT only supports PNG")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("config: OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// getenv returns the environment value for key, or def when unset/empty.
func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// getint parses an integer environment variable with a default.
func getint(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// getfloat parses a float environment variable with a default.
func getfloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// getbool parses a boolean environment variable with a default.
// Accepted truthy values: 1, t, true, yes, y, on (case-insensitive).
func getbool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "y", "on":
		return true
	case "0", "f", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// getdur parses a duration environment variable with a default.
func getdur(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty entries. Returns nil for an empty input.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures the base path starts with "/" and has no
// trailing slash (except the bare root, which collapses to "").
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
