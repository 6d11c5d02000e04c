// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// price-checking worker, its upstream clients (pricing API, Telegram), the
// database, the ops HTTP surface, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the ops API.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "flymate-worker")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and locates the subscription/dedup database.
type DBConfig struct {
	Driver string // sqlite|mysql
	Path   string // SQLite file path
	DSN    string // MySQL DSN
}

// PricingConfig configures the outbound flight-price API client.
type PricingConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration // bound for a single attempt
	RPS       float64       // shared outbound token bucket
	Burst     int
	PageLimit int // offers requested per unit
}

// TelegramConfig configures the notification sink.
type TelegramConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Locale  string // BCP 47 tag for number formatting in messages
}

// WorkerConfig configures scheduling and the check cycle.
type WorkerConfig struct {
	SweepInterval          time.Duration // scheduler tick
	SweepBatch             int           // max due subscriptions per sweep
	Concurrency            int           // parallel subscription checks
	UnitConcurrency        int           // parallel pricing calls per subscription
	DefaultCheckInterval   time.Duration // when a subscription has none
	DedupTTL               time.Duration
	LookaheadHorizon       time.Duration
	MaxNotificationsPerRun int
	MaxConsecutiveFailures int
	BestPerDay             bool
	ShutdownTimeout        time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // e.g. 1<<20
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for the admin API
	SwaggerEnabled    bool          // enable Swagger UI route
	OpsToken          string        // bearer token for the admin API; empty disables auth

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	DB       DBConfig
	Pricing  PricingConfig
	Telegram TelegramConfig
	Worker   WorkerConfig

	// Ops API rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
		// Ops HTTP server
		Port:              getenv("PORT", "9090"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		SwaggerEnabled:    getbool("SWAGGER_ENABLED", false),
		OpsToken:          strings.TrimSpace(getenv("OPS_TOKEN", "")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "flymate.db"),
			DSN:    getenv("DB_DSN", ""),
		},

		Pricing: PricingConfig{
			BaseURL:   strings.TrimRight(getenv("PRICING_BASE_URL", "https://api.travelpayouts.com"), "/"),
			Token:     getenv("PRICING_TOKEN", ""),
			Timeout:   getdur("PRICING_TIMEOUT", 30*time.Second),
			RPS:       getfloat("PRICING_RPS", 5.0),
			Burst:     getint("PRICING_BURST", 5),
			PageLimit: getint("PRICING_PAGE_LIMIT", 100),
		},

		Telegram: TelegramConfig{
			BaseURL: strings.TrimRight(getenv("TELEGRAM_BASE_URL", "https://api.telegram.org"), "/"),
			Token:   getenv("TELEGRAM_TOKEN", ""),
			Timeout: getdur("TELEGRAM_TIMEOUT", 15*time.Second),
			Locale:  getenv("TELEGRAM_LOCALE", "en"),
		},

		Worker: WorkerConfig{
			SweepInterval:          getdur("SWEEP_INTERVAL", 5*time.Minute),
			SweepBatch:             getint("SWEEP_BATCH", 200),
			Concurrency:            getint("WORKER_CONCURRENCY", 4),
			UnitConcurrency:        getint("UNIT_CONCURRENCY", 3),
			DefaultCheckInterval:   getdur("DEFAULT_CHECK_INTERVAL", 5*time.Minute),
			DedupTTL:               getdur("DEDUP_TTL", 60*24*time.Hour),
			LookaheadHorizon:       getdur("LOOKAHEAD_HORIZON", 365*24*time.Hour),
			MaxNotificationsPerRun: getint("MAX_NOTIFICATIONS_PER_CYCLE", 10),
			MaxConsecutiveFailures: getint("MAX_CONSECUTIVE_FAILURES", 3),
			BestPerDay:             getbool("BEST_PER_DAY", true),
			ShutdownTimeout:        getdur("SHUTDOWN_TIMEOUT", 30*time.Second),
		},

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

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "flymate-worker"),
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
	if cfg.DB.Driver == "sqlite3" {
		cfg.DB.Driver = "sqlite"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "mysql":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN must be set when DB_DRIVER=mysql")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql")
	}
	if strings.TrimSpace(cfg.Pricing.Token) == "" {
		return cfg, errors.New("PRICING_TOKEN must not be empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return cfg, errors.New("TELEGRAM_TOKEN must not be empty")
	}
	if cfg.Pricing.Timeout <= 0 || cfg.Telegram.Timeout <= 0 {
		return cfg, errors.New("PRICING_TIMEOUT and TELEGRAM_TIMEOUT must be > 0")
	}
	if cfg.Pricing.RPS <= 0 {
		return cfg, errors.New("PRICING_RPS must be > 0")
	}
	if cfg.Pricing.Burst < 1 {
		return cfg, errors.New("PRICING_BURST must be >= 1")
	}
	if cfg.Pricing.PageLimit < 1 || cfg.Pricing.PageLimit > 1000 {
		return cfg, errors.New("PRICING_PAGE_LIMIT must be between 1 and 1000")
	}
	w := cfg.Worker
	if w.SweepInterval <= 0 || w.DefaultCheckInterval <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL and DEFAULT_CHECK_INTERVAL must be > 0")
	}
	if w.SweepBatch < 1 {
		return cfg, errors.New("SWEEP_BATCH must be >= 1")
	}
	if w.Concurrency < 1 || w.UnitConcurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY and UNIT_CONCURRENCY must be >= 1")
	}
	if w.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if w.LookaheadHorizon <= 0 {
		return cfg, errors.New("LOOKAHEAD_HORIZON must be > 0")
	}
	if w.MaxNotificationsPerRun < 0 {
		return cfg, errors.New("MAX_NOTIFICATIONS_PER_CYCLE must be >= 0")
	}
	if w.MaxConsecutiveFailures < 1 {
		return cfg, errors.New("MAX_CONSECUTIVE_FAILURES must be >= 1")
	}
	if w.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
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

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
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
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
