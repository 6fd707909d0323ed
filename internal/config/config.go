// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, the data platform connection, token lifetimes, rate-limit
// windows, response caching, object storage, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Runtime environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store backends for rate-limit windows and the response cache.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "bookshelvz-api")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SupabaseConfig identifies the data/auth platform.
type SupabaseConfig struct {
	URL       string // SUPABASE_URL
	Key       string // SUPABASE_KEY or SUPABASE_ANON_KEY
	JWTSecret string // SUPABASE_JWT_SECRET, falls back to Key
}

// TokenIssuer is the expected "iss" claim of access tokens.
func (s SupabaseConfig) TokenIssuer() string {
	return strings.TrimRight(s.URL, "/") + "/auth/v1"
}

// SigningSecret is the HMAC secret used for access and refresh tokens.
func (s SupabaseConfig) SigningSecret() []byte {
	if s.JWTSecret != "" {
		return []byte(s.JWTSecret)
	}
	return []byte(s.Key)
}

// AuthConfig controls token lifetimes and transparent refresh.
type AuthConfig struct {
	AccessTTL        time.Duration // ACCESS_TOKEN_TTL
	RefreshTTL       time.Duration // REFRESH_TOKEN_TTL
	RefreshThreshold time.Duration // TOKEN_REFRESH_THRESHOLD
}

// Window is a sliding-window limit.
type Window struct {
	Window time.Duration
	Max    int
}

// RateLimitConfig holds the sliding-window policies and the token-bucket throttle.
type RateLimitConfig struct {
	API     Window  // RATE_API_WINDOW / RATE_API_MAX
	Auth    Window  // RATE_AUTH_WINDOW / RATE_AUTH_MAX
	Refresh Window  // RATE_REFRESH_WINDOW / RATE_REFRESH_MAX
	RPS     float64 // tokens per second (0 disables the throttle)
	Burst   int     // bucket size (>= 1)
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// StoreConfig selects the backing store for windows and cache entries.
type StoreConfig struct {
	Backend  string // memory|redis
	RedisURL string
}

// StorageConfig configures the object storage used for book PDFs.
type StorageConfig struct {
	Dir         string
	MaxPDFBytes int64
}

// OrderContacts are the external messaging endpoints customers use to complete purchases.
type OrderContacts struct {
	WhatsAppNumber string
	TelegramHandle string
	Email          string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	Env               string        // development|production|test (NODE_ENV)
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s
	IdleTimeout       time.Duration // e.g. 60s
	RequestTimeout    time.Duration // per-request deadline propagated to the data layer
	MaxHeaderBytes    int           // bytes
	BodyLimitBytes    int64         // max JSON request body
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Platform
	Supabase    SupabaseConfig
	DatabaseURL string // postgres:// URL or SQLite path

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Store     StoreConfig
	Storage   StorageConfig
	Orders    OrderContacts

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// IsDevelopment reports whether error responses may include debug details.
func (c Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

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
		Env:               strings.ToLower(getenv("NODE_ENV", EnvDevelopment)),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout:    getdur("REQUEST_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		BodyLimitBytes:    int64(getint("BODY_LIMIT_BYTES", 10<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Platform
		Supabase: SupabaseConfig{
			URL:       strings.TrimSpace(os.Getenv("SUPABASE_URL")),
			Key:       firstNonEmpty(os.Getenv("SUPABASE_KEY"), os.Getenv("SUPABASE_ANON_KEY")),
			JWTSecret: strings.TrimSpace(os.Getenv("SUPABASE_JWT_SECRET")),
		},
		DatabaseURL: getenv("DATABASE_URL", "bookshelvz.db"),

		Auth: AuthConfig{
			AccessTTL:        getdur("ACCESS_TOKEN_TTL", time.Hour),
			RefreshTTL:       getdur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			RefreshThreshold: getdur("TOKEN_REFRESH_THRESHOLD", 5*time.Minute),
		},

		// Rate limiting
		RateLimit: RateLimitConfig{
			API:     Window{Window: getdur("RATE_API_WINDOW", 15*time.Minute), Max: getint("RATE_API_MAX", 100)},
			Auth:    Window{Window: getdur("RATE_AUTH_WINDOW", 15*time.Minute), Max: getint("RATE_AUTH_MAX", 5)},
			Refresh: Window{Window: getdur("RATE_REFRESH_WINDOW", time.Hour), Max: getint("RATE_REFRESH_MAX", 10)},
			RPS:     getfloat("RATE_RPS", 20.0),
			Burst:   getint("RATE_BURST", 40),
		},

		Cache: CacheConfig{
			Enabled: getbool("CACHE_ENABLED", true),
			TTL:     getdur("CACHE_TTL", 5*time.Minute),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getenv("STORE_BACKEND", StoreMemory)),
			RedisURL: getenv("REDIS_URL", ""),
		},
		Storage: StorageConfig{
			Dir:         getenv("STORAGE_DIR", "data/books"),
			MaxPDFBytes: int64(getint("MAX_PDF_BYTES", 50<<20)),
		},
		Orders: OrderContacts{
			WhatsAppNumber: getenv("ORDER_WHATSAPP_NUMBER", ""),
			TelegramHandle: getenv("ORDER_TELEGRAM_HANDLE", ""),
			Email:          getenv("ORDER_EMAIL", ""),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(firstNonEmpty(os.Getenv("CLIENT_URL"), os.Getenv("FRONTEND_URL"))),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", true),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 365*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "bookshelvz-api"),
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
	switch cfg.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	case "prod":
		cfg.Env = EnvProduction
	default:
		cfg.Env = EnvDevelopment
	}

	// --- validation ---
	if cfg.Supabase.URL == "" {
		return cfg, errors.New("SUPABASE_URL is required")
	}
	if cfg.Supabase.Key == "" {
		return cfg, errors.New("SUPABASE_KEY or SUPABASE_ANON_KEY is required")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.RequestTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.BodyLimitBytes <= 0 {
		return cfg, errors.New("BODY_LIMIT_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 || cfg.Auth.RefreshThreshold < 0 {
		return cfg, errors.New("token lifetimes must be positive durations")
	}
	for name, w := range map[string]Window{"RATE_API": cfg.RateLimit.API, "RATE_AUTH": cfg.RateLimit.Auth, "RATE_REFRESH": cfg.RateLimit.Refresh} {
		if w.Window <= 0 || w.Max < 1 {
			return cfg, errors.New(name + "_WINDOW must be > 0 and " + name + "_MAX must be >= 1")
		}
	}
	if cfg.RateLimit.RPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateLimit.Burst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Cache.TTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be > 0")
	}
	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if cfg.Store.RedisURL == "" {
			return cfg, errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("STORE_BACKEND must be one of: memory, redis")
	}
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		return cfg, errors.New("STORAGE_DIR must not be empty")
	}
	if cfg.Storage.MaxPDFBytes <= 0 {
		return cfg, errors.New("MAX_PDF_BYTES must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
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
