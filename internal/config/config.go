// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// chat API, the passive interceptor proxy, the PDF metadata service, the
// document store, the inference server, the verifiable registry and
// observability.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "publish-agent")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the document store backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// OllamaConfig points at the local inference server.
type OllamaConfig struct {
	Host    string        // OLLAMA_HOST
	Model   string        // OLLAMA_MODEL
	Timeout time.Duration // OLLAMA_TIMEOUT, seconds or Go duration
	APIKey  string        // sent as bearer token to the OpenAI-compatible endpoint
}

// RegistryConfig points at the verifiable contract API.
type RegistryConfig struct {
	Endpoint string // VERIFIABLE_CONTRACT_API
	Timeout  time.Duration
}

// AgentConfig tunes publish detection and notification fan-out.
type AgentConfig struct {
	FrontendBaseURL string   // public form links are built on this
	Keywords        []string // passive trigger words
	NotifyScope     string   // owner|global
}

// InterceptorConfig configures the passive reverse proxy.
type InterceptorConfig struct {
	Host            string
	Port            string
	InjectionTTL    time.Duration
	DedupTTL        time.Duration
	RecentCapacity  int
	InjectResponses bool
	RedisURL        string   // empty keeps caches in process memory
	LogPaths        []string // inference server log files to tail; empty disables
}

// PDFConfig configures the PDF metadata service.
type PDFConfig struct {
	Port           string
	OutputDir      string
	MaxUpload      int64
	DPI            int
	PdftoppmPath   string
	AllowedOrigins []string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Host              string
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // covers slow LLM calls
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB          DBConfig
	Ollama      OllamaConfig
	Registry    RegistryConfig
	Agent       AgentConfig
	Interceptor InterceptorConfig
	PDF         PDFConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Addr is the chat API listen address.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, c.Port) }

// ProxyAddr is the passive interceptor listen address.
func (c Config) ProxyAddr() string { return net.JoinHostPort(c.Interceptor.Host, c.Interceptor.Port) }

// PDFAddr is the PDF service listen address.
func (c Config) PDFAddr() string { return net.JoinHostPort(c.Host, c.PDF.Port) }

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
		Host:              getenv("HOST", "0.0.0.0"),
		Port:              getenv("PORT", "8001"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 330*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "agent.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Ollama: OllamaConfig{
			Host:    strings.TrimRight(getenv("OLLAMA_HOST", "http://localhost:11434"), "/"),
			Model:   getenv("OLLAMA_MODEL", "llama3.2:3b"),
			Timeout: getseconds("OLLAMA_TIMEOUT", 300*time.Second),
			APIKey:  getenv("OLLAMA_API_KEY", "ollama"),
		},
		Registry: RegistryConfig{
			Endpoint: getenv("VERIFIABLE_CONTRACT_API", "http://localhost:3002/api/urls"),
			Timeout:  getseconds("REGISTRY_TIMEOUT", 30*time.Second),
		},
		Agent: AgentConfig{
			FrontendBaseURL: strings.TrimRight(getenv("FRONTEND_BASE_URL", "http://localhost:4200"), "/"),
			Keywords:        lowerAll(splitCSV(getenv("LISTEN_KEYWORDS", "publish,deploy,register"))),
			NotifyScope:     strings.ToLower(getenv("NOTIFY_SCOPE", "owner")),
		},
		Interceptor: InterceptorConfig{
			Host:            getenv("PROXY_HOST", "0.0.0.0"),
			Port:            getenv("PROXY_PORT", "11435"),
			InjectionTTL:    getdur("INJECTION_TTL", 10*time.Minute),
			DedupTTL:        getdur("DEDUP_TTL", 10*time.Minute),
			RecentCapacity:  getint("RECENT_CAPACITY", 5),
			InjectResponses: getbool("INJECT_RESPONSES", true),
			RedisURL:        getenv("REDIS_URL", ""),
			LogPaths:        splitCSV(getenv("OLLAMA_LOG_PATHS", "")),
		},
		PDF: PDFConfig{
			Port:           getenv("PDF_PORT", "5001"),
			OutputDir:      getenv("PDF_OUTPUT_DIR", "generated_pngs"),
			MaxUpload:      int64(getint("PDF_MAX_UPLOAD", 50<<20)),
			DPI:            getint("PDF_DPI", 200),
			PdftoppmPath:   getenv("PDFTOPPM_PATH", "pdftoppm"),
			AllowedOrigins: splitCSV(getenv("PDF_ALLOWED_ORIGINS", "http://localhost:4200")),
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

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "publish-agent"),
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
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
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
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if err := validURL("OLLAMA_HOST", cfg.Ollama.Host); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.Ollama.Model) == "" {
		return cfg, errors.New("OLLAMA_MODEL must not be empty")
	}
	if cfg.Ollama.Timeout <= 0 || cfg.Registry.Timeout <= 0 {
		return cfg, errors.New("OLLAMA_TIMEOUT and REGISTRY_TIMEOUT must be positive")
	}
	if err := validURL("VERIFIABLE_CONTRACT_API", cfg.Registry.Endpoint); err != nil {
		return cfg, err
	}
	if err := validURL("FRONTEND_BASE_URL", cfg.Agent.FrontendBaseURL); err != nil {
		return cfg, err
	}
	if len(cfg.Agent.Keywords) == 0 {
		return cfg, errors.New("LISTEN_KEYWORDS must name at least one keyword")
	}
	switch cfg.Agent.NotifyScope {
	case "owner", "global":
	default:
		return cfg, errors.New("NOTIFY_SCOPE must be one of: owner, global")
	}
	if cfg.Interceptor.RecentCapacity < 1 {
		return cfg, errors.New("RECENT_CAPACITY must be >= 1")
	}
	if cfg.Interceptor.InjectionTTL <= 0 || cfg.Interceptor.DedupTTL <= 0 {
		return cfg, errors.New("INJECTION_TTL and DEDUP_TTL must be > 0")
	}
	if cfg.PDF.MaxUpload <= 0 {
		return cfg, errors.New("PDF_MAX_UPLOAD must be > 0")
	}
	if cfg.PDF.DPI < 36 || cfg.PDF.DPI > 600 {
		return cfg, errors.New("PDF_DPI must be between 36 and 600")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

// getseconds accepts either a bare number of seconds ("300") or a Go duration ("5m").
func getseconds(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(n * float64(time.Second))
		}
	}
	return getdur(k, def)
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

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}

func validURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
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
