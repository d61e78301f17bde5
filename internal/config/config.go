package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML config files can use values
// like "30m" or "1h" instead of nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(nanos)
	return nil
}

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Tokens      TokensConfig    `yaml:"tokens"`
	Email       EmailConfig     `yaml:"email"`
	Jobs        JobsConfig      `yaml:"jobs"`
	Logging     LoggingConfig   `yaml:"logging"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Environment string          `yaml:"environment"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MaxIdle        int    `yaml:"max_idle_connections"`
}

type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	JWTExpiry     Duration `yaml:"jwt_expiry"`
	CSRFKey       string   `yaml:"csrf_key"`
	SecureCookies bool     `yaml:"secure_cookies"`
}

// RateLimitConfig controls the per-IP fixed-window limiter and the
// stricter token-bucket tier applied to login attempts.
type RateLimitConfig struct {
	RequestsPerWindow int      `yaml:"requests_per_window"`
	Window            Duration `yaml:"window"`
	LoginBurst        int      `yaml:"login_burst"`
	LoginRefill       Duration `yaml:"login_refill"`
	FailOpen          bool     `yaml:"fail_open"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

type TokensConfig struct {
	VerificationTTL  Duration `yaml:"verification_ttl"`
	PasswordResetTTL Duration `yaml:"password_reset_ttl"`
	// Retention delays cleanup of expired tokens so a late validation
	// attempt still reports expiry instead of an unknown token.
	Retention Duration `yaml:"retention"`
}

type EmailConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
	TemplatesDir string `yaml:"templates_dir"`
}

type JobsConfig struct {
	RetryEmail     int      `yaml:"retry_email"`
	MaxWorkers     int      `yaml:"max_workers"`
	JobTimeout     Duration `yaml:"job_timeout"`
	CleanupEvery   Duration `yaml:"cleanup_every"`
	CleanupOnStart bool     `yaml:"cleanup_on_start"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

func Load() (Config, error) {
	cfg := loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromEnv() Config {
	return Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiry:     Duration(time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour),
			CSRFKey:       getEnv("CSRF_KEY", ""),
			SecureCookies: getEnvBool("SECURE_COOKIES", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 100),
			Window:            Duration(getEnvDuration("RATE_LIMIT_WINDOW", time.Hour)),
			LoginBurst:        getEnvInt("RATE_LIMIT_LOGIN_BURST", 5),
			LoginRefill:       Duration(getEnvDuration("RATE_LIMIT_LOGIN_REFILL", 3*time.Minute)),
			FailOpen:          getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
			TrustedProxyCIDRs: splitList(getEnv("TRUSTED_PROXY_CIDRS", "")),
		},
		Tokens: TokensConfig{
			VerificationTTL:  Duration(getEnvDuration("TOKEN_VERIFICATION_TTL", time.Hour)),
			PasswordResetTTL: Duration(getEnvDuration("TOKEN_PASSWORD_RESET_TTL", time.Hour)),
			Retention:        Duration(getEnvDuration("TOKEN_RETENTION", 24*time.Hour)),
		},
		Email: EmailConfig{
			Enabled:      getEnvBool("EMAIL_ENABLED", false),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "no-reply@localhost"),
			TemplatesDir: getEnv("EMAIL_TEMPLATES_DIR", "web/email/templates"),
		},
		Jobs: JobsConfig{
			RetryEmail:     getEnvInt("JOB_RETRY_EMAIL", 3),
			MaxWorkers:     getEnvInt("JOB_MAX_WORKERS", 10),
			JobTimeout:     Duration(getEnvDuration("JOB_TIMEOUT", time.Minute)),
			CleanupEvery:   Duration(getEnvDuration("JOB_CLEANUP_EVERY", time.Hour)),
			CleanupOnStart: getEnvBool("JOB_CLEANUP_ON_START", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "none"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "events-scheduler"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

// LoadFile loads configuration from the environment, then overlays values
// from a YAML file. File values take precedence, and validation runs only
// on the merged result, so required settings may come from either side.
func LoadFile(path string) (Config, error) {
	cfg := loadFromEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.RequestsPerWindow < 0 {
		return fmt.Errorf("rate limit threshold must not be negative")
	}
	if c.Email.Enabled && c.Email.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY is required when email is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}
