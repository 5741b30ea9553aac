package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string
	NodeID      int64

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBSlowQuery       time.Duration

	Redis   RedisConfig
	Stripe  StripeConfig
	SMTP    SMTPConfig
	Public  PublicConfig
	Webhook WebhookConfig

	Dispatcher DispatcherConfig
}

// TelemetryConfig selects log output and OpenTelemetry export.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	GatewayTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type PublicConfig struct {
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
	SlotLockTTL    time.Duration
}

type WebhookConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_NAME", "clientflow"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPPort:          getenv("HTTP_PORT", "8080"),
		NodeID:            int64(getenvInt("NODE_ID", 1)),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "clientflow"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),
		DBSlowQuery:       getenvDuration("DB_SLOW_QUERY", 200*time.Millisecond),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     strings.TrimSpace(getenv("SMTP_FROM", "no-reply@clientflow.local")),
			FromName: getenv("SMTP_FROM_NAME", "ClientFlow"),
		},
		Public: PublicConfig{
			RateLimit:      getenvFloat("PUBLIC_RATE_LIMIT", 1),
			RateBurst:      getenvInt("PUBLIC_RATE_BURST", 5),
			AllowedOrigins: splitList(getenv("PUBLIC_ALLOWED_ORIGINS", "*")),
			SlotLockTTL:    getenvDuration("PUBLIC_SLOT_LOCK_TTL", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Timeout:     getenvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts: getenvInt("WEBHOOK_MAX_ATTEMPTS", 3),
			Backoff:     getenvDuration("WEBHOOK_BACKOFF", time.Second),
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrency: getenvInt("DISPATCH_MAX_CONCURRENCY", 8),
			TaskTimeout:    getenvDuration("DISPATCH_TASK_TIMEOUT", 30*time.Second),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15s") or bare seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
