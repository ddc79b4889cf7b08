package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	StoreBackend string // "memory" or "sql"
	DBDriver     string // "postgres" or "mysql"
	DBUser       string
	DBPass       string // optional
	DBHost       string
	DBPort       string
	DBName       string
	DBSSLMode    string // postgres only

	JWTSecret    string // secret used to verify access tokens
	AccessTTLMin int    // lifetime of tokens minted by cmd tooling

	RabbitMQURL     string // empty disables notifications
	NotificationDir string // outbox directory written by the consumer

	StripeSecretKey     string // empty selects the sandbox gateway
	StripeWebhookSecret string
	GatewayTimeout      time.Duration
	Currency            string

	Fulfillment       FulfillmentConfig
	SchedulerInterval time.Duration
	RateLimit         RateLimitConfig
	Redis             RedisConfig
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  Database settings are
// only required for the sql backend.
func Load() Config {
	cfg := Config{
		Env:                 envStr("APP_ENV", "dev"),
		Port:                must("APP_PORT"),
		StoreBackend:        strings.ToLower(envStr("STORE_BACKEND", StoreMemory)),
		JWTSecret:           must("JWT_SECRET"),
		AccessTTLMin:        envInt("ACCESS_TOKEN_TTL_MIN", 15),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		NotificationDir:     envStr("NOTIFICATION_DIR", "logs"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		GatewayTimeout:      envDur("GATEWAY_TIMEOUT", 20*time.Second),
		Currency:            strings.ToLower(envStr("CURRENCY", "gbp")),
		Fulfillment:         LoadFulfillmentConfig(),
		SchedulerInterval:   envDur("SCHEDULER_INTERVAL", time.Minute),
		RateLimit:           LoadRateLimitConfig(),
		Redis:               LoadRedisConfig(),
	}
	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreSQL:
		cfg.DBDriver = strings.ToLower(envStr("DB_DRIVER", "postgres"))
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
		cfg.DBSSLMode = envStr("DB_SSLMODE", "disable")
	default:
		log.Fatalf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = time.Minute
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
