package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewEntitlementConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string

	// Payment gateway settings. An empty webhook secret disables webhook
	// processing rather than trusting unsigned events.
	PaymentProvider      string
	PaymentKeyID         string
	PaymentKeySecret     string
	PaymentWebhookSecret string

	Bootstrap BootstrapConfig
}

// BootstrapConfig controls first-run seeding for local and self-hosted
// deployments.
type BootstrapConfig struct {
	SeedCatalog                 bool
	EnsureDefaultTenantAndOwner bool
	AdminEmail                  string
	AdminPassword               string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "tenantry"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tenantry"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		PaymentProvider:      strings.ToLower(getenv("PAYMENT_PROVIDER", "mock")),
		PaymentKeyID:         strings.TrimSpace(getenv("PAYMENT_KEY_ID", "")),
		PaymentKeySecret:     strings.TrimSpace(getenv("PAYMENT_KEY_SECRET", "")),
		PaymentWebhookSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),

		Bootstrap: BootstrapConfig{
			SeedCatalog:                 getenvBool("BOOTSTRAP_SEED_CATALOG", true),
			EnsureDefaultTenantAndOwner: getenvBool("BOOTSTRAP_DEFAULT_TENANT", true),
			AdminEmail:                  getenv("BOOTSTRAP_ADMIN_EMAIL", "admin@localhost"),
			AdminPassword:               getenv("BOOTSTRAP_ADMIN_PASSWORD", "admin"),
		},
	}
}

// IsProduction reports whether the process runs against real providers.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
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
