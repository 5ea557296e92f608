// Package config handles loading and managing application configuration.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server configuration
	Server ServerConfig

	// Payment gateway (ECPay all-in-one cashier)
	Gateway GatewayConfig

	// Domain backend API configuration
	Backend BackendConfig

	// Redis holds the idempotency mappings and sweep locks.
	Redis RedisConfig

	// Reconciliation worker settings
	Worker WorkerConfig

	// Kafka broker for reconciliation tasks (optional)
	Kafka KafkaConfig

	// Postgres for dead letters (optional)
	Database DatabaseConfig

	// Security settings
	Security SecurityConfig

	Sweep     SweepConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string
	GinMode string // "debug", "release", or "test"
	// Debug enables the test-payment shortcut endpoint.
	Debug       bool
	FrontendURL string
	// NodeID seeds the invoice number generator; unique per replica (0-1023).
	NodeID int64
}

// GatewayConfig holds the merchant credentials and endpoints of the payment gateway.
type GatewayConfig struct {
	MerchantID string
	HashKey    string
	HashIV     string
	// EncryptType is the merchant's digest algorithm: "1" SHA256, "0" MD5.
	EncryptType string
	PaymentURL  string
	QueryURL    string
	// CallbackURL receives the server-to-server notification (ReturnURL).
	CallbackURL string
	// ResultURL receives the browser after payment (OrderResultURL).
	ResultURL string
	// ClientBackURL is the "back to shop" link shown by the cashier.
	ClientBackURL string
	MappingTTL    time.Duration
}

// BackendConfig holds the domain backend API configuration.
type BackendConfig struct {
	BaseURL string
	APIKey  string
	// Store selects the billing store: "backend" or "memory".
	Store string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// WorkerConfig holds reconciliation retry and concurrency settings.
type WorkerConfig struct {
	Count       int
	QueueSize   int
	MaxRetries  int
	BackoffBase int
}

// KafkaConfig holds broker settings. An empty broker list disables Kafka.
type KafkaConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	URL string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ServiceAPIKey   string
	CallbackTimeout time.Duration
	ReplayWindow    time.Duration
}

// SweepConfig holds the subscription expiry schedule.
type SweepConfig struct {
	Schedule   string
	LockExpiry time.Duration
}

// TelemetryConfig holds tracing settings. Tracing is off without an endpoint.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

// Load reads configuration from environment variables.
// Returns a Config struct with all settings populated.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "debug"),
			Debug:       getEnvBool("DEBUG", false),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
			NodeID:      int64(getEnvInt("NODE_ID", 1)),
		},
		Gateway: GatewayConfig{
			MerchantID:    getEnv("ECPAY_MERCHANT_ID", ""),
			HashKey:       getEnv("ECPAY_HASH_KEY", ""),
			HashIV:        getEnv("ECPAY_HASH_IV", ""),
			EncryptType:   getEnv("ECPAY_ENCRYPT_TYPE", "1"),
			PaymentURL:    getEnv("ECPAY_PAYMENT_URL", "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"),
			QueryURL:      getEnv("ECPAY_QUERY_URL", "https://payment-stage.ecpay.com.tw/Cashier/QueryTradeInfo/V5"),
			CallbackURL:   getEnv("ECPAY_CALLBACK_URL", "http://localhost:8080/payment/callback"),
			ResultURL:     getEnv("ECPAY_RESULT_URL", "http://localhost:8080/payment/result-redirect"),
			ClientBackURL: getEnv("ECPAY_CLIENT_BACK_URL", "http://localhost:8080/payment/return"),
			MappingTTL:    getEnvDuration("ECPAY_MAPPING_TTL", 24*time.Hour),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_URL", "http://localhost:8000"),
			APIKey:  getEnv("BACKEND_API_KEY", ""),
			Store:   getEnv("BILLING_STORE", "backend"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "payment"),
		},
		Worker: WorkerConfig{
			Count:       getEnvInt("WORKER_COUNT", 4),
			QueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 256),
			MaxRetries:  getEnvInt("RECONCILE_MAX_RETRIES", 3),
			BackoffBase: getEnvInt("RECONCILE_BACKOFF_BASE", 2),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "payments.reconcile"),
			GroupID: getEnv("KAFKA_GROUP_ID", "subscription-payments"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			ServiceAPIKey:   getEnv("SERVICE_API_KEY", ""),
			CallbackTimeout: getEnvDuration("CALLBACK_TIMEOUT", 5*time.Second),
			ReplayWindow:    getEnvDuration("CALLBACK_REPLAY_WINDOW", 72*time.Hour),
		},
		Sweep: SweepConfig{
			Schedule:   getEnv("SWEEP_SCHEDULE", "0 0 2 * * *"),
			LockExpiry: getEnvDuration("SWEEP_LOCK_EXPIRY", 10*time.Minute),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "subscription-payments"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
	}
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.MerchantID == "" {
		errs = append(errs, errors.New("ECPAY_MERCHANT_ID is required"))
	}
	if c.Gateway.HashKey == "" || c.Gateway.HashIV == "" {
		errs = append(errs, errors.New("ECPAY_HASH_KEY and ECPAY_HASH_IV are required"))
	}
	if c.Gateway.EncryptType != "0" && c.Gateway.EncryptType != "1" {
		errs = append(errs, errors.New("ECPAY_ENCRYPT_TYPE must be 0 (MD5) or 1 (SHA256)"))
	}
	if c.Backend.Store != "backend" && c.Backend.Store != "memory" {
		errs = append(errs, errors.New("BILLING_STORE must be backend or memory"))
	}
	if c.Backend.Store == "backend" && c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		errs = append(errs, errors.New("NODE_ID must be between 0 and 1023"))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_RETRIES must not be negative"))
	}
	if c.Worker.BackoffBase < 2 {
		errs = append(errs, errors.New("RECONCILE_BACKOFF_BASE must be at least 2"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether reconciliation tasks go through Kafka.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.Kafka.Brokers) != ""
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer with a fallback.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean with a fallback.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a time.Duration with a fallback.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
