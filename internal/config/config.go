package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	MongoDB      MongoDBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Postmark     PostmarkConfig
	Prescription PrescriptionConfig
	Entitlement  EntitlementConfig
	RabbitMQ     RabbitMQConfig
	OTEL         OTELConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
}

// JWTConfig holds the shared secret of the auth service that issues access tokens
type JWTConfig struct {
	Secret string
}

// StripeConfig holds Stripe API configuration.
// An empty SecretKey selects the mock verifier outside production.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// PostmarkConfig holds transactional email configuration
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
}

// PrescriptionConfig points at the prescription generation service
type PrescriptionConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EntitlementConfig tunes the lifecycle engine
type EntitlementConfig struct {
	SweepInterval  time.Duration
	PaymentTimeout time.Duration
}

// RabbitMQConfig holds the event broker URL. Empty disables publishing.
type RabbitMQConfig struct {
	URL string
}

// OTELConfig holds OpenTelemetry exporter configuration
type OTELConfig struct {
	Enabled        bool
	Endpoint       string
	InstanceID     string
	Token          string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRatio    float64 // fraction of new traces sampled
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: env,
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "wellness"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Postmark: PostmarkConfig{
			ServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			AccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			SenderEmail:  getEnv("POSTMARK_SENDER_EMAIL", "no-reply@wellness.local"),
		},
		Prescription: PrescriptionConfig{
			BaseURL: getEnv("PRESCRIPTION_SERVICE_URL", ""),
			APIKey:  getEnv("PRESCRIPTION_SERVICE_API_KEY", ""),
			Timeout: getEnvAsDuration("PRESCRIPTION_TIMEOUT", 2*time.Minute),
		},
		Entitlement: EntitlementConfig{
			SweepInterval:  getEnvAsDuration("ENTITLEMENT_SWEEP_INTERVAL", time.Hour),
			PaymentTimeout: getEnvAsDuration("PAYMENT_VERIFY_TIMEOUT", 10*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			URL: getEnv("RABBITMQ_URL", ""),
		},
		OTEL: OTELConfig{
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "wellness-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			Environment:    env,
			SampleRatio:    getEnvAsFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether mocks must be refused
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() {
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}
	if c.Entitlement.SweepInterval <= 0 {
		return fmt.Errorf("ENTITLEMENT_SWEEP_INTERVAL must be positive")
	}
	if c.Entitlement.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_VERIFY_TIMEOUT must be positive")
	}
	if c.OTEL.Enabled && c.OTEL.Endpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true")
	}
	if c.OTEL.SampleRatio <= 0 || c.OTEL.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be in (0, 1]")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat retrieves an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "1h") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
