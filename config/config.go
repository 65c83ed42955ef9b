package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Email     EmailConfig
	Payment   PaymentConfig
	App       AppConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string // if set, used as-is (e.g. postgres://localhost:5432/oriyet?sslmode=disable)
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	Issuer      string
}

// AWSConfig holds AWS credentials and the certificate bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // S3-compatible endpoint, e.g. MinIO in development
	CertificatesBucket   string
	PresignExpireMinutes int
}

// EmailConfig for SMTP. An empty SMTPHost logs emails instead of sending them.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// PaymentConfig holds the UddoktaPay gateway settings.
type PaymentConfig struct {
	APIURL        string
	VerifyURL     string
	APIKey        string
	WebhookAPIKey string // defaults to APIKey
	Timeout       time.Duration
	PendingTTL    time.Duration
}

// AppConfig holds the public URLs used in redirects and emails.
type AppConfig struct {
	FrontendURL string
	BackendURL  string
}

// RateLimitConfig holds per-IP fixed window limits.
type RateLimitConfig struct {
	InitiateLimit  int
	InitiateWindow time.Duration
	VerifyLimit    int
	VerifyWindow   time.Duration
	WebhookLimit   int
	WebhookWindow  time.Duration
}

// WorkerConfig holds background sweep intervals.
type WorkerConfig struct {
	ExpireInterval  time.Duration
	RefreshInterval time.Duration
	PollTimeout     time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RedirectURL is where the gateway sends the payer after checkout.
func (c AppConfig) RedirectURL() string { return c.FrontendURL + "/payment/success" }

// CancelURL is where the gateway sends the payer after an abandoned checkout.
func (c AppConfig) CancelURL() string { return c.FrontendURL + "/payment/cancel" }

// WebhookURL is the gateway callback.
func (c AppConfig) WebhookURL() string { return c.BackendURL + "/payments/webhook" }

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	paymentKey := getEnv("UDDOKTAPAY_API_KEY", "")
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "oriyet"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 20),
			MinConns:        getEnvInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
			Issuer:      getEnv("JWT_ISSUER", "oriyet"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "ap-south-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			CertificatesBucket:   getEnv("AWS_S3_CERTIFICATES_BUCKET", "oriyet-certificates"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@oriyet.org"),
			FromName:    getEnv("EMAIL_FROM_NAME", "ORIYET"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Payment: PaymentConfig{
			APIURL:        getEnv("UDDOKTAPAY_API_URL", "https://sandbox.uddoktapay.com/api/checkout-v2"),
			VerifyURL:     getEnv("UDDOKTAPAY_VERIFY_URL", "https://sandbox.uddoktapay.com/api/verify-payment"),
			APIKey:        paymentKey,
			WebhookAPIKey: getEnv("UDDOKTAPAY_WEBHOOK_API_KEY", paymentKey),
			Timeout:       getEnvDuration("UDDOKTAPAY_TIMEOUT", 30*time.Second),
			PendingTTL:    getEnvDuration("PAYMENT_PENDING_TTL", 30*time.Minute),
		},
		App: AppConfig{
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
			BackendURL:  getEnv("BACKEND_URL", "http://localhost:8080"),
		},
		RateLimit: RateLimitConfig{
			InitiateLimit:  getEnvInt("RATE_LIMIT_INITIATE", 5),
			InitiateWindow: getEnvDuration("RATE_LIMIT_INITIATE_WINDOW", 15*time.Minute),
			VerifyLimit:    getEnvInt("RATE_LIMIT_VERIFY", 10),
			VerifyWindow:   getEnvDuration("RATE_LIMIT_VERIFY_WINDOW", 5*time.Minute),
			WebhookLimit:   getEnvInt("RATE_LIMIT_WEBHOOK", 100),
			WebhookWindow:  getEnvDuration("RATE_LIMIT_WEBHOOK_WINDOW", time.Minute),
		},
		Worker: WorkerConfig{
			ExpireInterval:  getEnvDuration("WORKER_EXPIRE_INTERVAL", 5*time.Minute),
			RefreshInterval: getEnvDuration("WORKER_REFRESH_INTERVAL", 15*time.Minute),
			PollTimeout:     getEnvDuration("WORKER_POLL_TIMEOUT", 5*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env == "production" {
		if c.JWT.Secret == "change-me-in-production" || len(c.JWT.Secret) < 32 {
			return errors.New("JWT_SECRET must be set to at least 32 characters in production")
		}
		if c.Payment.APIKey == "" {
			return errors.New("UDDOKTAPAY_API_KEY is required in production")
		}
	}
	if c.Payment.PendingTTL <= 0 {
		return errors.New("PAYMENT_PENDING_TTL must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "15m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
