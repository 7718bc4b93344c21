package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	DefaultCurrency string
	PublicBaseURL   string // used to build the gateway notify URL
	ReturnURL       string

	CinetPayBaseURL   string
	CinetPayAPIKey    string
	CinetPaySiteID    string
	CinetPaySecretKey string

	UserServiceURL         string
	BookingServiceURL      string
	NotificationServiceURL string

	WebhookRetention     time.Duration
	WebhookSweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8010"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "wallet"),
		DBPassword: getEnv("DB_PASSWORD", "wallet"),
		DBName:     getEnv("DB_NAME", "wallet"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", ""),

		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "XOF"),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:8010"),
		ReturnURL:       getEnv("PAYMENT_RETURN_URL", ""),

		CinetPayBaseURL:   getEnv("CINETPAY_BASE_URL", ""),
		CinetPayAPIKey:    getEnv("CINETPAY_API_KEY", ""),
		CinetPaySiteID:    getEnv("CINETPAY_SITE_ID", ""),
		CinetPaySecretKey: getEnv("CINETPAY_SECRET_KEY", ""),

		UserServiceURL:         getEnv("USER_SERVICE_URL", "http://localhost:8001"),
		BookingServiceURL:      getEnv("BOOKING_SERVICE_URL", "http://localhost:8004"),
		NotificationServiceURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8006"),

		WebhookRetention:     getEnvDuration("WEBHOOK_RETENTION", 30*24*time.Hour),
		WebhookSweepInterval: getEnvDuration("WEBHOOK_SWEEP_INTERVAL", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
