package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Chart persistence: memory, postgres, redis or dynamodb.
	ChartStore             string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisTLS               bool
	ChartsTable            string
	DefaultNumberingScheme string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ExportBucket        string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	ExportRatePerSec   float64
	ExportRateBurst    int

	// Clinic operations scheduler
	SchedulerEnabled     bool
	NoShowInterval       time.Duration
	NoShowGrace          time.Duration
	QueueRefreshInterval time.Duration
	ReminderInterval     time.Duration
	ReminderLeadTime     time.Duration

	// Reminder email
	EmailProvider    string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	ClinicName       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ChartStore:             strings.ToLower(strings.TrimSpace(getEnv("CHART_STORE", "memory"))),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisTLS:               getEnvAsBool("REDIS_TLS", false),
		ChartsTable:            getEnv("CHARTS_TABLE", "dental_charts"),
		DefaultNumberingScheme: strings.ToLower(getEnv("DEFAULT_NUMBERING_SCHEME", "universal")),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ExportBucket:        getEnv("EXPORT_BUCKET", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ExportRatePerSec:   getEnvAsFloat("EXPORT_RATE_PER_SEC", 1),
		ExportRateBurst:    getEnvAsInt("EXPORT_RATE_BURST", 5),

		SchedulerEnabled:     getEnvAsBool("SCHEDULER_ENABLED", false),
		NoShowInterval:       getEnvAsDuration("NO_SHOW_INTERVAL", 5*time.Minute),
		NoShowGrace:          getEnvAsDuration("NO_SHOW_GRACE", 30*time.Minute),
		QueueRefreshInterval: getEnvAsDuration("QUEUE_REFRESH_INTERVAL", 30*time.Second),
		ReminderInterval:     getEnvAsDuration("REMINDER_INTERVAL", 15*time.Minute),
		ReminderLeadTime:     getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Dental Clinic"),
		ClinicName:       getEnv("CLINIC_NAME", "our clinic"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
