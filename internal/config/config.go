package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Shared secret the credential vault derives its AES key from.
	CredentialSecret string

	// JWT secret used to resolve the clinic user from bearer tokens.
	AuthJWTSecret string

	CORSAllowedOrigins []string

	// PMS adapter behaviour
	PMSRequestTimeout   time.Duration
	PMSRetryMaxAttempts int
	PMSRetryBaseDelay   time.Duration
	PMSConnectTestLimit time.Duration
	SyncBatchSize       int
	SyncLockTTL         time.Duration

	// Funding scheme defaults
	WCDefaultQuota  int
	EPCDefaultQuota int
	WCDefaultTags   []string
	EPCDefaultTags  []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CredentialSecret: getEnv("CREDENTIAL_SECRET", ""),
		AuthJWTSecret:    getEnv("AUTH_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		PMSRequestTimeout:   getEnvAsDuration("PMS_REQUEST_TIMEOUT", 30*time.Second),
		PMSRetryMaxAttempts: getEnvAsInt("PMS_RETRY_MAX_ATTEMPTS", 3),
		PMSRetryBaseDelay:   getEnvAsDuration("PMS_RETRY_BASE_DELAY", 500*time.Millisecond),
		PMSConnectTestLimit: getEnvAsDuration("PMS_CONNECT_TEST_TIMEOUT", 10*time.Second),
		SyncBatchSize:       getEnvAsInt("SYNC_BATCH_SIZE", 200),
		SyncLockTTL:         getEnvAsDuration("SYNC_LOCK_TTL", 10*time.Minute),

		WCDefaultQuota:  getEnvAsInt("WC_DEFAULT_QUOTA", 8),
		EPCDefaultQuota: getEnvAsInt("EPC_DEFAULT_QUOTA", 5),
		WCDefaultTags:   getEnvAsList("WC_DEFAULT_TAGS", []string{"WC"}),
		EPCDefaultTags:  getEnvAsList("EPC_DEFAULT_TAGS", []string{"EPC"}),
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
