package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseDriver string // postgres or sqlite
	DatabaseURL    string

	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	// Overrides for tests and local emulators; empty means Google's defaults.
	GoogleTokenURL   string
	GmailAPIEndpoint string

	// TOKEN_ENCRYPTION_KEY: 64 hex chars or base64 of 32 bytes.
	TokenEncryptionKey string

	SyncInterval    time.Duration
	SyncMaxMessages int
	SyncLockTTL     time.Duration
	SyncRateLimit   time.Duration
	GmailBatchSize  int
	GmailBatchDelay time.Duration

	GoogleProjectID     string
	GooglePubSubTopic   string
	GoogleCredentials   string
	FirebaseCredentials string

	TaskReminderInterval time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mailsync port=5432 sslmode=disable"),

		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTAccessExpiry:  getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		JWTRefreshExpiry: getDuration("JWT_REFRESH_EXPIRY", 168*time.Hour), // 7 days

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:5173/auth/google/callback"),
		GoogleTokenURL:     getEnv("GOOGLE_TOKEN_URL", ""),
		GmailAPIEndpoint:   getEnv("GMAIL_API_ENDPOINT", ""),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		SyncInterval:    getDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncMaxMessages: getInt("SYNC_MAX_MESSAGES", 500),
		SyncLockTTL:     getDuration("SYNC_LOCK_TTL", 30*time.Minute),
		SyncRateLimit:   getDuration("SYNC_RATE_LIMIT", 30*time.Second),
		GmailBatchSize:  getInt("GMAIL_BATCH_SIZE", 10),
		GmailBatchDelay: getDuration("GMAIL_BATCH_DELAY", 100*time.Millisecond),

		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GoogleCredentials:   getEnv("GOOGLE_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		TaskReminderInterval: getDuration("TASK_REMINDER_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
