package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Env         string
	AuthKey     string
	Host        string

	// ServerID identifies this instance on the relay channel. Empty means
	// main generates one at startup.
	ServerID string

	RelayChannel    string
	RelayMaxRetries int
	RelayRetryBase  time.Duration

	// RetentionDays prunes public history older than this many days; 0 disables.
	RetentionDays int

	// DeleteRequireOwner rejects deletes issued by anyone other than the
	// original sender. Off by default to preserve the historical behavior;
	// every delete is logged with the requester either way.
	DeleteRequireOwner bool

	// AuthRequired gates the websocket upgrade behind a valid chat ticket.
	AuthRequired bool
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("APP_ENV", "development"),
		AuthKey:            getEnv("AUTH_KEY", ""),
		Host:               getEnv("HOST", "localhost"),
		ServerID:           getEnv("SERVER_ID", ""),
		RelayChannel:       getEnv("RELAY_CHANNEL", "chat-messages"),
		RelayMaxRetries:    getEnvInt("RELAY_MAX_RETRIES", 8),
		RelayRetryBase:     getEnvDuration("RELAY_RETRY_BASE", 100*time.Millisecond),
		RetentionDays:      getEnvInt("RETENTION_DAYS", 0),
		DeleteRequireOwner: getEnvBool("DELETE_REQUIRE_OWNER", false),
		AuthRequired:       getEnvBool("AUTH_REQUIRED", false),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)

	if cfg.DatabaseURL == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: DATABASE_URL is missing. Server cannot start.")
	} else {
		maskedDB := maskDBSource(cfg.DatabaseURL)
		log.Printf("[CONFIG] Database URL detected: %s", maskedDB)
	}

	if cfg.AuthKey == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: AUTH_KEY (JWT Secret) is missing. Security cannot be initialized.")
	} else {
		log.Println("[CONFIG] ✅ AUTH_KEY loaded successfully")
	}

	if cfg.RedisURL == "" {
		log.Println("[CONFIG] ⚠️  REDIS_URL not set. Relay disabled, running in direct fan-out mode.")
	}

	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not an integer (%q), using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a boolean (%q), using default: %v", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a duration (%q), using default: %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}
