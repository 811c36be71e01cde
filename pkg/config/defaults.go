// Package config provides centralized default values for the DropForge risk engine
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database
	DBDriver                 string
	DBPath                   string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	SlowQueryThreshold       time.Duration

	// Captcha Sessions
	SessionTTL         time.Duration
	DefaultMaxAttempts int

	// Rendering
	RenderConcurrency int
	ImageWidth        int
	ImageHeight       int

	// Enforcement
	UserFailureWindow    time.Duration
	UserFailureThreshold int
	IPFailureWindow      time.Duration
	IPFailureThreshold   int
	IPBlockDuration      time.Duration

	// Collision Detection
	RecentRegistrationWindow time.Duration

	// Service Auth
	ServiceJWTSecret string
	OpsPasswordHash  string
	AESEncryptionKey string

	// Alerts
	ResendAPIKey   string
	AlertFromEmail string
	AlertToEmail   string

	// Cleanup
	SessionCleanupInterval time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Database
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBPath = getEnvString("DB_PATH", "dropforge.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 50*time.Millisecond)

	// Captcha Sessions
	SessionTTL = getEnvDuration("CAPTCHA_SESSION_TTL", 5*time.Minute)
	DefaultMaxAttempts = getEnvInt("CAPTCHA_MAX_ATTEMPTS", 3)

	// Rendering
	RenderConcurrency = getEnvInt("RENDER_CONCURRENCY", 64)
	ImageWidth = getEnvInt("CAPTCHA_IMAGE_WIDTH", 280)
	ImageHeight = getEnvInt("CAPTCHA_IMAGE_HEIGHT", 100)

	// Enforcement
	UserFailureWindow = getEnvDuration("USER_FAILURE_WINDOW", time.Hour)
	UserFailureThreshold = getEnvInt("USER_FAILURE_THRESHOLD", 3)
	IPFailureWindow = getEnvDuration("IP_FAILURE_WINDOW", 30*time.Minute)
	IPFailureThreshold = getEnvInt("IP_FAILURE_THRESHOLD", 10)
	IPBlockDuration = getEnvDuration("IP_BLOCK_DURATION", time.Hour)

	// Collision Detection
	RecentRegistrationWindow = getEnvDuration("RECENT_REGISTRATION_WINDOW", 30*24*time.Hour)

	// Service Auth
	ServiceJWTSecret = getEnvString("SERVICE_JWT_SECRET", "")
	OpsPasswordHash = getEnvString("OPS_PASSWORD_HASH", "")
	AESEncryptionKey = getEnvString("AES_ENCRYPTION_KEY", "")

	// Alerts
	ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	AlertFromEmail = getEnvString("ALERT_FROM_EMAIL", "alerts@dropforge.app")
	AlertToEmail = getEnvString("ALERT_TO_EMAIL", "")

	// Cleanup
	SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute)
}
