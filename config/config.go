package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port            string
	ShutdownTimeout time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel string

	// Tenancy
	DefaultOrgID string

	// CORS
	CORSAllowedOrigins []string

	// Storage
	StorageType        string // local or s3
	StorageLocalPath   string
	AWSRegion          string
	S3Bucket           string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Endpoint         string

	// Commission rules
	SplitRulesPath string
	RemainderRule  string // overrides the rules file when set

	// Scheduled history sync
	SyncEnabled  bool
	SyncSchedule string

	// Upload pipeline
	UploadQueueSize     int
	UploadSweepInterval time.Duration
}

// Load loads configuration from environment variables. Call LoadDotEnv first
// to pick up a .env file.
func Load() *Config {
	return &Config{
		// Server
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		// Database
		DBPath: getEnv("DB_PATH", "./data/brokerage.db"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tenancy
		DefaultOrgID: getEnv("DEFAULT_ORG_ID", "default"),

		// CORS
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		// Storage
		StorageType:        getEnv("STORAGE_TYPE", "local"),
		StorageLocalPath:   getEnv("STORAGE_LOCAL_PATH", "./data/blobs"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),

		// Commission rules
		SplitRulesPath: getEnv("SPLIT_RULES_PATH", ""),
		RemainderRule:  getEnv("REMAINDER_RULE", ""),

		// Sync
		SyncEnabled:  getEnvAsBool("SYNC_ENABLED", false),
		SyncSchedule: getEnv("SYNC_SCHEDULE", "0 2 * * *"),

		// Uploads
		UploadQueueSize:     getEnvAsInt("UPLOAD_QUEUE_SIZE", 64),
		UploadSweepInterval: getEnvAsDuration("UPLOAD_SWEEP_INTERVAL", time.Minute),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
