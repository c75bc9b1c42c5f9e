// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration shared by the API and worker processes.
type Config struct {
	// Server
	HTTPPort string
	Env      string // development, production

	// Logging
	LogLevel  string
	LogFormat string

	// Datastores
	DatabaseURL string
	RedisAddr   string

	// Blob storage
	StorageBackend   string // local, s3
	StorageLocalRoot string
	S3Endpoint       string
	S3Bucket         string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         bool

	// Converter (external rendering engine)
	ConverterBaseURL string

	// Render queue
	MaxRenderTimeout  time.Duration // hard per-job timeout enforced by the queue
	ResultTTL         time.Duration // how long completed task state is retained
	FailureTTL        time.Duration // how long archived (failed) tasks survive the worker's sweep
	ArtifactTTL       time.Duration // local artifacts older than this are swept; 0 keeps them forever
	WorkerConcurrency int

	// CORS
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables, with .env.local
// as an optional local override file.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Env:      getEnv("APP_ENV", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "127.0.0.1:6379"),

		StorageBackend:   getEnv("STORAGE_BACKEND", "local"),
		StorageLocalRoot: getEnv("STORAGE_LOCAL_ROOT", "./storage"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:         getEnvAsBool("S3_USE_SSL", true),

		ConverterBaseURL: getEnv("CONVERTER_BASE_URL", "http://localhost:9090"),

		MaxRenderTimeout:  getEnvAsDuration("MAX_RENDER_TIMEOUT_SECONDS", 300*time.Second),
		ResultTTL:         getEnvAsDuration("JOB_RESULT_TTL_SECONDS", time.Hour),
		FailureTTL:        getEnvAsDuration("JOB_FAILURE_TTL_SECONDS", 24*time.Hour),
		ArtifactTTL:       getEnvAsDuration("ARTIFACT_TTL_SECONDS", 0),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),

		CORSAllowedOrigins: getEnvAsCSV("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	switch c.StorageBackend {
	case "local":
		if c.StorageLocalRoot == "" {
			return fmt.Errorf("STORAGE_LOCAL_ROOT is required for the local backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
		if c.S3Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required for the s3 backend")
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}

	if c.MaxRenderTimeout <= 0 {
		return fmt.Errorf("MAX_RENDER_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

func getEnv(key string, defaultValue string) string {
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

func getEnvAsCSV(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(valueStr)
	if err != nil || seconds <= 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
