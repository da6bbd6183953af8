package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Port           string
	PostgresURI    string
	RedisURI       string
	StorageBackend string
	WorkerCount    int
	SyncInterval   string
	SweepInterval  string
	SeedFile       string

	LogExcerptBytes int

	NotifyMaxRetries  int
	NotifyBaseBackoff time.Duration
	NotifyMaxBackoff  time.Duration

	NotifyHTTPTimeout time.Duration
}

var AppConfig *Config

func LoadConfig() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warn loading .env file")
	}

	AppConfig = FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		PostgresURI:    getEnv("POSTGRES_URI", "postgres://localhost:5432/catalog?sslmode=disable"),
		RedisURI:       getEnv("REDIS_URI", "redis://localhost:6379/0"),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendRedis),
		WorkerCount:    getEnvInt("WORKER_COUNT", 4),
		SyncInterval:   getEnv("SYNC_INTERVAL", "@every 15s"),
		SweepInterval:  getEnv("SWEEP_INTERVAL", "@every 1m"),
		SeedFile:       getEnv("SEED_FILE", ""),

		LogExcerptBytes: getEnvInt("LOG_EXCERPT_BYTES", 4096),

		NotifyMaxRetries:  getEnvInt("NOTIFY_MAX_RETRIES", 3),
		NotifyBaseBackoff: getEnvDuration("NOTIFY_BASE_BACKOFF", 500*time.Millisecond),
		NotifyMaxBackoff:  getEnvDuration("NOTIFY_MAX_BACKOFF", 10*time.Second),

		NotifyHTTPTimeout: getEnvDuration("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
	}

	if cfg.StorageBackend != BackendRedis && cfg.StorageBackend != BackendMemory {
		log.Printf("Warn unknown STORAGE_BACKEND %q, using %s", cfg.StorageBackend, BackendRedis)
		cfg.StorageBackend = BackendRedis
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.LogExcerptBytes <= 0 {
		cfg.LogExcerptBytes = 4096
	}
	if cfg.NotifyMaxRetries < 0 {
		cfg.NotifyMaxRetries = 0
	}
	return cfg
}
