package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	EventBusMemory = "memory"
	EventBusRedis  = "redis"

	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoreDriver string
	EventBus    string
	RedisURL    string

	FalAPIKey        string
	FalBaseURL       string
	WavespeedAPIKey  string
	WavespeedBaseURL string

	StorageDriver     string
	StoragePath       string
	PublicStorageBase string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	AudioBucket       string
	VideoBucket       string

	WorkerConcurrency   int
	EmbeddedWorker      bool
	JobPollInterval     time.Duration
	LipSyncPollInterval time.Duration
	LipSyncTimeout      time.Duration

	ActorCatalogPath   string
	GeoIPDBPath        string
	CORSAllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		EventBus:    strings.ToLower(getEnv("EVENT_BUS", EventBusMemory)),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		FalAPIKey:        os.Getenv("FAL_API_KEY"),
		FalBaseURL:       getEnv("FAL_BASE_URL", "https://fal.run"),
		WavespeedAPIKey:  os.Getenv("WAVESPEED_API_KEY"),
		WavespeedBaseURL: getEnv("WAVESPEED_BASE_URL", "https://api.wavespeed.ai"),

		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		PublicStorageBase: strings.TrimRight(getEnv("PUBLIC_STORAGE_BASE", "http://localhost:"+port), "/"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		AudioBucket:       getEnv("AUDIO_BUCKET", "ugc-audio"),
		VideoBucket:       getEnv("VIDEO_BUCKET", "ugc-video"),

		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		EmbeddedWorker:      getEnvBool("EMBEDDED_WORKER", false),
		JobPollInterval:     time.Millisecond * time.Duration(getEnvInt("JOB_POLL_INTERVAL_MS", 2000)),
		LipSyncPollInterval: time.Second * time.Duration(getEnvInt("LIPSYNC_POLL_INTERVAL_SECONDS", 3)),
		LipSyncTimeout:      time.Second * time.Duration(getEnvInt("LIPSYNC_TIMEOUT_SECONDS", 600)),

		ActorCatalogPath:   os.Getenv("ACTOR_CATALOG_PATH"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
		if cfg.ActorCatalogPath == "" {
			return nil, fmt.Errorf("ACTOR_CATALOG_PATH is required when STORE_DRIVER=memory")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis:
	default:
		return nil, fmt.Errorf("unsupported EVENT_BUS %q", cfg.EventBus)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverS3:
		if cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("S3_ENDPOINT is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
