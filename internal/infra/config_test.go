package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("PUBLIC_STORAGE_BASE", "")
	t.Setenv("LIPSYNC_POLL_INTERVAL_SECONDS", "")
	t.Setenv("LIPSYNC_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicStorageBase != "http://localhost:8080" {
		t.Fatalf("PublicStorageBase mismatch: got %q", cfg.PublicStorageBase)
	}
	if cfg.LipSyncPollInterval != 3*time.Second {
		t.Fatalf("LipSyncPollInterval = %s, want 3s", cfg.LipSyncPollInterval)
	}
	if cfg.LipSyncTimeout != 10*time.Minute {
		t.Fatalf("LipSyncTimeout = %s, want 10m", cfg.LipSyncTimeout)
	}
	if cfg.AudioBucket != "ugc-audio" || cfg.VideoBucket != "ugc-video" {
		t.Fatalf("bucket defaults mismatch: %q %q", cfg.AudioBucket, cfg.VideoBucket)
	}
	if cfg.EventBus != EventBusMemory || cfg.StorageDriver != StorageDriverFilesystem {
		t.Fatalf("driver defaults mismatch: bus=%q storage=%q", cfg.EventBus, cfg.StorageDriver)
	}
}

func TestLoadConfigInheritsPortInPublicStorageBase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_STORAGE_BASE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicStorageBase != "http://localhost:1919" {
		t.Fatalf("PublicStorageBase mismatch: got %q", cfg.PublicStorageBase)
	}
}

func TestLoadConfigTrimsExplicitPublicStorageBase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PUBLIC_STORAGE_BASE", "https://abc.supabase.co/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicStorageBase != "https://abc.supabase.co" {
		t.Fatalf("PublicStorageBase mismatch: got %q", cfg.PublicStorageBase)
	}
}

func TestLoadConfigMemoryDriverNeedsCatalog(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ACTOR_CATALOG_PATH", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error without ACTOR_CATALOG_PATH")
	}

	t.Setenv("ACTOR_CATALOG_PATH", "actors.yaml")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver = %q", cfg.StoreDriver)
	}
}

func TestLoadConfigRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("EVENT_BUS", "kafka")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for EVENT_BUS=kafka")
	}

	t.Setenv("EVENT_BUS", "redis")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_ENDPOINT", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for s3 without endpoint")
	}
}

func TestLoadConfigClampsWorkerConcurrency(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("EMBEDDED_WORKER", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Fatalf("WorkerConcurrency = %d, want 1", cfg.WorkerConcurrency)
	}
	if !cfg.EmbeddedWorker {
		t.Fatalf("EmbeddedWorker should be true")
	}
}

func TestLoadConfigSplitsCORSOrigins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORSAllowedOrigins = %q", cfg.CORSAllowedOrigins)
	}
}
