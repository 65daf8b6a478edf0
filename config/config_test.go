package config

import (
	"log/slog"
	"testing"
	"time"
)

const testSecret = "config-test-secret-with-32-chars!"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/schedule")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseBackend != "postgres" || cfg.EventPublisher != "log" || cfg.StoreBackend != "postgres" {
		t.Fatalf("unexpected backends %+v", cfg)
	}
	if cfg.DispatchInterval() != time.Second || cfg.RetryBaseDelay() != time.Minute || cfg.ConflictMinSlot() != 15*time.Minute {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("expected info level, got %s", cfg.SlogLevel())
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"redis lease without url", map[string]string{"LEASE_BACKEND": "redis"}},
		{"redis publisher without url", map[string]string{"EVENT_PUBLISHER": "redis"}},
		{"unknown lease backend", map[string]string{"LEASE_BACKEND": "etcd"}},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}},
		{"bad timezone", map[string]string{"DEFAULT_TIMEZONE": "Mars/Olympus"}},
		{"max delay below base", map[string]string{"RETRY_BASE_DELAY_SEC": "600", "RETRY_MAX_DELAY_SEC": "60"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/schedule")
			t.Setenv("JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LEASE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.SlogLevel())
	}
}
