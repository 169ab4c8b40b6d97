package config

import (
	"os"
	"testing"
	"time"

	"github.com/angelmondragon/ordersync/pkg/enums"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}

	if cfg.Stream.URL != "https://store.example.com/v1/orders/stream" {
		t.Fatalf("unexpected stream URL: %q", cfg.Stream.URL)
	}

	if got := cfg.Stream.ConnectTimeout; got != 5*time.Second {
		t.Fatalf("expected default connect timeout 5s, got %v", got)
	}

	if got := cfg.Stream.BackoffCap; got != 30*time.Second {
		t.Fatalf("expected default backoff cap 30s, got %v", got)
	}

	if got := cfg.Stream.AttemptCeiling; got != 5 {
		t.Fatalf("expected default attempt ceiling 5, got %d", got)
	}

	if got := cfg.Poller.Interval; got != 20*time.Second {
		t.Fatalf("expected default poll interval 20s, got %v", got)
	}

	if cfg.Store.BackendEnum() != enums.StoreBackendPebble {
		t.Fatalf("expected pebble default backend, got %s", cfg.Store.BackendEnum())
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvStreamURL); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvStreamURL, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_InvalidStoreBackend(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvStoreBackend, "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected invalid store backend to return an error")
	}
}

func TestLoad_RedisBackendRequiresAddress(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvStoreBackend, "redis")

	if _, err := Load(); err == nil {
		t.Fatal("expected redis backend without address to return an error")
	}

	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("expected redis backend with url to load: %v", err)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvStreamURL, "https://store.example.com/v1/orders/stream")
	t.Setenv(EnvRemoteBaseURL, "https://store.example.com")
	t.Setenv(EnvRemoteToken, "token-123")
	os.Unsetenv(EnvStoreBackend)
	os.Unsetenv(EnvRedisURL)
}
