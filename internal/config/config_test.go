package config

import (
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("SERVER_URL", "https://reader.example.com")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerURL != "https://reader.example.com" {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, "https://reader.example.com")
	}
}

func TestLoad_MissingServerURL_ReturnsError(t *testing.T) {
	t.Setenv("SERVER_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Username != "" {
		t.Errorf("Username = %q, want empty", cfg.Username)
	}
	if cfg.DBPath != "feedsync.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "feedsync.db")
	}
	if cfg.OfflineDays != 30 {
		t.Errorf("OfflineDays = %d, want %d", cfg.OfflineDays, 30)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want %v", cfg.SyncInterval, 5*time.Minute)
	}
	if cfg.SyncStaleness != 5*time.Minute {
		t.Errorf("SyncStaleness = %v, want %v", cfg.SyncStaleness, 5*time.Minute)
	}
	if cfg.ItemsPerPage != 50 {
		t.Errorf("ItemsPerPage = %d, want %d", cfg.ItemsPerPage, 50)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 10*time.Second)
	}
	if cfg.APIRateLimit != 5 {
		t.Errorf("APIRateLimit = %v, want %v", cfg.APIRateLimit, 5.0)
	}
	if cfg.ListenAddr != "127.0.0.1:8453" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "127.0.0.1:8453")
	}
}

func TestLoad_OverrideValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("USERNAME", "alice")
	t.Setenv("PASSWORD", "secret")
	t.Setenv("DB_PATH", "/var/lib/feedsync/offline.db")
	t.Setenv("OFFLINE_DAYS", "7")
	t.Setenv("SYNC_INTERVAL", "1m")
	t.Setenv("SYNC_STALENESS", "30s")
	t.Setenv("ITEMS_PER_PAGE", "20")
	t.Setenv("REQUEST_TIMEOUT", "30s")
	t.Setenv("API_RATE_LIMIT", "2.5")
	t.Setenv("LISTEN_ADDR", "0.0.0.0:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Username != "alice" {
		t.Errorf("Username = %q, want %q", cfg.Username, "alice")
	}
	if cfg.Password != "secret" {
		t.Errorf("Password = %q, want %q", cfg.Password, "secret")
	}
	if cfg.DBPath != "/var/lib/feedsync/offline.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/var/lib/feedsync/offline.db")
	}
	if cfg.OfflineDays != 7 {
		t.Errorf("OfflineDays = %d, want %d", cfg.OfflineDays, 7)
	}
	if cfg.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %v, want %v", cfg.SyncInterval, time.Minute)
	}
	if cfg.SyncStaleness != 30*time.Second {
		t.Errorf("SyncStaleness = %v, want %v", cfg.SyncStaleness, 30*time.Second)
	}
	if cfg.ItemsPerPage != 20 {
		t.Errorf("ItemsPerPage = %d, want %d", cfg.ItemsPerPage, 20)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 30*time.Second)
	}
	if cfg.APIRateLimit != 2.5 {
		t.Errorf("APIRateLimit = %v, want %v", cfg.APIRateLimit, 2.5)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "0.0.0.0:9000")
	}
}

func TestLoad_InvalidNumericValue_FallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("OFFLINE_DAYS", "not-a-number")
	t.Setenv("SYNC_INTERVAL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.OfflineDays != 30 {
		t.Errorf("OfflineDays = %d, want %d", cfg.OfflineDays, 30)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want %v", cfg.SyncInterval, 5*time.Minute)
	}
}
