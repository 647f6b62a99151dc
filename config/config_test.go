package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("SYNCKIT_API_BASE_URL", "https://api.seatwise.example")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.SyncDebounce != 2*time.Second {
		t.Errorf("SyncDebounce = %v, want 2s", cfg.SyncDebounce)
	}
	if cfg.SyncBatchThreshold != 10 {
		t.Errorf("SyncBatchThreshold = %d, want 10", cfg.SyncBatchThreshold)
	}
	if cfg.EnableCacheBroadcast {
		t.Error("EnableCacheBroadcast defaulted to true")
	}
	if cfg.ServiceName != "synckit" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SYNCKIT_API_BASE_URL", "https://api.seatwise.example")
	t.Setenv("SYNCKIT_ENABLE_CACHE_BROADCAST", "true")
	t.Setenv("SYNCKIT_SYNC_DEBOUNCE", "500ms")
	t.Setenv("SYNCKIT_SYNC_BATCH_THRESHOLD", "25")
	t.Setenv("SYNCKIT_DB_PATH", "/tmp/synckit.db")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.EnableCacheBroadcast {
		t.Error("EnableCacheBroadcast not read")
	}
	if cfg.SyncDebounce != 500*time.Millisecond {
		t.Errorf("SyncDebounce = %v, want 500ms", cfg.SyncDebounce)
	}
	if cfg.SyncBatchThreshold != 25 {
		t.Errorf("SyncBatchThreshold = %d, want 25", cfg.SyncBatchThreshold)
	}
	if cfg.DatabasePath != "/tmp/synckit.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
}

func TestFromEnv_MissingBaseURL(t *testing.T) {
	t.Setenv("SYNCKIT_API_BASE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv accepted a missing base URL")
	}
}

func TestFromEnv_BadValues(t *testing.T) {
	t.Setenv("SYNCKIT_API_BASE_URL", "https://api.seatwise.example")

	t.Setenv("SYNCKIT_SYNC_DEBOUNCE", "soon")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv accepted a bad duration")
	}
	t.Setenv("SYNCKIT_SYNC_DEBOUNCE", "")

	t.Setenv("SYNCKIT_ENABLE_CACHE_BROADCAST", "maybe")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv accepted a bad bool")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a bad URL")
	}

	cfg = Default()
	cfg.APIBaseURL = "https://api.seatwise.example"
	cfg.SyncDebounce = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a negative debounce")
	}
}
