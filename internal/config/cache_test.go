package config

import (
	"errors"
	"os"
	"testing"
)

func TestCacheMemoizesFirstLoad(t *testing.T) {
	path := writeConfigFile(t, "power.config.json", `{"environmentId": "abc-123"}`)
	cache := NewCache(path)

	first, err := cache.Load()
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	// Removing the file proves the second call never touches disk.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}

	second, err := cache.Load()
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Error("expected the identical cached record on repeated loads")
	}
}

func TestCacheInvalidateForcesReread(t *testing.T) {
	path := writeConfigFile(t, "power.config.json", `{"environmentId": "abc-123"}`)
	cache := NewCache(path)

	first, err := cache.Load()
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	cache.Invalidate()
	if cache.Loaded() {
		t.Fatal("expected empty slot after invalidation")
	}

	second, err := cache.Load()
	if err != nil {
		t.Fatalf("load after invalidate: %v", err)
	}
	if first == second {
		t.Error("expected a fresh record after invalidation, got the old pointer")
	}
	if second.EnvironmentID != "abc-123" {
		t.Errorf("EnvironmentID = %q, want abc-123", second.EnvironmentID)
	}
}

func TestCacheInvalidatePicksUpNewContent(t *testing.T) {
	path := writeConfigFile(t, "power.config.json", `{"environmentId": "abc-123"}`)
	cache := NewCache(path)

	if _, err := cache.Load(); err != nil {
		t.Fatalf("first load: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"environmentId": "def-456"}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// Without invalidation, the stale record keeps being served.
	stale, err := cache.Load()
	if err != nil {
		t.Fatalf("stale load: %v", err)
	}
	if stale.EnvironmentID != "abc-123" {
		t.Errorf("expected stale record before invalidation, got %q", stale.EnvironmentID)
	}

	cache.Invalidate()
	fresh, err := cache.Load()
	if err != nil {
		t.Fatalf("fresh load: %v", err)
	}
	if fresh.EnvironmentID != "def-456" {
		t.Errorf("EnvironmentID = %q, want def-456", fresh.EnvironmentID)
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	path := writeConfigFile(t, "power.config.json", `{"environmentId": ""}`)
	cache := NewCache(path)

	if _, err := cache.Load(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if cache.Loaded() {
		t.Fatal("failed load must not populate the slot")
	}

	// Fixing the file must succeed without an explicit invalidation.
	if err := os.WriteFile(path, []byte(`{"environmentId": "abc-123"}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	cfg, err := cache.Load()
	if err != nil {
		t.Fatalf("load after fix: %v", err)
	}
	if cfg.EnvironmentID != "abc-123" {
		t.Errorf("EnvironmentID = %q, want abc-123", cfg.EnvironmentID)
	}
}
