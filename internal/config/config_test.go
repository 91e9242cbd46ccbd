package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRI_CACHE",
		"TRI_ZVUK_PORT",
		"TRI_ZVUK_API_URL",
		"TRI_ZVUK_TIMEOUT",
		"TRI_ZVUK_UPSTREAM_TIMEOUT",
		"TRI_ZVUK_MAX_CONCURRENT",
		"TRI_ZVUK_RETRY_ATTEMPTS",
		"TRI_ZVUK_DEBUG",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ZvukPort != 3501 {
		t.Errorf("ZvukPort = %d, want 3501", cfg.ZvukPort)
	}
	if cfg.ZvukAPIURL != "https://zvuk.com" {
		t.Errorf("ZvukAPIURL = %q", cfg.ZvukAPIURL)
	}
	if cfg.PipelineTimeout != 300*time.Second {
		t.Errorf("PipelineTimeout = %v, want 300s", cfg.PipelineTimeout)
	}
	if cfg.MaxConcurrentDownloads != 4 {
		t.Errorf("MaxConcurrentDownloads = %d, want 4", cfg.MaxConcurrentDownloads)
	}
	if cfg.MaxRetryAttempts != 0 {
		t.Errorf("MaxRetryAttempts = %d, want 0", cfg.MaxRetryAttempts)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(wd, DefaultCacheDirName); cfg.CacheDir != want {
		t.Errorf("CacheDir = %q, want %q", cfg.CacheDir, want)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRI_CACHE", "/srv/tricache")
	t.Setenv("TRI_ZVUK_PORT", "8080")
	t.Setenv("TRI_ZVUK_TIMEOUT", "30s")
	t.Setenv("TRI_ZVUK_MAX_CONCURRENT", "2")
	t.Setenv("TRI_ZVUK_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CacheDir != "/srv/tricache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.ZvukPort != 8080 {
		t.Errorf("ZvukPort = %d", cfg.ZvukPort)
	}
	if cfg.PipelineTimeout != 30*time.Second {
		t.Errorf("PipelineTimeout = %v", cfg.PipelineTimeout)
	}
	if cfg.MaxConcurrentDownloads != 2 {
		t.Errorf("MaxConcurrentDownloads = %d", cfg.MaxConcurrentDownloads)
	}
	if !cfg.Debug {
		t.Error("Debug not set")
	}
}

func TestLoadIgnoresUnprefixedVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE", "/stray/cache")
	t.Setenv("ZVUK_PORT", "9999")
	t.Setenv("ZVUK_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CacheDir == "/stray/cache" {
		t.Error("ambient CACHE leaked into CacheDir")
	}
	if cfg.ZvukPort != 3501 {
		t.Errorf("ambient ZVUK_PORT leaked: port = %d", cfg.ZvukPort)
	}
	if cfg.Debug {
		t.Error("ambient ZVUK_DEBUG leaked")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{ZvukPort: 3501, ZvukAPIURL: "https://zvuk.com", PipelineTimeout: time.Minute}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := []*Config{
		{ZvukPort: 0, ZvukAPIURL: "https://zvuk.com", PipelineTimeout: time.Minute},
		{ZvukPort: 70000, ZvukAPIURL: "https://zvuk.com", PipelineTimeout: time.Minute},
		{ZvukPort: 3501, ZvukAPIURL: "", PipelineTimeout: time.Minute},
		{ZvukPort: 3501, ZvukAPIURL: "https://zvuk.com", PipelineTimeout: 0},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}

func TestApplyDefaultsClampsConcurrency(t *testing.T) {
	cfg := &Config{CacheDir: "/srv/tricache", MaxConcurrentDownloads: -3}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 1 {
		t.Errorf("MaxConcurrentDownloads = %d, want 1", cfg.MaxConcurrentDownloads)
	}
}
