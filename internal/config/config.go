package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// UserAgent identifies the service to the upstream API.
	UserAgent = "zvuk-dl/1.0"

	// DefaultCacheDirName is the cache root used when TRI_CACHE is unset,
	// created under the working directory.
	DefaultCacheDirName = "TRICACHE"
)

// Config carries all environment-derived settings. It is loaded once at
// startup and threaded explicitly into constructors; nothing reads the
// environment afterwards.
// The tags carry the full TRI_* names and Load processes with an empty
// prefix: envconfig falls back to the bare tag name when the prefixed
// variable is unset, and a stray ambient CACHE or ZVUK_PORT must never
// leak into the service configuration.
type Config struct {
	// CacheDir is the cache root directory (TRI_CACHE).
	CacheDir string `envconfig:"TRI_CACHE"`
	// ZvukPort is the HTTP listen port (TRI_ZVUK_PORT).
	ZvukPort int `envconfig:"TRI_ZVUK_PORT" default:"3501"`
	// ZvukAPIURL is the upstream base URL, overridable for tests.
	ZvukAPIURL string `envconfig:"TRI_ZVUK_API_URL" default:"https://zvuk.com"`
	// PipelineTimeout bounds a single download pipeline end to end.
	PipelineTimeout time.Duration `envconfig:"TRI_ZVUK_TIMEOUT" default:"300s"`
	// UpstreamTimeout bounds individual upstream HTTP calls.
	UpstreamTimeout time.Duration `envconfig:"TRI_ZVUK_UPSTREAM_TIMEOUT" default:"30s"`
	// MaxConcurrentDownloads caps simultaneous downloads across all hashes.
	MaxConcurrentDownloads int64 `envconfig:"TRI_ZVUK_MAX_CONCURRENT" default:"4"`
	// MaxRetryAttempts is the coordinator's retry policy for transient
	// failures. 0 or 1 means a single attempt.
	MaxRetryAttempts int `envconfig:"TRI_ZVUK_RETRY_ATTEMPTS" default:"0"`
	// Debug enables verbose logging.
	Debug bool `envconfig:"TRI_ZVUK_DEBUG" default:"false"`
}

// Load reads the TRI_* environment and applies defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills derived defaults that envconfig cannot express.
func (cfg *Config) ApplyDefaults() error {
	if cfg.CacheDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.CacheDir = filepath.Join(wd, DefaultCacheDirName)
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 1
	}
	return nil
}

// Validate checks settings that would make the service unusable.
func (cfg *Config) Validate() error {
	if cfg.ZvukPort <= 0 || cfg.ZvukPort > 65535 {
		return fmt.Errorf("invalid port %d", cfg.ZvukPort)
	}
	if cfg.ZvukAPIURL == "" {
		return fmt.Errorf("upstream API URL must not be empty")
	}
	if cfg.PipelineTimeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}
	return nil
}
