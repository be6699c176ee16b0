package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittostore/internal/retry"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// DefaultStorageName is the storage created when none is configured.
const DefaultStorageName = "default"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyRetryDefaults(&cfg.Retry)
	applyWebhookDefaults(&cfg.Webhooks)
	applyGCDefaults(&cfg.GC)

	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 5 * time.Second
	}
	if cfg.Health.DegradedAfter == 0 {
		cfg.Health.DegradedAfter = 2 * time.Second
	}

	// Add a default storage if none configured
	if len(cfg.Storages) == 0 {
		cfg.Storages = map[string]StorageConfig{
			DefaultStorageName: {
				Type:          "filesystem",
				Versioning:    true,
				Deduplication: true,
				Filesystem:    map[string]any{"path": "/tmp/dittostore"},
			},
		}
	}

	for name, s := range cfg.Storages {
		applyStorageDefaults(&s)
		cfg.Storages[name] = s
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyCacheDefaults fills the cache section. An entirely empty section gets
// the cache defaults, enabled.
func applyCacheDefaults(cfg *cache.Config) {
	if *cfg == (cache.Config{}) {
		*cfg = cache.DefaultConfig()
		return
	}
	d := cache.DefaultConfig()
	if cfg.MaxCapacity == 0 {
		cfg.MaxCapacity = d.MaxCapacity
	}
}

func applyRetryDefaults(cfg *retry.Policy) {
	d := retry.DefaultPolicy()
	if cfg.Attempts == 0 {
		cfg.Attempts = d.Attempts
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = d.InitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = d.MaxDelay
	}
}

// applyWebhookDefaults fills the dispatcher tuning. Enabled is left as
// configured.
func applyWebhookDefaults(cfg *webhook.Config) {
	d := webhook.DefaultConfig()
	if cfg.Workers == 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Burst == 0 {
		cfg.Burst = d.Burst
	}
}

func applyGCDefaults(cfg *gc.Config) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultConfig().Interval
	}
}

// applyStorageDefaults sets per-storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Index == "" {
		cfg.Index = "backend"
	}

	switch cfg.Type {
	case "sql":
		if cfg.SQL == nil {
			cfg.SQL = make(map[string]any)
		}
		if _, ok := cfg.SQL["driver"]; !ok {
			cfg.SQL["driver"] = "libsql"
		}
	case "s3":
		if cfg.S3 == nil {
			cfg.S3 = make(map[string]any)
		}
		if _, ok := cfg.S3["region"]; !ok {
			cfg.S3["region"] = "us-east-1"
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Webhooks: webhook.DefaultConfig(),
		GC:       gc.DefaultConfig(),
		Server: ServerConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
