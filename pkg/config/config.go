package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/dittostore/internal/retry"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/marmos91/dittostore/pkg/health"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// Config represents the complete dittostore configuration.
//
// This structure captures all configurable aspects of the service including:
//   - Logging configuration
//   - Server-wide settings (timeouts, metrics endpoint)
//   - Cache, retry, webhook, health and garbage collection defaults
//   - Named storages, each with a backend type and per-storage toggles
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. A storage carries one
// type-specific section (e.g. filesystem, s3) and only the section matching
// the selected type is used. Configuration is loaded once at startup and is
// never reloaded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Cache is the read-through cache applied to every storage unless overridden
	Cache cache.Config `mapstructure:"cache" yaml:"cache"`

	// Retry bounds the automatic retry of idempotent reads
	Retry retry.Policy `mapstructure:"retry" yaml:"retry"`

	// Webhooks configures asynchronous event delivery
	Webhooks webhook.Config `mapstructure:"webhooks" yaml:"webhooks"`

	// Health tunes the per-storage probes
	Health health.Config `mapstructure:"health" yaml:"health"`

	// GC configures the orphaned blob collector
	GC gc.Config `mapstructure:"gc" yaml:"gc"`

	// Storages maps a storage name to its configuration
	Storages map[string]StorageConfig `mapstructure:"storages" validate:"required,min=1,dive" yaml:"storages"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// OperationTimeout bounds every storage operation
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"required,gt=0" yaml:"operation_timeout"`

	// Metrics configures the observability HTTP endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of /metrics, /health and /stats
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// StorageConfig defines a single named storage.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific configuration section is used.
type StorageConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: memory, filesystem, s3, sql, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3 sql badger" yaml:"type"`

	// Versioning keeps every put as a new version
	Versioning bool `mapstructure:"versioning" yaml:"versioning"`

	// Deduplication stores identical content once
	Deduplication bool `mapstructure:"deduplication" yaml:"deduplication"`

	// Index selects where content records live: backend (default) or memory
	Index string `mapstructure:"index" validate:"omitempty,oneof=memory backend" yaml:"index,omitempty"`

	// Cache overrides fields of the global cache section for this storage
	Cache map[string]any `mapstructure:"cache" yaml:"cache,omitempty"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`

	// SQL contains relational backend configuration
	// Only used when Type = "sql"
	SQL map[string]any `mapstructure:"sql" yaml:"sql,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file
//  3. Default values
//
// A missing configuration file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOSTORE_ prefix and underscores
	// Example: DITTOSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittostore/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is tolerated too
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
