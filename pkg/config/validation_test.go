package config

import (
	"strings"
	"testing"

	"github.com/marmos91/dittostore/pkg/webhook"
)

func validConfig() *Config {
	cfg := &Config{Storages: map[string]StorageConfig{"docs": {Type: "memory"}}}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		want   string
	}{
		{
			name:   "invalid log level",
			mutate: func(cfg *Config) { cfg.Logging.Level = "TRACE" },
			want:   "Level",
		},
		{
			name:   "invalid log format",
			mutate: func(cfg *Config) { cfg.Logging.Format = "xml" },
			want:   "Format",
		},
		{
			name:   "zero operation timeout",
			mutate: func(cfg *Config) { cfg.Server.OperationTimeout = 0 },
			want:   "OperationTimeout",
		},
		{
			name:   "unknown storage type",
			mutate: func(cfg *Config) { cfg.Storages["docs"] = StorageConfig{Type: "tape", Index: "backend"} },
			want:   "Type",
		},
		{
			name:   "unknown index kind",
			mutate: func(cfg *Config) { cfg.Storages["docs"] = StorageConfig{Type: "memory", Index: "redis"} },
			want:   "Index",
		},
		{
			name: "filesystem without path",
			mutate: func(cfg *Config) {
				cfg.Storages["docs"] = StorageConfig{Type: "filesystem", Index: "backend"}
			},
			want: "filesystem.path",
		},
		{
			name:   "s3 without bucket",
			mutate: func(cfg *Config) { cfg.Storages["docs"] = StorageConfig{Type: "s3", Index: "backend"} },
			want:   "s3.bucket",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *Config) {
				cfg.Storages["docs"] = StorageConfig{Type: "sql", Index: "backend", SQL: map[string]any{"driver": "postgres"}}
			},
			want: "sql.dsn",
		},
		{
			name: "unknown sql driver",
			mutate: func(cfg *Config) {
				cfg.Storages["docs"] = StorageConfig{Type: "sql", Index: "backend", SQL: map[string]any{"driver": "oracle"}}
			},
			want: "unknown sql driver",
		},
		{
			name:   "badger without path",
			mutate: func(cfg *Config) { cfg.Storages["docs"] = StorageConfig{Type: "badger", Index: "backend"} },
			want:   "badger.path",
		},
		{
			name: "badger ttl with deduplication",
			mutate: func(cfg *Config) {
				cfg.Storages["docs"] = StorageConfig{
					Type: "badger", Index: "backend", Deduplication: true,
					Badger: map[string]any{"in_memory": true, "ttl": "1h"},
				}
			},
			want: "badger.ttl",
		},
		{
			name: "badger ttl with versioning",
			mutate: func(cfg *Config) {
				cfg.Storages["docs"] = StorageConfig{
					Type: "badger", Index: "backend", Versioning: true,
					Badger: map[string]any{"in_memory": true, "ttl": "30m"},
				}
			},
			want: "badger.ttl",
		},
		{
			name:   "storage name with separator",
			mutate: func(cfg *Config) { cfg.Storages["a:b"] = StorageConfig{Type: "memory", Index: "backend"} },
			want:   "invalid storage name",
		},
		{
			name:   "no storages",
			mutate: func(cfg *Config) { cfg.Storages = map[string]StorageConfig{} },
			want:   "Storages",
		},
		{
			name: "hook without url",
			mutate: func(cfg *Config) {
				cfg.Webhooks.Hooks = []webhook.Hook{{ID: "a", Events: []webhook.EventKind{webhook.Uploaded}}}
			},
			want: "URL",
		},
		{
			name: "duplicate hook ids",
			mutate: func(cfg *Config) {
				h := webhook.Hook{ID: "a", URL: "https://example.com", Events: []webhook.EventKind{webhook.Uploaded}}
				cfg.Webhooks.Hooks = []webhook.Hook{h, h}
			},
			want: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_BadgerInMemory(t *testing.T) {
	cfg := validConfig()
	cfg.Storages["docs"] = StorageConfig{Type: "badger", Index: "backend", Badger: map[string]any{"in_memory": true}}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected in-memory badger to be valid, got: %v", err)
	}
}

func TestValidate_BadgerTTLOnPlainStorage(t *testing.T) {
	cfg := validConfig()
	cfg.Storages["cache"] = StorageConfig{
		Type:   "badger",
		Index:  "backend",
		Badger: map[string]any{"in_memory": true, "ttl": "1h"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected badger ttl without versioning or deduplication to be valid, got: %v", err)
	}
}
