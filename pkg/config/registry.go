package config

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/registry"
)

// InitializeRegistry creates a fully configured Registry from the provided configuration.
//
// Every storage in cfg.Storages is built once, in name order: its backend is
// created by CreateBackend, then wrapped with its chain, index and cache and
// registered. If any storage fails, the ones already built are closed.
//
// m supplies the metrics collectors; nil disables them.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
func InitializeRegistry(ctx context.Context, cfg *Config, m *MetricsResult) (reg *registry.Registry, err error) {
	logger.Debug("Initializing registry from configuration")

	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if len(cfg.Storages) == 0 {
		return nil, fmt.Errorf("no storages configured: at least one storage is required")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	reg = registry.NewRegistry()
	defer func() {
		if err != nil {
			err = multierr.Append(err, reg.Close())
			reg = nil
		}
	}()

	names := make([]string, 0, len(cfg.Storages))
	for name := range cfg.Storages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := registerStorage(ctx, reg, cfg, name, m); err != nil {
			return reg, fmt.Errorf("failed to register storage %q: %w", name, err)
		}
	}

	logger.Debug("Registered %d storage(s)", reg.Count())
	return reg, nil
}

// registerStorage creates one storage and adds it to reg.
func registerStorage(ctx context.Context, reg *registry.Registry, cfg *Config, name string, m *MetricsResult) error {
	storeCfg := cfg.Storages[name]
	logger.Debug("Creating storage %q (type: %s)", name, storeCfg.Type)

	cacheCfg, err := storageCache(cfg.Cache, storeCfg.Cache)
	if err != nil {
		return err
	}

	backend, err := CreateBackend(ctx, storeCfg, m.S3)
	if err != nil {
		return err
	}

	s, err := registry.NewStorage(ctx, registry.StorageConfig{
		Name:          name,
		Versioning:    storeCfg.Versioning,
		Deduplication: storeCfg.Deduplication,
		IndexKind:     storeCfg.Index,
		Cache:         cacheCfg,
		CacheMetrics:  m.Cache,
	}, backend)
	if err != nil {
		return multierr.Append(err, backend.Close())
	}

	if err := reg.Register(s); err != nil {
		return multierr.Append(err, s.Close())
	}
	return nil
}
