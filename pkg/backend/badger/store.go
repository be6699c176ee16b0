// Package badger implements a storage.Backend on an embedded BadgerDB instance.
//
// Key Namespace:
//
//	"d:" + key  raw bytes
//	"m:" + key  JSON encoded storage.FileMetadata
//
// Both keys of an object are written in one transaction. When a TTL is
// configured every write carries it, turning the backend into a key-value
// store with expiry: objects disappear on their own once the TTL elapses.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

const (
	prefixData = "d:"
	prefixMeta = "m:"
)

// BadgerBackendConfig contains configuration for the badger backend.
type BadgerBackendConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the whole database in RAM (useful for tests).
	InMemory bool `mapstructure:"in_memory"`

	// TTL expires every object this long after its last write. 0 disables expiry.
	TTL time.Duration `mapstructure:"ttl"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// BadgerBackend implements storage.Backend using BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use; the backend adds no locks.
type BadgerBackend struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerBackend opens (or creates) the database described by cfg.
func NewBadgerBackend(ctx context.Context, cfg BadgerBackendConfig) (*BadgerBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger backend: path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.
		WithLogger(badgerLogger{}).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	logger.Info("Badger backend opened: path=%s in_memory=%v ttl=%s", cfg.Path, cfg.InMemory, cfg.TTL)

	return &BadgerBackend{db: db, ttl: cfg.TTL}, nil
}

func (b *BadgerBackend) Type() string { return "badger" }

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// Compact reclaims value log space. It runs until badger reports nothing left
// to rewrite or ctx is done.
func (b *BadgerBackend) Compact(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// translate maps badger errors onto the storage taxonomy.
func translate(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.NewError(storage.ErrNotFound, op, key, nil)
	case errors.Is(err, badger.ErrConflict):
		return storage.NewError(storage.ErrConflict, op, key, err)
	default:
		return storage.Wrap(op, key, err)
	}
}

// badgerLogger routes badger's own logging through the process logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { logger.Error("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { logger.Warn("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { logger.Debug("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { logger.Debug("badger: "+format, args...) }
