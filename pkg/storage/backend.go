// Package storage defines the substrate-independent contract of the storage engine.
//
// A Backend is one physical substrate (object store, relational table, key-value
// store, local directory) behind a uniform put/get/delete/list/exists operation set.
// Backends hold no cross-backend state; one instance is created per configured
// storage name and addressed by physical keys chosen by the layers above.
package storage

import (
	"context"
	"time"
)

// ============================================================================
// Backend Interface
// ============================================================================

// Backend is the capability set every substrate implements.
//
// Physical keys are slash separated strings chosen by the version chain and
// content index; backends must treat them as opaque apart from prefix listing.
//
// Error contract:
//   - Missing keys return a *StoreError with ErrNotFound
//   - Deadline expiry returns ErrTimeout
//   - Substrate I/O failures return ErrInternal wrapping the native error
//
// Thread Safety:
// Implementations must be safe for concurrent use. Backends do not provide
// multi-key atomicity; the layers above serialize the narrow critical sections
// they need.
type Backend interface {
	// Put stores data and its metadata under key, replacing any previous value.
	//
	// Returns the physical location of the stored object (backend specific,
	// e.g. an s3:// URI or a file path). Cleanup of a partially completed
	// multi-step write is the responsibility of the implementation.
	Put(ctx context.Context, key string, data []byte, meta *FileMetadata) (string, error)

	// Get returns the bytes and metadata stored under key.
	//
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, *FileMetadata, error)

	// Head returns only the metadata stored under key.
	//
	// Returns ErrNotFound if the key does not exist.
	Head(ctx context.Context, key string) (*FileMetadata, error)

	// Delete removes key.
	//
	// Deleting an absent key returns ErrNotFound; callers treating delete as
	// idempotent check storage.IsNotFound.
	Delete(ctx context.Context, key string) error

	// List returns every entry whose key starts with prefix, ordered by key.
	// An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Type returns the backend kind ("memory", "filesystem", "s3", "sql", "badger").
	Type() string

	// Close releases resources held by the backend.
	Close() error
}

// ============================================================================
// Optional Capabilities
// ============================================================================

// Presigner is implemented by backends able to issue time-limited URLs that
// bypass the engine for direct download or upload.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)
}

// PresignGet issues a download URL if b supports it, ErrUnsupported otherwise.
func PresignGet(ctx context.Context, b Backend, key string, ttl time.Duration) (*PresignedURL, error) {
	p, ok := b.(Presigner)
	if !ok {
		return nil, NewError(ErrUnsupported, "presign_get", key, nil)
	}
	return p.PresignGet(ctx, key, ttl)
}

// PresignPut issues an upload URL if b supports it, ErrUnsupported otherwise.
func PresignPut(ctx context.Context, b Backend, key string, ttl time.Duration) (*PresignedURL, error) {
	p, ok := b.(Presigner)
	if !ok {
		return nil, NewError(ErrUnsupported, "presign_put", key, nil)
	}
	return p.PresignPut(ctx, key, ttl)
}
