package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/cache"
)

func TestCreateBackend_Memory(t *testing.T) {
	b, err := CreateBackend(context.Background(), StorageConfig{Type: "memory"}, nil)
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	defer func() { _ = b.Close() }()

	if b.Type() != "memory" {
		t.Errorf("Expected memory backend, got %q", b.Type())
	}
}

func TestCreateBackend_Filesystem(t *testing.T) {
	cfg := StorageConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": filepath.Join(t.TempDir(), "data")},
	}

	b, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem backend: %v", err)
	}
	defer func() { _ = b.Close() }()

	if b.Type() != "filesystem" {
		t.Errorf("Expected filesystem backend, got %q", b.Type())
	}
}

func TestCreateBackend_FilesystemMissingPath(t *testing.T) {
	_, err := CreateBackend(context.Background(), StorageConfig{Type: "filesystem"}, nil)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestCreateBackend_BadgerInMemory(t *testing.T) {
	cfg := StorageConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true, "ttl": "1h"},
	}

	b, err := CreateBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create badger backend: %v", err)
	}
	defer func() { _ = b.Close() }()

	if b.Type() != "badger" {
		t.Errorf("Expected badger backend, got %q", b.Type())
	}
}

func TestCreateBackend_S3MissingBucket(t *testing.T) {
	_, err := CreateBackend(context.Background(), StorageConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}, nil)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(context.Background(), StorageConfig{Type: "tape"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown type")
	}
}

func TestCreateBackend_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateBackend(ctx, StorageConfig{Type: "memory"}, nil)
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
}

func TestStorageCache(t *testing.T) {
	global := cache.DefaultConfig()

	got, err := storageCache(global, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != global {
		t.Errorf("Expected global cache config, got %+v", got)
	}

	got, err = storageCache(global, map[string]any{"enabled": false, "ttl": "5m"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Enabled || got.TTL != 5*time.Minute || got.MaxCapacity != global.MaxCapacity {
		t.Errorf("Unexpected override result %+v", got)
	}

	if _, err := storageCache(global, map[string]any{"ttl": "-1s"}); err == nil {
		t.Error("Expected error for negative ttl")
	}
}
