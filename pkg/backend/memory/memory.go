package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
)

// MemoryBackend implements storage.Backend using in-memory storage.
//
// This implementation stores all objects in a map. It's designed for:
//   - Testing and development
//   - Ephemeral storages (data lost on restart)
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Multiple concurrent readers
// are allowed, but writes are exclusive. Data and metadata are copied on the
// way in and out so callers never share buffers with the store.
type MemoryBackend struct {
	// objects stores data and metadata keyed by physical key
	objects map[string]object

	// mu protects concurrent access to objects
	mu sync.RWMutex
}

type object struct {
	data []byte
	meta *storage.FileMetadata
}

// NewMemoryBackend creates a new in-memory backend.
//
// Parameters:
//   - ctx: Context for cancellation (checked before initialization)
//
// Returns:
//   - *MemoryBackend: Initialized backend
//   - error: Only returns error if context is cancelled
func NewMemoryBackend(ctx context.Context) (*MemoryBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryBackend{
		objects: make(map[string]object),
	}, nil
}

func (b *MemoryBackend) Type() string { return "memory" }

func (b *MemoryBackend) Close() error { return nil }

// Put stores a copy of data and meta under key.
func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte, meta *storage.FileMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Wrap("put", key, err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	b.mu.Lock()
	b.objects[key] = object{data: buf, meta: meta.Clone()}
	b.mu.Unlock()

	return "memory://" + key, nil
}

// Get returns copies of the data and metadata stored under key.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Wrap("get", key, err)
	}

	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()

	if !ok {
		return nil, nil, storage.NewError(storage.ErrNotFound, "get", key, nil)
	}

	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.meta.Clone(), nil
}

func (b *MemoryBackend) Head(ctx context.Context, key string) (*storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("head", key, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, storage.NewError(storage.ErrNotFound, "head", key, nil)
	}
	return obj.meta.Clone(), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("delete", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return storage.NewError(storage.ErrNotFound, "delete", key, nil)
	}
	delete(b.objects, key)
	return nil
}

// List returns entries under prefix sorted by key.
func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	b.mu.RLock()
	entries := make([]storage.Entry, 0, len(b.objects))
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, storage.Entry{Key: key, Metadata: obj.meta.Clone()})
		}
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.Wrap("exists", key, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

// Stats returns the number of stored objects and their total payload size.
func (b *MemoryBackend) Stats() (count int, bytes int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, obj := range b.objects {
		bytes += int64(len(obj.data))
	}
	return len(b.objects), bytes
}
