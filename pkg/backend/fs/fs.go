// Package fs implements a storage.Backend on the local filesystem.
//
// Layout under the base directory:
//
//	data/<key>        raw bytes
//	meta/<key>.json   JSON encoded storage.FileMetadata
//	.lock             advisory lock held while the backend is open
//
// Both files are written to a temporary sibling and renamed into place, so a
// reader never observes a partially written object.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

const metaSuffix = ".json"

// FSBackend implements storage.Backend using the local filesystem.
//
// Thread Safety:
// Distinct keys can be written concurrently. Writes to the same key are last
// writer wins thanks to rename; the layers above serialize same-key mutations.
// The base directory is locked with an advisory file lock so two processes
// cannot open the same backend.
type FSBackend struct {
	basePath string
	lock     *flock.Flock
}

// NewFSBackend creates the directory layout under basePath and acquires its lock.
//
// Parameters:
//   - ctx: Context for cancellation
//   - basePath: Root directory of the backend
//
// Returns:
//   - *FSBackend: Initialized backend
//   - error: If the directories cannot be created or the lock is held elsewhere
func NewFSBackend(ctx context.Context, basePath string) (*FSBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if basePath == "" {
		return nil, fmt.Errorf("filesystem backend: path is required")
	}

	for _, dir := range []string{basePath, filepath.Join(basePath, "data"), filepath.Join(basePath, "meta")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	lock := flock.New(filepath.Join(basePath, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", basePath, err)
	}
	if !locked {
		return nil, storage.Errorf(storage.ErrConflict, "open", basePath, "filesystem backend is in use by another process")
	}

	logger.Debug("Filesystem backend opened: %s", basePath)

	return &FSBackend{basePath: basePath, lock: lock}, nil
}

func (b *FSBackend) Type() string { return "filesystem" }

// Close releases the directory lock.
func (b *FSBackend) Close() error {
	return b.lock.Unlock()
}

// dataPath and metaPath map a key onto the two trees. Keys are validated
// so they can never escape the base directory.
func (b *FSBackend) dataPath(key string) string {
	return filepath.Join(b.basePath, "data", filepath.FromSlash(key))
}

func (b *FSBackend) metaPath(key string) string {
	return filepath.Join(b.basePath, "meta", filepath.FromSlash(key)+metaSuffix)
}

func checkKey(op, key string) error {
	if err := storage.ValidateName(key); err != nil {
		return storage.Wrap(op, key, err)
	}
	return nil
}

func (b *FSBackend) Put(ctx context.Context, key string, data []byte, meta *storage.FileMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Wrap("put", key, err)
	}
	if err := checkKey("put", key); err != nil {
		return "", err
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", storage.Wrap("put", key, err)
	}

	dataPath := b.dataPath(key)

	// Data first, metadata last: an object becomes visible to List only once
	// its metadata exists.
	if err := writeFileAtomic(dataPath, data); err != nil {
		return "", storage.Wrap("put", key, err)
	}
	if err := writeFileAtomic(b.metaPath(key), encoded); err != nil {
		return "", storage.Wrap("put", key, err)
	}

	return dataPath, nil
}

func (b *FSBackend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, storage.Wrap("get", key, err)
	}
	if err := checkKey("get", key); err != nil {
		return nil, nil, err
	}

	meta, err := b.readMeta("get", key)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(b.dataPath(key))
	if err != nil {
		return nil, nil, translate("get", key, err)
	}
	return data, meta, nil
}

func (b *FSBackend) Head(ctx context.Context, key string) (*storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("head", key, err)
	}
	if err := checkKey("head", key); err != nil {
		return nil, err
	}
	return b.readMeta("head", key)
}

func (b *FSBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("delete", key, err)
	}
	if err := checkKey("delete", key); err != nil {
		return err
	}

	// Metadata first so a crash in between leaves an invisible data file
	// rather than a listed object without bytes.
	if err := os.Remove(b.metaPath(key)); err != nil {
		return translate("delete", key, err)
	}
	if err := os.Remove(b.dataPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Wrap("delete", key, err)
	}
	return nil
}

func (b *FSBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.Wrap("exists", key, err)
	}
	if err := checkKey("exists", key); err != nil {
		return false, err
	}

	_, err := os.Stat(b.metaPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, storage.Wrap("exists", key, err)
}

// List walks the metadata tree and returns entries under prefix sorted by key.
func (b *FSBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	root := filepath.Join(b.basePath, "meta")

	// Start the walk at the deepest directory fully named by the prefix.
	start := root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(root, filepath.FromSlash(prefix[:i]))
	}

	var entries []storage.Entry
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), metaSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		meta, err := b.readMeta("list", key)
		if err != nil {
			// Deleted between the walk and the read.
			if storage.IsNotFound(err) {
				return nil
			}
			return err
		}
		entries = append(entries, storage.Entry{Key: key, Metadata: meta})
		return nil
	})
	if err != nil {
		return nil, storage.Wrap("list", prefix, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (b *FSBackend) readMeta(op, key string) (*storage.FileMetadata, error) {
	raw, err := os.ReadFile(b.metaPath(key))
	if err != nil {
		return nil, translate(op, key, err)
	}
	var meta storage.FileMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, storage.Wrap(op, key, fmt.Errorf("corrupt metadata: %w", err))
	}
	return &meta, nil
}

func translate(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return storage.NewError(storage.ErrNotFound, op, key, nil)
	}
	return storage.Wrap(op, key, err)
}

// writeFileAtomic writes data to a temporary file next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
