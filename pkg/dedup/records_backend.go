package dedup

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
)

// BackendRecordStore persists records as JSON objects at RecordKey(hash) in
// the same backend that holds the blobs, so the index survives restarts.
//
// The revision check is a read followed by a write. It is atomic only when
// every writer for a given hash goes through one Index, whose per-hash lock
// serializes the pair. A storage backed by this store must have a single
// writing process.
type BackendRecordStore struct {
	backend storage.Backend
}

func NewBackendRecordStore(backend storage.Backend) *BackendRecordStore {
	return &BackendRecordStore{backend: backend}
}

func (s *BackendRecordStore) Load(ctx context.Context, hash string) (*ContentRecord, error) {
	data, _, err := s.backend.Get(ctx, RecordKey(hash))
	if err != nil {
		return nil, storage.Wrap("load_record", hash, err)
	}
	var rec ContentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, storage.Wrap("load_record", hash, err)
	}
	return &rec, nil
}

func (s *BackendRecordStore) Store(ctx context.Context, rec *ContentRecord, expected uint64) error {
	if err := s.check(ctx, rec.Hash, expected); err != nil {
		return err
	}

	next := *rec
	next.Revision = expected + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return storage.Wrap("store_record", rec.Hash, err)
	}

	now := time.Now().UTC()
	meta := &storage.FileMetadata{
		Name:        RecordKey(rec.Hash),
		ContentHash: rec.Hash,
		Size:        int64(len(data)),
		ContentType: "application/json",
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   now,
	}
	if _, err := s.backend.Put(ctx, RecordKey(rec.Hash), data, meta); err != nil {
		return storage.Wrap("store_record", rec.Hash, err)
	}
	rec.Revision = next.Revision
	return nil
}

func (s *BackendRecordStore) Remove(ctx context.Context, hash string, expected uint64) error {
	if err := s.check(ctx, hash, expected); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, RecordKey(hash)); err != nil && !storage.IsNotFound(err) {
		return storage.Wrap("remove_record", hash, err)
	}
	return nil
}

func (s *BackendRecordStore) List(ctx context.Context) ([]*ContentRecord, error) {
	entries, err := s.backend.List(ctx, recordPrefix)
	if err != nil {
		return nil, storage.Wrap("list_records", "", err)
	}

	out := make([]*ContentRecord, 0, len(entries))
	for _, e := range entries {
		hash := strings.TrimPrefix(e.Key, recordPrefix)
		rec, err := s.Load(ctx, hash)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *BackendRecordStore) check(ctx context.Context, hash string, expected uint64) error {
	var revision uint64
	current, err := s.Load(ctx, hash)
	switch {
	case err == nil:
		revision = current.Revision
	case storage.IsNotFound(err):
	default:
		return err
	}
	if revision != expected {
		return storage.Errorf(storage.ErrConflict, "store_record", hash,
			"revision %d, expected %d", revision, expected)
	}
	return nil
}
