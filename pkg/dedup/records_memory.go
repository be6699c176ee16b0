package dedup

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
)

// MemoryRecordStore keeps records in process memory. Records do not survive
// a restart; callers rebuild them from version records at startup.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]ContentRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]ContentRecord)}
}

func (s *MemoryRecordStore) Load(ctx context.Context, hash string) (*ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("load_record", hash, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[hash]
	if !ok {
		return nil, storage.NewError(storage.ErrNotFound, "load_record", hash, nil)
	}
	return &rec, nil
}

func (s *MemoryRecordStore) Store(ctx context.Context, rec *ContentRecord, expected uint64) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("store_record", rec.Hash, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(rec.Hash, expected); err != nil {
		return err
	}
	rec.Revision = expected + 1
	s.records[rec.Hash] = *rec
	return nil
}

func (s *MemoryRecordStore) Remove(ctx context.Context, hash string, expected uint64) error {
	if err := ctx.Err(); err != nil {
		return storage.Wrap("remove_record", hash, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(hash, expected); err != nil {
		return err
	}
	delete(s.records, hash)
	return nil
}

func (s *MemoryRecordStore) List(ctx context.Context) ([]*ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("list_records", "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ContentRecord, 0, len(s.records))
	for _, rec := range s.records {
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

// check must be called with mu held.
func (s *MemoryRecordStore) check(hash string, expected uint64) error {
	current, ok := s.records[hash]
	var revision uint64
	if ok {
		revision = current.Revision
	}
	if revision != expected {
		return storage.Errorf(storage.ErrConflict, "store_record", hash,
			"revision %d, expected %d", revision, expected)
	}
	return nil
}
