package dedup

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/dittostore/internal/keylock"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Index is the content index of one storage.
//
// Thread Safety:
// Every mutation of a hash (lookup-or-insert, increment, decrement, repair)
// runs under that hash's lock, and each record write is additionally checked
// against the revision that was read. Different hashes never contend.
type Index struct {
	storage string
	backend storage.Backend
	records RecordStore
	locks   *keylock.Table
}

// NewIndex creates an index whose blobs live in backend and whose records
// live in records. name is the storage name stamped into blob metadata.
func NewIndex(name string, backend storage.Backend, records RecordStore) *Index {
	return &Index{
		storage: name,
		backend: backend,
		records: records,
		locks:   keylock.New(),
	}
}

// Acquire takes one reference on the content of data.
//
// On a hit the existing record's ref_count is incremented and no bytes are
// written (dup is true). On a miss the blob is written and a record with
// ref_count 1 is created. A lost revision race returns ErrConflict and leaves
// the index unchanged; the caller retries the whole operation.
func (ix *Index) Acquire(ctx context.Context, data []byte) (rec *ContentRecord, dup bool, err error) {
	hash := Hash(data)

	unlock := ix.locks.Lock(hash)
	defer unlock()

	current, err := ix.records.Load(ctx, hash)
	switch {
	case err == nil:
		next := *current
		next.RefCount++
		if err := ix.records.Store(ctx, &next, current.Revision); err != nil {
			return nil, false, storage.Wrap("acquire", hash, err)
		}
		logger.Debug("dedup hit: storage=%s hash=%s refs=%d", ix.storage, hash, next.RefCount)
		return &next, true, nil

	case storage.IsNotFound(err):
		now := time.Now().UTC()
		location, err := ix.backend.Put(ctx, BlobKey(hash), data, &storage.FileMetadata{
			Storage:     ix.storage,
			Name:        BlobKey(hash),
			ContentHash: hash,
			Size:        int64(len(data)),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, false, storage.Wrap("acquire", hash, err)
		}

		created := &ContentRecord{
			Hash:      hash,
			Location:  location,
			Size:      int64(len(data)),
			RefCount:  1,
			CreatedAt: now,
		}
		if err := ix.records.Store(ctx, created, 0); err != nil {
			if derr := ix.backend.Delete(ctx, BlobKey(hash)); derr != nil && !storage.IsNotFound(derr) {
				logger.Warn("dedup: failed to remove blob %s after record failure: %v", hash, derr)
			}
			return nil, false, storage.Wrap("acquire", hash, err)
		}
		logger.Debug("dedup miss: storage=%s hash=%s size=%d", ix.storage, hash, created.Size)
		return created, false, nil

	default:
		return nil, false, storage.Wrap("acquire", hash, err)
	}
}

// Release drops one reference on hash. When the count reaches zero the blob
// and the record are destroyed. It returns the remaining count.
func (ix *Index) Release(ctx context.Context, hash string) (uint64, error) {
	unlock := ix.locks.Lock(hash)
	defer unlock()

	current, err := ix.records.Load(ctx, hash)
	if err != nil {
		return 0, storage.Wrap("release", hash, err)
	}

	if current.RefCount > 1 {
		next := *current
		next.RefCount--
		if err := ix.records.Store(ctx, &next, current.Revision); err != nil {
			return 0, storage.Wrap("release", hash, err)
		}
		return next.RefCount, nil
	}

	if err := ix.destroy(ctx, current); err != nil {
		return 0, err
	}
	logger.Debug("dedup blob reclaimed: storage=%s hash=%s", ix.storage, hash)
	return 0, nil
}

// destroy removes blob then record. Must be called with the hash lock held.
func (ix *Index) destroy(ctx context.Context, rec *ContentRecord) error {
	if err := ix.backend.Delete(ctx, BlobKey(rec.Hash)); err != nil && !storage.IsNotFound(err) {
		return storage.Wrap("release", rec.Hash, err)
	}
	if err := ix.records.Remove(ctx, rec.Hash, rec.Revision); err != nil {
		return storage.Wrap("release", rec.Hash, err)
	}
	return nil
}

// Resolve returns the bytes stored for hash.
func (ix *Index) Resolve(ctx context.Context, hash string) ([]byte, error) {
	data, _, err := ix.backend.Get(ctx, BlobKey(hash))
	if err != nil {
		return nil, storage.Wrap("resolve", hash, err)
	}
	return data, nil
}

// Record returns the current record for hash.
func (ix *Index) Record(ctx context.Context, hash string) (*ContentRecord, error) {
	rec, err := ix.records.Load(ctx, hash)
	if err != nil {
		return nil, storage.Wrap("record", hash, err)
	}
	return rec, nil
}

// Stats summarizes the index.
type Stats struct {
	UniqueBlobs     int   `json:"unique_blobs"`
	TotalReferences int64 `json:"total_references"`
	BytesStored     int64 `json:"bytes_stored"`
	BytesSaved      int64 `json:"bytes_saved"`
}

func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	records, err := ix.records.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, rec := range records {
		st.UniqueBlobs++
		st.TotalReferences += int64(rec.RefCount)
		st.BytesStored += rec.Size
		if rec.RefCount > 1 {
			st.BytesSaved += rec.Size * int64(rec.RefCount-1)
		}
	}
	return st, nil
}

// RebuildReport lists what Rebuild changed.
type RebuildReport struct {
	Updated []string `json:"updated"`
	Created []string `json:"created"`
	Removed []string `json:"removed"`
	// Missing are referenced hashes whose blob no longer exists.
	Missing []string `json:"missing"`
}

// Rebuild reconciles the index against refs, the authoritative number of
// live version records per hash. Records are corrected, created for
// referenced blobs that lack one, and destroyed along with their blob when
// nothing references them.
//
// refs must stay exact until Rebuild returns: call it from
// version.Chain.Reconcile, never with counts taken while writes run.
func (ix *Index) Rebuild(ctx context.Context, refs map[string]uint64) (*RebuildReport, error) {
	existing, err := ix.records.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &RebuildReport{}
	seen := make(map[string]bool, len(existing))

	for _, rec := range existing {
		seen[rec.Hash] = true
		if err := ix.repair(ctx, rec.Hash, refs[rec.Hash], report); err != nil {
			return report, err
		}
	}

	hashes := make([]string, 0, len(refs))
	for hash := range refs {
		if !seen[hash] {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	for _, hash := range hashes {
		if err := ix.repair(ctx, hash, refs[hash], report); err != nil {
			return report, err
		}
	}

	logger.Info("dedup index rebuilt: storage=%s updated=%d created=%d removed=%d missing=%d",
		ix.storage, len(report.Updated), len(report.Created), len(report.Removed), len(report.Missing))
	return report, nil
}

func (ix *Index) repair(ctx context.Context, hash string, want uint64, report *RebuildReport) error {
	unlock := ix.locks.Lock(hash)
	defer unlock()

	current, err := ix.records.Load(ctx, hash)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}

	switch {
	case current != nil && want == 0:
		if err := ix.destroy(ctx, current); err != nil {
			return err
		}
		report.Removed = append(report.Removed, hash)

	case current != nil && current.RefCount != want:
		next := *current
		next.RefCount = want
		if err := ix.records.Store(ctx, &next, current.Revision); err != nil {
			return err
		}
		report.Updated = append(report.Updated, hash)

	case current == nil && want > 0:
		meta, err := ix.backend.Head(ctx, BlobKey(hash))
		if storage.IsNotFound(err) {
			logger.Warn("dedup: %d record(s) reference missing blob %s", want, hash)
			report.Missing = append(report.Missing, hash)
			return nil
		}
		if err != nil {
			return err
		}
		created := &ContentRecord{
			Hash:      hash,
			Location:  BlobKey(hash),
			Size:      meta.Size,
			RefCount:  want,
			CreatedAt: meta.CreatedAt,
		}
		if err := ix.records.Store(ctx, created, 0); err != nil {
			return err
		}
		report.Created = append(report.Created, hash)
	}
	return nil
}

// Blobs lists the hashes of every blob physically present.
func (ix *Index) Blobs(ctx context.Context) ([]string, error) {
	entries, err := ix.backend.List(ctx, blobPrefix)
	if err != nil {
		return nil, storage.Wrap("list_blobs", "", err)
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, strings.TrimPrefix(e.Key, blobPrefix))
	}
	return hashes, nil
}

// DeleteBlob removes an unreferenced blob. It refuses while a record with a
// positive ref_count exists for hash.
func (ix *Index) DeleteBlob(ctx context.Context, hash string) error {
	unlock := ix.locks.Lock(hash)
	defer unlock()

	rec, err := ix.records.Load(ctx, hash)
	if err == nil && rec.RefCount > 0 {
		return storage.Errorf(storage.ErrConflict, "delete_blob", hash, "still referenced %d time(s)", rec.RefCount)
	}
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	if err := ix.backend.Delete(ctx, BlobKey(hash)); err != nil && !storage.IsNotFound(err) {
		return storage.Wrap("delete_blob", hash, err)
	}
	if rec != nil {
		return ix.records.Remove(ctx, hash, rec.Revision)
	}
	return nil
}
