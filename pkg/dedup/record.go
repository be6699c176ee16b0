// Package dedup implements the content index: a map from content hash to the
// physical blob holding those bytes and the number of live version records
// that reference it.
//
// Bytes are written once per distinct hash under BlobKey(hash). Every version
// record that carries the hash holds one reference; the blob and its record
// are destroyed exactly when the last reference is released.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	blobPrefix   = "b/"
	recordPrefix = "i/"
)

// BlobKey is the physical key of the blob for hash.
func BlobKey(hash string) string { return blobPrefix + hash }

// RecordKey is the physical key of a persisted ContentRecord.
func RecordKey(hash string) string { return recordPrefix + hash }

// BlobPrefix is the key prefix shared by every blob.
func BlobPrefix() string { return blobPrefix }

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentRecord describes one stored blob.
type ContentRecord struct {
	Hash      string    `json:"hash"`
	Location  string    `json:"location"`
	Size      int64     `json:"size"`
	RefCount  uint64    `json:"ref_count"`
	CreatedAt time.Time `json:"created_at"`

	// Revision increases on every store and backs compare-and-set updates.
	Revision uint64 `json:"revision"`
}

// RecordStore persists ContentRecords.
//
// Store and Remove are compare-and-set on Revision: expected must equal the
// revision currently stored (0 when the record must not exist yet) or the
// call fails with storage.ErrConflict. Store assigns rec.Revision = expected+1.
type RecordStore interface {
	Load(ctx context.Context, hash string) (*ContentRecord, error)
	Store(ctx context.Context, rec *ContentRecord, expected uint64) error
	Remove(ctx context.Context, hash string, expected uint64) error
	List(ctx context.Context) ([]*ContentRecord, error)
}
