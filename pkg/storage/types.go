package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FileKey identifies a logical file independent of its version.
type FileKey struct {
	Storage string `json:"storage_name"`
	Name    string `json:"file_key"`
}

func (k FileKey) String() string {
	return k.Storage + ":" + k.Name
}

// Validate rejects empty parts and names that cannot be mapped onto every substrate.
func (k FileKey) Validate() error {
	if k.Storage == "" {
		return NewError(ErrInvalidInput, "validate", k.Name, fmt.Errorf("storage name is empty"))
	}
	return ValidateName(k.Name)
}

// ValidateName checks a logical file name.
//
// Names are slash separated, must not be empty, absolute, contain empty or
// dot segments, or contain NUL bytes. A segment of exactly ten digits is
// rejected: it would share a path with a version record of the parent name.
func ValidateName(name string) error {
	if name == "" {
		return NewError(ErrInvalidInput, "validate", name, fmt.Errorf("file name is empty"))
	}
	if strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return NewError(ErrInvalidInput, "validate", name, fmt.Errorf("invalid file name"))
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return NewError(ErrInvalidInput, "validate", name, fmt.Errorf("invalid path segment %q", seg))
		}
		if isVersionSegment(seg) {
			return NewError(ErrInvalidInput, "validate", name, fmt.Errorf("path segment %q is reserved for version numbers", seg))
		}
	}
	return nil
}

func isVersionSegment(seg string) bool {
	if len(seg) != 10 {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateTags rejects empty or whitespace-padded tags.
func ValidateTags(tags []string) error {
	for _, t := range tags {
		if t == "" || strings.TrimSpace(t) != t {
			return NewError(ErrInvalidInput, "validate", "", fmt.Errorf("invalid tag %q", t))
		}
	}
	return nil
}

// FileMetadata is the canonical descriptor of one logical-file/version pair.
//
// Invariants:
//   - Version starts at 1 and increases by one per appended version
//   - ParentVersionID is empty only for the first version of a chain
//   - IsDeleted is true exactly when DeletedAt is set
type FileMetadata struct {
	Storage         string            `json:"storage_name"`
	Name            string            `json:"file_key"`
	Version         uint32            `json:"version"`
	VersionID       string            `json:"version_id"`
	ParentVersionID string            `json:"parent_version_id,omitempty"`
	ContentHash     string            `json:"content_hash,omitempty"`
	Size            int64             `json:"size"`
	ContentType     string            `json:"content_type"`
	Tags            []string          `json:"tags,omitempty"`
	IsDeleted       bool              `json:"is_deleted"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Custom          map[string]string `json:"custom,omitempty"`
}

// Key returns the FileKey the record belongs to.
func (m *FileMetadata) Key() FileKey {
	return FileKey{Storage: m.Storage, Name: m.Name}
}

// Clone returns a deep copy.
func (m *FileMetadata) Clone() *FileMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Custom != nil {
		c.Custom = make(map[string]string, len(m.Custom))
		for k, v := range m.Custom {
			c.Custom[k] = v
		}
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// MarkDeleted sets the soft-delete pair together.
func (m *FileMetadata) MarkDeleted(at time.Time) {
	m.IsDeleted = true
	m.DeletedAt = &at
	m.UpdatedAt = at
}

// ClearDeleted clears the soft-delete pair together.
func (m *FileMetadata) ClearDeleted(at time.Time) {
	m.IsDeleted = false
	m.DeletedAt = nil
	m.UpdatedAt = at
}

// HasTags reports whether every tag in want is present.
func (m *FileMetadata) HasTags(want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range m.Tags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NormalizeTags sorts and de-duplicates a tag set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Entry pairs a physical key with the metadata stored alongside it.
type Entry struct {
	Key      string
	Metadata *FileMetadata
}

// PresignedURL is a time-limited direct-access URL issued by a backend.
type PresignedURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}
