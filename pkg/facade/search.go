package facade

import (
	"context"
	"sort"
	"strings"

	"github.com/marmos91/dittostore/pkg/storage"
)

// SearchQuery filters the heads of one storage. Every set field must match.
type SearchQuery struct {
	// Query matches the file name or any custom key or value, ignoring case
	Query string `json:"query,omitempty"`

	// Tags must all be present on the file
	Tags []string `json:"tags,omitempty"`

	// ContentType must match exactly
	ContentType string `json:"content_type,omitempty"`

	// NamePattern is a case-insensitive substring of the file name
	NamePattern string `json:"name_pattern,omitempty"`

	// Prefix restricts the scan to names starting with it
	Prefix string `json:"prefix,omitempty"`

	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

// Matches reports whether meta satisfies q.
func (q SearchQuery) Matches(meta *storage.FileMetadata) bool {
	if meta.IsDeleted && !q.IncludeDeleted {
		return false
	}
	if !strings.HasPrefix(meta.Name, q.Prefix) {
		return false
	}

	name := strings.ToLower(meta.Name)
	if q.NamePattern != "" && !strings.Contains(name, strings.ToLower(q.NamePattern)) {
		return false
	}
	if q.Query != "" && !matchesText(name, meta.Custom, strings.ToLower(q.Query)) {
		return false
	}
	if len(q.Tags) > 0 && !meta.HasTags(q.Tags) {
		return false
	}
	if q.ContentType != "" && meta.ContentType != q.ContentType {
		return false
	}
	return true
}

func matchesText(name string, custom map[string]string, needle string) bool {
	if strings.Contains(name, needle) {
		return true
	}
	for k, v := range custom {
		if strings.Contains(strings.ToLower(k), needle) || strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// SearchResults is the outcome of Search.
type SearchResults struct {
	Results    []*storage.FileMetadata `json:"results"`
	TotalCount int                     `json:"total_count"`
}

// List returns the heads of storageName matching q, ordered by name.
func (f *Facade) List(ctx context.Context, storageName string, q SearchQuery) ([]*storage.FileMetadata, error) {
	c := f.begin("list", storageName)
	out, err := f.scan(ctx, c.op, storageName, q)
	return out, c.done(err)
}

// Search returns the heads of storageName matching q, most recently updated
// first.
func (f *Facade) Search(ctx context.Context, storageName string, q SearchQuery) (*SearchResults, error) {
	c := f.begin("search", storageName)

	out, err := f.scan(ctx, c.op, storageName, q)
	if err != nil {
		return nil, c.done(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return &SearchResults{Results: out, TotalCount: len(out)}, c.done(nil)
}

func (f *Facade) scan(ctx context.Context, op, storageName string, q SearchQuery) ([]*storage.FileMetadata, error) {
	if err := storage.ValidateTags(q.Tags); err != nil {
		return nil, storage.Wrap(op, q.Prefix, err)
	}
	s, err := f.reg.Get(storageName)
	if err != nil {
		return nil, storage.Wrap(op, q.Prefix, err)
	}

	heads, err := read(ctx, f, op, func(ctx context.Context) ([]*storage.FileMetadata, error) {
		return s.Chain.Heads(ctx, q.Prefix)
	})
	if err != nil {
		return nil, err
	}

	out := make([]*storage.FileMetadata, 0, len(heads))
	for _, meta := range heads {
		if q.Matches(meta) {
			out = append(out, meta)
		}
	}
	return out, nil
}
