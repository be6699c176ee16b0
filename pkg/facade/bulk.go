package facade

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittostore/pkg/storage"
)

// bulkParallelism bounds the concurrent items of one bulk call.
const bulkParallelism = 8

// BulkError is the failure of one item.
type BulkError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// BulkResult reports per-item outcomes. A failed item never aborts the rest.
type BulkResult struct {
	Succeeded []string    `json:"successful"`
	Failed    []BulkError `json:"failed"`
}

// Err combines every item failure, or nil.
func (r *BulkResult) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// BulkItem is one file of a BulkPut.
type BulkItem struct {
	Name    string
	Data    []byte
	Options PutOptions
}

// BulkFile is one file returned by BulkGet.
type BulkFile struct {
	Name     string                `json:"name"`
	Data     []byte                `json:"content"`
	Metadata *storage.FileMetadata `json:"metadata"`
}

// BulkGetResult reports the files read by BulkGet.
type BulkGetResult struct {
	Files  []BulkFile  `json:"files"`
	Failed []BulkError `json:"failed"`
}

// collector gathers outcomes from concurrent items.
type collector struct {
	mu     sync.Mutex
	result BulkResult
}

func (c *collector) record(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.result.Failed = append(c.result.Failed, BulkError{Name: name, Error: err.Error(), Err: err})
		return
	}
	c.result.Succeeded = append(c.result.Succeeded, name)
}

func (c *collector) sorted() *BulkResult {
	sort.Strings(c.result.Succeeded)
	sort.Slice(c.result.Failed, func(i, j int) bool { return c.result.Failed[i].Name < c.result.Failed[j].Name })
	return &c.result
}

// each runs fn for every name with bounded parallelism. fn errors are
// collected, never propagated.
func each(ctx context.Context, names []string, fn func(ctx context.Context, i int) error) *BulkResult {
	col := &collector{}
	var g errgroup.Group
	g.SetLimit(bulkParallelism)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			col.record(name, fn(ctx, i))
			return nil
		})
	}
	_ = g.Wait()
	return col.sorted()
}

// BulkPut stores every item in storageName.
func (f *Facade) BulkPut(ctx context.Context, storageName string, items []BulkItem) *BulkResult {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return each(ctx, names, func(ctx context.Context, i int) error {
		it := items[i]
		_, err := f.Put(ctx, storage.FileKey{Storage: storageName, Name: it.Name}, it.Data, it.Options)
		return err
	})
}

// BulkDelete moves every named file of storageName to the trash.
func (f *Facade) BulkDelete(ctx context.Context, storageName string, names []string) *BulkResult {
	return each(ctx, names, func(ctx context.Context, i int) error {
		_, err := f.Delete(ctx, storage.FileKey{Storage: storageName, Name: names[i]})
		return err
	})
}

// BulkGet reads every named file of storageName.
func (f *Facade) BulkGet(ctx context.Context, storageName string, names []string) *BulkGetResult {
	files := make([]*BulkFile, len(names))
	res := each(ctx, names, func(ctx context.Context, i int) error {
		data, meta, err := f.Get(ctx, storage.FileKey{Storage: storageName, Name: names[i]})
		if err != nil {
			return err
		}
		files[i] = &BulkFile{Name: names[i], Data: data, Metadata: meta}
		return nil
	})

	out := &BulkGetResult{Failed: res.Failed}
	for _, file := range files {
		if file != nil {
			out.Files = append(out.Files, *file)
		}
	}
	return out
}
