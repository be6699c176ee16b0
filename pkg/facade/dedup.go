package facade

import (
	"context"

	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/storage"
)

// FindDuplicates returns every file of storageName with at least one version
// whose content hash is hash.
func (f *Facade) FindDuplicates(ctx context.Context, storageName, hash string) ([]storage.FileKey, error) {
	c := f.begin("find_duplicates", storageName)

	s, err := f.reg.Get(storageName)
	if err != nil {
		return nil, c.done(err)
	}
	keys, err := read(ctx, f, c.op, func(ctx context.Context) ([]storage.FileKey, error) {
		return s.Chain.FindByHash(ctx, hash)
	})
	return keys, c.done(err)
}

// DedupStats summarizes the content index of storageName.
func (f *Facade) DedupStats(ctx context.Context, storageName string) (dedup.Stats, error) {
	c := f.begin("dedup_stats", storageName)

	s, err := f.reg.Get(storageName)
	if err != nil {
		return dedup.Stats{}, c.done(err)
	}
	st, err := read(ctx, f, c.op, s.Index.Stats)
	return st, c.done(err)
}

// RebuildIndex recomputes every ref_count of storageName from the live
// version records, creating, correcting or reclaiming records as needed.
func (f *Facade) RebuildIndex(ctx context.Context, storageName string) (*dedup.RebuildReport, error) {
	c := f.begin("rebuild_index", storageName)

	s, err := f.reg.Get(storageName)
	if err != nil {
		return nil, c.done(err)
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	report, err := s.RebuildIndex(ctx)
	return report, c.done(err)
}
