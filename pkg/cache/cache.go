// Package cache provides the bounded read-through cache placed in front of
// every storage.
//
// Cache Strategy:
//   - LRU eviction once the entry count reaches MaxCapacity
//   - TTL-based expiration: an entry older than TTL is never returned
//   - Entries larger than MaxFileSize are never admitted
//   - Explicit invalidation by the façade on every mutation
//   - Read-through fills are fenced: a fill started before an invalidation
//     of its key is dropped (see Reserve and Fill)
//
// Thread Safety:
// Lookups run under a shared lock so readers proceed in parallel; the
// recency update, insertion, eviction and invalidation take the exclusive
// lock.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Config holds configuration for one cache.
type Config struct {
	// Enabled controls whether caching is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxCapacity limits the number of entries (LRU eviction)
	MaxCapacity int `mapstructure:"max_capacity" validate:"omitempty,min=1" yaml:"max_capacity"`

	// TTL is how long an entry remains valid. 0 disables expiry.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// MaxFileSize is the largest payload admitted, in bytes. 0 admits any size.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"omitempty,min=0" yaml:"max_file_size"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxCapacity: 1000,
		TTL:         time.Hour,
		MaxFileSize: 10 << 20,
	}
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	EntryCount   int     `json:"entry_count"`
	WeightedSize int64   `json:"weighted_size"`
	HitRate      float64 `json:"hit_rate"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Evictions    uint64  `json:"evictions"`
}

// generationStripes is the number of invalidation counters keys are hashed
// onto.
const generationStripes = 256

// Ticket records the invalidation state of one key when a read-through fill
// started.
type Ticket struct {
	stripe int
	gen    uint64
	epoch  uint64
}

type entry struct {
	key        string
	data       []byte
	meta       *storage.FileMetadata
	insertedAt time.Time
	elem       *list.Element
}

// Cache is an LRU + TTL cache of file bytes and metadata.
type Cache struct {
	name    string
	cfg     Config
	metrics Metrics
	now     func() time.Time

	mu    sync.RWMutex
	items map[string]*entry
	lru   *list.List // front = most recently used
	size  int64

	// gens[i] counts invalidations of the keys hashed onto stripe i; epoch
	// counts Clear calls.
	gens  [generationStripes]uint64
	epoch uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache. name labels log lines and metrics. A nil metrics
// disables metric collection.
func New(name string, cfg Config, metrics Metrics) *Cache {
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = DefaultConfig().MaxCapacity
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	if !cfg.Enabled {
		logger.Info("Cache disabled: storage=%s", name)
	} else {
		logger.Info("Cache enabled: storage=%s ttl=%v max_capacity=%d max_file_size=%d",
			name, cfg.TTL, cfg.MaxCapacity, cfg.MaxFileSize)
	}

	return &Cache{
		name:    name,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		items:   make(map[string]*entry),
		lru:     list.New(),
	}
}

func (c *Cache) Enabled() bool { return c.cfg.Enabled }

func (c *Cache) expired(e *entry, now time.Time) bool {
	return c.cfg.TTL > 0 && now.Sub(e.insertedAt) >= c.cfg.TTL
}

// Get returns copies of the cached bytes and metadata for key. ok is false
// on a miss, including when the entry has expired or the cache is disabled.
func (c *Cache) Get(key string) (data []byte, meta *storage.FileMetadata, ok bool) {
	if !c.cfg.Enabled {
		return nil, nil, false
	}

	now := c.now()

	c.mu.RLock()
	e, found := c.items[key]
	live := found && !c.expired(e, now)
	if live {
		data = append([]byte{}, e.data...)
		meta = e.meta.Clone()
	}
	c.mu.RUnlock()

	if !live {
		c.misses.Inc()
		c.metrics.Miss(c.name)
		if found {
			c.removeIfStale(key, e)
		}
		return nil, nil, false
	}

	c.mu.Lock()
	// The entry may have been replaced or dropped since the read lock.
	if cur, still := c.items[key]; still && cur == e {
		c.lru.MoveToFront(e.elem)
	}
	c.mu.Unlock()

	c.hits.Inc()
	c.metrics.Hit(c.name)
	return data, meta, true
}

// removeIfStale drops e if it is still the entry stored under key.
func (c *Cache) removeIfStale(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[key]; ok && cur == e {
		c.remove(e)
		c.reportSize()
	}
}

// Put inserts or replaces the entry for key. It is a no-op when the cache is
// disabled or data exceeds MaxFileSize. Expired entries are swept before
// any recency-based eviction.
func (c *Cache) Put(key string, data []byte, meta *storage.FileMetadata) {
	e, ok := c.newEntry(key, data, meta)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(e)
}

// Reserve returns the ticket to pass to Fill once the value of key has been
// read from the backend.
func (c *Cache) Reserve(key string) Ticket {
	stripe := stripeOf(key)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return Ticket{stripe: stripe, gen: c.gens[stripe], epoch: c.epoch}
}

// Fill is Put for a read-through fill. The entry is dropped when key was
// invalidated, or the cache cleared, after t was reserved: the bytes read
// may predate that write. It reports whether the entry was stored.
func (c *Cache) Fill(key string, t Ticket, data []byte, meta *storage.FileMetadata) bool {
	e, ok := c.newEntry(key, data, meta)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[t.stripe] != t.gen || c.epoch != t.epoch {
		logger.Debug("Cache fill superseded: storage=%s key=%s", c.name, key)
		return false
	}
	c.insert(e)
	return true
}

func (c *Cache) newEntry(key string, data []byte, meta *storage.FileMetadata) (*entry, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	if c.cfg.MaxFileSize > 0 && int64(len(data)) > c.cfg.MaxFileSize {
		logger.Debug("Cache skip oversize entry: storage=%s key=%s size=%d", c.name, key, len(data))
		return nil, false
	}
	return &entry{
		key:        key,
		data:       append([]byte{}, data...),
		meta:       meta.Clone(),
		insertedAt: c.now(),
	}, true
}

// insert must be called with c.mu held.
func (c *Cache) insert(e *entry) {
	if existing, ok := c.items[e.key]; ok {
		c.remove(existing)
	}

	if len(c.items) >= c.cfg.MaxCapacity {
		c.sweep(e.insertedAt)
	}
	for len(c.items) >= c.cfg.MaxCapacity {
		c.evictOldest()
	}

	e.elem = c.lru.PushFront(e)
	c.items[e.key] = e
	c.size += int64(len(e.data))
	c.reportSize()
}

func stripeOf(key string) int {
	return int(xxhash.Sum64String(key) % generationStripes)
}

// Invalidate removes key and fences off fills of key reserved before now.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[stripeOf(key)]++

	if e, ok := c.items[key]; ok {
		c.remove(e)
		c.reportSize()
		logger.Debug("Invalidated cache entry: storage=%s key=%s", c.name, key)
	}
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lru.Init()
	c.size = 0
	c.epoch++
	c.reportSize()

	logger.Debug("Cleared cache: storage=%s", c.name)
}

// Stats returns current counters. Expired entries are swept first so the
// count reflects what Get could still return.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	c.sweep(c.now())
	st := Stats{
		EntryCount:   len(c.items),
		WeightedSize: c.size,
	}
	c.mu.Unlock()

	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	st.Evictions = c.evictions.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// sweep drops expired entries. Must be called with c.mu held.
func (c *Cache) sweep(now time.Time) {
	if c.cfg.TTL <= 0 {
		return
	}
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if c.expired(e, now) {
			c.remove(e)
			c.evictions.Inc()
			c.metrics.Evicted(c.name, "expired")
		}
		el = prev
	}
}

// evictOldest removes the least recently used entry. Must be called with
// c.mu held.
func (c *Cache) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.remove(e)
	c.evictions.Inc()
	c.metrics.Evicted(c.name, "capacity")

	logger.Debug("Evicted cache entry: storage=%s key=%s", c.name, e.key)
}

// remove must be called with c.mu held.
func (c *Cache) remove(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
	c.size -= int64(len(e.data))
}

// reportSize must be called with c.mu held.
func (c *Cache) reportSize() {
	c.metrics.Size(c.name, len(c.items), c.size)
}
