package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New("test", cfg, nil)
	c.now = clock.Now
	return c, clock
}

func meta(name string) *storage.FileMetadata {
	return &storage.FileMetadata{Storage: "test", Name: name, Version: 1, VersionID: "vid-" + name, Tags: []string{"t"}}
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	c.Put("a", []byte("hello"), meta("a"))

	data, m, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, meta("a"), m)

	// Returned values are copies.
	data[0] = 'X'
	m.Tags[0] = "mutated"
	data, m, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, []string{"t"}, m.Tags)
}

func TestCache_Miss(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	_, _, ok := c.Get("absent")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, uint64(0), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 0.0, st.HitRate)
}

func TestCache_TTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	c, clock := newTestCache(cfg)

	c.Put("a", []byte("x"), meta("a"))
	clock.Advance(59 * time.Second)
	_, _, ok := c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, _, ok = c.Get("a")
	assert.False(t, ok, "entry at ttl age is expired")
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestCache_LRUEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCapacity = 3
	c, _ := newTestCache(cfg)

	c.Put("a", []byte("1"), meta("a"))
	c.Put("b", []byte("2"), meta("b"))
	c.Put("c", []byte("3"), meta("c"))

	// Touch a so b becomes least recently used.
	_, _, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", []byte("4"), meta("d"))

	_, _, ok = c.Get("b")
	assert.False(t, ok, "b evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, _, ok := c.Get(k)
		assert.True(t, ok, k)
	}

	st := c.Stats()
	assert.Equal(t, 3, st.EntryCount)
	assert.Equal(t, uint64(1), st.Evictions)
}

func TestCache_ExpiredSweptBeforeEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCapacity = 2
	cfg.TTL = time.Minute
	c, clock := newTestCache(cfg)

	c.Put("old", []byte("1"), meta("old"))
	clock.Advance(30 * time.Second)
	c.Put("fresh", []byte("2"), meta("fresh"))
	// Make "fresh" the least recently used entry.
	_, _, _ = c.Get("old")

	clock.Advance(31 * time.Second)
	c.Put("new", []byte("3"), meta("new"))

	// "old" expired and was swept, so the LRU entry "fresh" survives.
	_, _, ok := c.Get("fresh")
	assert.True(t, ok)
	_, _, ok = c.Get("new")
	assert.True(t, ok)
}

func TestCache_MaxFileSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 4
	c, _ := newTestCache(cfg)

	c.Put("small", []byte("1234"), meta("small"))
	c.Put("big", []byte("12345"), meta("big"))

	_, _, ok := c.Get("small")
	assert.True(t, ok)
	_, _, ok = c.Get("big")
	assert.False(t, ok)
}

func TestCache_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c, _ := newTestCache(cfg)

	c.Put("a", []byte("x"), meta("a"))
	_, _, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	c.Put("a", []byte("aa"), meta("a"))
	c.Put("b", []byte("bbb"), meta("b"))
	assert.Equal(t, int64(5), c.Stats().WeightedSize)

	c.Invalidate("a")
	_, _, ok := c.Get("a")
	assert.False(t, ok, "get after invalidate is a miss")
	assert.Equal(t, int64(3), c.Stats().WeightedSize)

	c.Clear()
	st := c.Stats()
	assert.Equal(t, 0, st.EntryCount)
	assert.Equal(t, int64(0), st.WeightedSize)
}

func TestCache_ReplaceUpdatesSize(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	c.Put("a", []byte("12345"), meta("a"))
	c.Put("a", []byte("12"), meta("a"))

	st := c.Stats()
	assert.Equal(t, 1, st.EntryCount)
	assert.Equal(t, int64(2), st.WeightedSize)
}

func TestCache_HitRate(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("a", []byte("x"), meta("a"))

	for i := 0; i < 3; i++ {
		_, _, _ = c.Get("a")
	}
	_, _, _ = c.Get("missing")

	st := c.Stats()
	assert.Equal(t, uint64(3), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.InDelta(t, 0.75, st.HitRate, 1e-9)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCapacity = 50
	c, _ := newTestCache(cfg)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%80)
				if i%3 == 0 {
					c.Put(key, []byte(key), meta(key))
				} else if i%7 == 0 {
					c.Invalidate(key)
				} else if data, _, ok := c.Get(key); ok {
					assert.Equal(t, key, string(data))
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().EntryCount, 50)
}

type recordingMetrics struct {
	mu        sync.Mutex
	hits      int
	misses    int
	evictions map[string]int
	entries   int
}

func (r *recordingMetrics) Hit(string)  { r.mu.Lock(); r.hits++; r.mu.Unlock() }
func (r *recordingMetrics) Miss(string) { r.mu.Lock(); r.misses++; r.mu.Unlock() }
func (r *recordingMetrics) Evicted(_ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions[reason]++
}
func (r *recordingMetrics) Size(_ string, entries int, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
}

func TestCache_ReportsMetrics(t *testing.T) {
	m := &recordingMetrics{evictions: map[string]int{}}
	cfg := DefaultConfig()
	cfg.MaxCapacity = 1
	c := New("test", cfg, m)

	c.Put("a", []byte("x"), meta("a"))
	_, _, _ = c.Get("a")
	_, _, _ = c.Get("b")
	c.Put("b", []byte("y"), meta("b"))

	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 1, m.misses)
	assert.Equal(t, 1, m.evictions["capacity"])
	assert.Equal(t, 1, m.entries)
}

func TestCache_FillAfterInvalidateIsDropped(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	ticket := c.Reserve("a")
	c.Invalidate("a")

	assert.False(t, c.Fill("a", ticket, []byte("old"), meta("a")))
	_, _, ok := c.Get("a")
	assert.False(t, ok)

	// A ticket taken after the invalidation fills normally.
	assert.True(t, c.Fill("a", c.Reserve("a"), []byte("new"), meta("a")))
	data, _, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), data)
}

func TestCache_FillAfterClearIsDropped(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	ticket := c.Reserve("a")
	c.Clear()

	assert.False(t, c.Fill("a", ticket, []byte("old"), meta("a")))
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestCache_FillUnaffectedByOtherKeys(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	ticket := c.Reserve("a")
	other := "b"
	for i := 0; stripeOf(other) == stripeOf("a"); i++ {
		other = fmt.Sprintf("b%d", i)
	}
	c.Invalidate(other)

	assert.True(t, c.Fill("a", ticket, []byte("hello"), meta("a")))
}

func TestCache_FillDisabled(t *testing.T) {
	c, _ := newTestCache(Config{Enabled: false})

	assert.False(t, c.Fill("a", c.Reserve("a"), []byte("x"), meta("a")))
}
