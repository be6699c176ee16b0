package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/backend/memory"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// probeBackend customizes List, the only call a probe makes.
type probeBackend struct {
	storage.Backend
	list func(ctx context.Context) error
}

func (b *probeBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	if err := b.list(ctx); err != nil {
		return nil, err
	}
	return b.Backend.List(ctx, prefix)
}

func register(t *testing.T, reg *registry.Registry, name string, list func(ctx context.Context) error) {
	t.Helper()
	mem, err := memory.NewMemoryBackend(context.Background())
	require.NoError(t, err)

	var b storage.Backend = mem
	if list != nil {
		b = &probeBackend{Backend: mem, list: list}
	}
	s, err := registry.NewStorage(context.Background(), registry.StorageConfig{Name: name, Cache: cache.DefaultConfig()}, b)
	require.NoError(t, err)
	require.NoError(t, reg.Register(s))
}

func TestChecker_AllHealthy(t *testing.T) {
	reg := registry.NewRegistry()
	register(t, reg, "a", nil)
	register(t, reg, "b", nil)

	report := NewChecker(reg, Config{Version: "test"}).Check(context.Background())

	assert.Equal(t, Healthy, report.Status)
	assert.Equal(t, "test", report.Version)
	require.Len(t, report.Storages, 2)
	assert.Equal(t, "a", report.Storages[0].Name)
	assert.Equal(t, "memory", report.Storages[0].Backend)
	assert.Equal(t, Healthy, report.Storages[1].Status)
}

func TestChecker_DegradedWhenSlow(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registry.NewRegistry()
	register(t, reg, "fast", nil)
	register(t, reg, "slow", func(context.Context) error {
		clk.Advance(3 * time.Second)
		return nil
	})

	c := NewChecker(reg, Config{})
	c.now = clk.Now

	report := c.Check(context.Background())
	assert.Equal(t, Degraded, report.Status)
	assert.Equal(t, Healthy, report.Storages[0].Status)
	assert.Equal(t, Degraded, report.Storages[1].Status)
	assert.Equal(t, int64(3000), report.Storages[1].ResponseTimeMS)
}

func TestChecker_UnhealthyOnErrorAndTimeout(t *testing.T) {
	reg := registry.NewRegistry()
	register(t, reg, "broken", func(context.Context) error {
		return storage.Errorf(storage.ErrInternal, "list", "", "disk on fire")
	})
	register(t, reg, "hung", func(ctx context.Context) error {
		<-ctx.Done()
		return storage.Wrap("list", "", ctx.Err())
	})

	c := NewChecker(reg, Config{Timeout: 20 * time.Millisecond})

	broken, err := c.CheckStorage(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, Unhealthy, broken.Status)
	assert.Contains(t, broken.Message, "disk on fire")

	hung, err := c.CheckStorage(context.Background(), "hung")
	require.NoError(t, err)
	assert.Equal(t, Unhealthy, hung.Status)
	assert.Equal(t, "storage timeout", hung.Message)
	assert.Equal(t, int64(20), hung.ResponseTimeMS)

	assert.Equal(t, Unhealthy, c.Check(context.Background()).Status)
}

func TestChecker_UnknownStorage(t *testing.T) {
	c := NewChecker(registry.NewRegistry(), Config{})

	_, err := c.CheckStorage(context.Background(), "nope")
	assert.True(t, storage.IsNotFound(err))

	report := c.Check(context.Background())
	assert.Equal(t, Healthy, report.Status)
	assert.Empty(t, report.Storages)
}
