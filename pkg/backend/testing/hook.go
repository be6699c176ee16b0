package testing

import (
	"context"
	"strings"
	"sync"

	"github.com/marmos91/dittostore/pkg/storage"
)

// HookBackend wraps a backend and runs callbacks at chosen points of its
// calls, to interleave another operation with one in flight.
//
// Each hook fires once. Callbacks run without any HookBackend lock held, so
// they may call back into the backend.
type HookBackend struct {
	storage.Backend

	mu     sync.Mutex
	onList map[string]func()
	onGet  map[string]func()
}

// NewHookBackend wraps b.
func NewHookBackend(b storage.Backend) *HookBackend {
	return &HookBackend{
		Backend: b,
		onList:  make(map[string]func()),
		onGet:   make(map[string]func()),
	}
}

// OnList runs fn before the first List whose prefix is exactly prefix.
func (h *HookBackend) OnList(prefix string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onList[prefix] = fn
}

// OnGet runs fn after the first successful Get of a key starting with prefix,
// before the result is returned.
func (h *HookBackend) OnGet(prefix string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGet[prefix] = fn
}

func (h *HookBackend) List(ctx context.Context, prefix string) ([]storage.Entry, error) {
	h.mu.Lock()
	fn := h.onList[prefix]
	delete(h.onList, prefix)
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
	return h.Backend.List(ctx, prefix)
}

func (h *HookBackend) Get(ctx context.Context, key string) ([]byte, *storage.FileMetadata, error) {
	data, meta, err := h.Backend.Get(ctx, key)
	if err != nil {
		return data, meta, err
	}

	var fn func()
	h.mu.Lock()
	for prefix, hook := range h.onGet {
		if strings.HasPrefix(key, prefix) {
			fn = hook
			delete(h.onGet, prefix)
			break
		}
	}
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
	return data, meta, nil
}
