package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/storage"
)

type receiver struct {
	mu      sync.Mutex
	events  []Event
	headers []http.Header
	status  int
}

func newReceiver(t *testing.T, status int) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var ev Event
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.QueueSize = 16
	cfg.Timeout = 2 * time.Second
	cfg.RateLimit = 0
	return cfg
}

func startDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(cfg, nil)
	require.NoError(t, err)
	d.Start(context.Background())
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func TestDispatcher_DeliversPayloadAndHeaders(t *testing.T) {
	recv, srv := newReceiver(t, http.StatusOK)
	d := startDispatcher(t, testConfig())

	_, err := d.Register(Hook{
		ID:      "audit",
		URL:     srv.URL,
		Events:  []EventKind{Uploaded},
		Headers: map[string]string{"X-Token": "secret"},
		Enabled: true,
	})
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.Publish(Event{
		Kind:      Uploaded,
		Timestamp: at,
		Storage:   "docs",
		Key:       "a.txt",
		Metadata:  &storage.FileMetadata{Storage: "docs", Name: "a.txt", Version: 1},
		UserID:    "u1",
	})

	require.Eventually(t, func() bool { return recv.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	ev := recv.events[0]
	assert.Equal(t, Uploaded, ev.Kind)
	assert.Equal(t, "docs", ev.Storage)
	assert.Equal(t, "a.txt", ev.Key)
	assert.Equal(t, "u1", ev.UserID)
	assert.True(t, at.Equal(ev.Timestamp))
	require.NotNil(t, ev.Metadata)
	assert.Equal(t, uint32(1), ev.Metadata.Version)
	assert.Equal(t, "secret", recv.headers[0].Get("X-Token"))
	assert.Equal(t, "application/json", recv.headers[0].Get("Content-Type"))

	require.Eventually(t, func() bool { return d.Stats().Sent == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatcher_FiltersByEventAndEnabled(t *testing.T) {
	recv, srv := newReceiver(t, http.StatusOK)
	d := startDispatcher(t, testConfig())

	_, err := d.Register(Hook{ID: "deletes", URL: srv.URL, Events: []EventKind{Deleted}, Enabled: true})
	require.NoError(t, err)
	_, err = d.Register(Hook{ID: "off", URL: srv.URL, Events: AllEvents, Enabled: false})
	require.NoError(t, err)

	d.Publish(Event{Kind: Uploaded, Storage: "s", Key: "k"})
	d.Publish(Event{Kind: Deleted, Storage: "s", Key: "k"})

	require.Eventually(t, func() bool { return recv.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	// Give stray deliveries a chance to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, recv.count())

	recv.mu.Lock()
	assert.Equal(t, Deleted, recv.events[0].Kind)
	recv.mu.Unlock()
}

func TestDispatcher_NonSuccessStatusCountsAsFailure(t *testing.T) {
	_, srv := newReceiver(t, http.StatusInternalServerError)
	d := startDispatcher(t, testConfig())

	_, err := d.Register(Hook{ID: "h", URL: srv.URL, Events: []EventKind{Restored}, Enabled: true})
	require.NoError(t, err)

	d.Publish(Event{Kind: Restored, Storage: "s", Key: "k"})

	require.Eventually(t, func() bool { return d.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), d.Stats().Sent)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d, err := New(cfg, nil)
	require.NoError(t, err)
	// Workers are never started, so the queue stays full.

	_, err = d.Register(Hook{ID: "h", URL: "http://127.0.0.1:1/hook", Events: AllEvents, Enabled: true})
	require.NoError(t, err)

	d.Publish(Event{Kind: Uploaded})
	d.Publish(Event{Kind: Uploaded})
	d.Publish(Event{Kind: Uploaded})

	st := d.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, uint64(2), st.Dropped)
}

func TestDispatcher_DisabledPublishesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	d, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = d.Register(Hook{ID: "h", URL: "http://127.0.0.1:1/hook", Events: AllEvents, Enabled: true})
	require.NoError(t, err)

	d.Publish(Event{Kind: Uploaded})
	assert.Equal(t, 0, d.Stats().Pending)
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	d, err := New(testConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		hook Hook
	}{
		{"bad scheme", Hook{URL: "ftp://example.com", Events: AllEvents}},
		{"no host", Hook{URL: "http://", Events: AllEvents}},
		{"no events", Hook{URL: "http://example.com"}},
		{"unknown event", Hook{URL: "http://example.com", Events: []EventKind{"renamed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Register(tt.hook)
			require.Error(t, err)
			assert.True(t, storage.IsInvalidInput(err))
		})
	}
	assert.Empty(t, d.List())
}

func TestDispatcher_RegisterListUnregister(t *testing.T) {
	d, err := New(testConfig(), nil)
	require.NoError(t, err)

	generated, err := d.Register(Hook{URL: "http://example.com/a", Events: []EventKind{Uploaded}, Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	_, err = d.Register(Hook{ID: "b", URL: "http://example.com/b", Events: []EventKind{Deleted}})
	require.NoError(t, err)

	hooks := d.List()
	require.Len(t, hooks, 2)
	ids := []string{hooks[0].ID, hooks[1].ID}
	assert.Contains(t, ids, generated.ID)
	assert.Contains(t, ids, "b")

	require.NoError(t, d.Unregister("b"))
	assert.Len(t, d.List(), 1)

	err = d.Unregister("b")
	assert.True(t, storage.IsNotFound(err))
}

func TestDispatcher_ConfiguredHooksAreRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.Hooks = []Hook{{ID: "cfg", URL: "https://example.com/hook", Events: []EventKind{VersionCreated}, Enabled: true}}

	d, err := New(cfg, nil)
	require.NoError(t, err)
	require.Len(t, d.List(), 1)
	assert.Equal(t, "cfg", d.List()[0].ID)

	cfg.Hooks = []Hook{{URL: "not a url", Events: AllEvents}}
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d, err := New(testConfig(), nil)
	require.NoError(t, err)
	d.Start(context.Background())

	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	// Publishing after stop is a no-op rather than a panic.
	_, err = d.Register(Hook{ID: "h", URL: "http://example.com", Events: AllEvents, Enabled: true})
	require.NoError(t, err)
	d.Publish(Event{Kind: Uploaded})
	assert.Equal(t, 0, d.Stats().Pending)
}
