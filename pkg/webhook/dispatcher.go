package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/storage"
)

type delivery struct {
	hook  Hook
	event Event
}

// Stats counts delivery outcomes since the dispatcher was created.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
	Hooks   int    `json:"hooks"`
}

// Dispatcher owns the hook table, the delivery queue and the worker pool.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	metrics Metrics
	limits  *ratelimiter.Group

	mu      sync.RWMutex
	hooks   map[string]Hook
	closed  bool
	started bool

	queue chan delivery
	wg    sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a dispatcher and registers cfg.Hooks. Workers are not running
// until Start is called; events published before that stay queued.
func New(cfg Config, metrics Metrics) (*Dispatcher, error) {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics,
		limits:  ratelimiter.NewGroup(cfg.RateLimit, cfg.Burst),
		hooks:   make(map[string]Hook),
		queue:   make(chan delivery, cfg.QueueSize),
	}

	for _, h := range cfg.Hooks {
		if _, err := d.Register(h); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds or replaces a hook. An empty ID is replaced by a random one.
func (d *Dispatcher) Register(h Hook) (Hook, error) {
	if err := validateHook(h); err != nil {
		return Hook{}, err
	}
	h = h.clone()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	d.mu.Lock()
	d.hooks[h.ID] = h
	d.mu.Unlock()

	logger.Info("Webhook registered: id=%s url=%s events=%v enabled=%t", h.ID, h.URL, h.Events, h.Enabled)
	return h.clone(), nil
}

// Unregister removes a hook. Deliveries already queued for it still run.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	_, ok := d.hooks[id]
	delete(d.hooks, id)
	d.mu.Unlock()

	if !ok {
		return storage.NewError(storage.ErrNotFound, "unregister_webhook", id, nil)
	}
	d.limits.Forget(id)
	logger.Info("Webhook unregistered: id=%s", id)
	return nil
}

// List returns the registered hooks ordered by ID.
func (d *Dispatcher) List() []Hook {
	d.mu.RLock()
	out := make([]Hook, 0, len(d.hooks))
	for _, h := range d.hooks {
		out = append(out, h.clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Publish enqueues ev for every enabled hook subscribed to its kind. It
// never blocks: when the queue is full the delivery is dropped.
func (d *Dispatcher) Publish(ev Event) {
	if !d.cfg.Enabled {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, h := range d.hooks {
		if !h.subscribed(ev.Kind) {
			continue
		}
		select {
		case d.queue <- delivery{hook: h, event: ev}:
		default:
			d.dropped.Inc()
			d.metrics.Dropped(ev.Kind)
			logger.Warn("Webhook queue full, dropping event: hook=%s event=%s key=%s/%s",
				h.ID, ev.Kind, ev.Storage, ev.Key)
		}
	}
}

// Start launches the worker pool. Calling it more than once has no effect.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logger.Info("Webhook dispatcher started: workers=%d queue_size=%d rate_limit=%.1f",
		d.cfg.Workers, d.cfg.QueueSize, d.cfg.RateLimit)
}

// Stop closes the queue and waits for workers to drain it, or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Webhook dispatcher stopped: sent=%d failed=%d dropped=%d",
			d.sent.Load(), d.failed.Load(), d.dropped.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook dispatcher stop: %w", ctx.Err())
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	hooks := len(d.hooks)
	d.mu.RUnlock()

	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Pending: len(d.queue),
		Hooks:   hooks,
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, job delivery) {
	if err := d.limits.Wait(ctx, job.hook.ID); err != nil {
		d.fail(job, err)
		return
	}
	if err := d.send(ctx, job); err != nil {
		d.fail(job, err)
		return
	}
	d.sent.Inc()
	d.metrics.Sent(job.event.Kind)
	logger.Debug("Webhook delivered: hook=%s event=%s key=%s/%s",
		job.hook.ID, job.event.Kind, job.event.Storage, job.event.Key)
}

func (d *Dispatcher) fail(job delivery, err error) {
	d.failed.Inc()
	d.metrics.Failed(job.event.Kind)
	logger.Warn("Webhook delivery failed: hook=%s url=%s event=%s: %v",
		job.hook.ID, job.hook.URL, job.event.Kind, err)
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	body, err := json.Marshal(job.event)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range job.hook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func validateHook(h Hook) error {
	u, err := url.Parse(h.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return storage.Errorf(storage.ErrInvalidInput, "register_webhook", h.ID, "invalid url %q", h.URL)
	}
	if len(h.Events) == 0 {
		return storage.Errorf(storage.ErrInvalidInput, "register_webhook", h.ID, "no events")
	}
	for _, e := range h.Events {
		if !e.Valid() {
			return storage.Errorf(storage.ErrInvalidInput, "register_webhook", h.ID, "unknown event %q", e)
		}
	}
	return nil
}
