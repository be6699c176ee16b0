// Package facade composes the named storages into the single operation
// surface used by every collaborator (CLI, HTTP handlers, jobs).
//
// Each operation resolves the named storage, runs the version chain under
// an optional deadline, keeps the read cache fresh, and then reports to the
// metrics and webhook collaborators. Collaborators are fire-and-forget: their
// failures never roll back a storage mutation.
//
// Error semantics:
//   - Reads (get, head, exists, list, search, versions) are retried on
//     transient Timeout/Internal failures using the configured policy
//   - Mutations are never retried, so a version is never created twice
//   - Every mutation invalidates the affected cache entry before returning
//
// Thread safety:
// A Facade is safe for concurrent use. It holds no lock of its own; the only
// serialization happens inside the version chain (per file) and the content
// index (per hash).
package facade

import (
	"context"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/retry"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// Publisher receives one event per successful operation. Publish must not
// block.
type Publisher interface {
	Publish(ev webhook.Event)
}

// Options configures a Facade. Every field is optional.
type Options struct {
	// Retry bounds the automatic retry of idempotent reads
	Retry retry.Policy

	// OperationTimeout is applied to every operation whose context has no
	// earlier deadline. 0 disables it.
	OperationTimeout time.Duration

	Publisher Publisher
	Metrics   Metrics
}

// Facade is the storage engine entry point.
type Facade struct {
	reg       *registry.Registry
	retry     retry.Policy
	timeout   time.Duration
	publisher Publisher
	metrics   Metrics
	now       func() time.Time
}

// New creates a facade over every storage in reg.
func New(reg *registry.Registry, opts Options) *Facade {
	f := &Facade{
		reg:       reg,
		retry:     opts.Retry,
		timeout:   opts.OperationTimeout,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if f.metrics == nil {
		f.metrics = noopMetrics{}
	}
	return f
}

// Registry returns the storages served by f.
func (f *Facade) Registry() *registry.Registry { return f.reg }

// ============================================================================
// Caller identity
// ============================================================================

type userKey struct{}

// WithUser attaches the id of the acting user to ctx. It is forwarded to
// webhook subscribers and never used for authorization.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the id set by WithUser, or "".
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// ============================================================================
// Helpers
// ============================================================================

// call is the per-operation bookkeeping shared by every facade method.
type call struct {
	f       *Facade
	op      string
	storage string
	start   time.Time
}

func (f *Facade) begin(op, storageName string) *call {
	return &call{f: f, op: op, storage: storageName, start: time.Now()}
}

// done records the outcome and returns err unchanged.
func (c *call) done(err error) error {
	c.f.metrics.ObserveOperation(c.storage, c.op, time.Since(c.start), err)
	if err != nil && !storage.IsNotFound(err) {
		logger.Debug("%s failed: storage=%s: %v", c.op, c.storage, err)
	}
	return err
}

// open resolves the storage and validates key.
func (f *Facade) open(op string, key storage.FileKey) (*registry.Storage, error) {
	if err := key.Validate(); err != nil {
		return nil, storage.Wrap(op, key.Name, err)
	}
	s, err := f.reg.Get(key.Storage)
	if err != nil {
		return nil, storage.Wrap(op, key.Name, err)
	}
	return s, nil
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= f.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}

// read runs an idempotent read under the retry policy.
func read[T any](ctx context.Context, f *Facade, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	return retry.DoWithData(ctx, f.retry, op, func() (T, error) {
		return fn(ctx)
	})
}

func (f *Facade) publish(ctx context.Context, kind webhook.EventKind, key storage.FileKey, meta *storage.FileMetadata) {
	if f.publisher == nil {
		return
	}
	f.publisher.Publish(webhook.Event{
		Kind:      kind,
		Timestamp: f.now(),
		Storage:   key.Storage,
		Key:       key.Name,
		Metadata:  meta.Clone(),
		UserID:    UserFromContext(ctx),
	})
}
