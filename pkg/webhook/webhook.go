// Package webhook delivers file events to registered HTTP endpoints.
//
// Delivery is best-effort and asynchronous: Publish never blocks the caller.
// Events are queued on a bounded channel drained by a fixed worker pool; when
// the queue is full the event is dropped and counted. Each hook is paced by
// its own token bucket so a slow subscriber cannot be flooded.
package webhook

import (
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
)

// EventKind identifies what happened to a file.
type EventKind string

const (
	Uploaded       EventKind = "uploaded"
	Downloaded     EventKind = "downloaded"
	Deleted        EventKind = "deleted"
	Restored       EventKind = "restored"
	VersionCreated EventKind = "version_created"
)

// AllEvents lists every kind a hook may subscribe to.
var AllEvents = []EventKind{Uploaded, Downloaded, Deleted, Restored, VersionCreated}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	for _, e := range AllEvents {
		if e == k {
			return true
		}
	}
	return false
}

// Event is the JSON payload posted to subscribers.
type Event struct {
	Kind      EventKind             `json:"event"`
	Timestamp time.Time             `json:"timestamp"`
	Storage   string                `json:"storage_name"`
	Key       string                `json:"file_key"`
	Metadata  *storage.FileMetadata `json:"metadata,omitempty"`
	UserID    string                `json:"user_id,omitempty"`
}

// Hook is one registered subscriber.
type Hook struct {
	// ID names the hook. Generated when empty at registration.
	ID string `mapstructure:"id" yaml:"id" json:"id"`

	// URL receives a POST with the JSON event body
	URL string `mapstructure:"url" validate:"required,url" yaml:"url" json:"url"`

	// Events the hook subscribes to
	Events []EventKind `mapstructure:"events" validate:"required,min=1" yaml:"events" json:"events"`

	// Headers are added to every request (e.g. an auth token)
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`

	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

func (h Hook) subscribed(kind EventKind) bool {
	if !h.Enabled {
		return false
	}
	for _, e := range h.Events {
		if e == kind {
			return true
		}
	}
	return false
}

func (h Hook) clone() Hook {
	c := h
	c.Events = append([]EventKind(nil), h.Events...)
	if h.Headers != nil {
		c.Headers = make(map[string]string, len(h.Headers))
		for k, v := range h.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// Config configures the dispatcher.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Workers is the number of concurrent deliveries (default: 4)
	Workers int `mapstructure:"workers" validate:"omitempty,min=1,max=256" yaml:"workers"`

	// QueueSize bounds pending deliveries; further events are dropped (default: 1024)
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,min=1" yaml:"queue_size"`

	// Timeout bounds one HTTP delivery (default: 10s)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RateLimit is deliveries per second per hook. 0 disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" validate:"omitempty,min=0" yaml:"rate_limit"`

	// Burst is the token bucket size per hook (default: 10)
	Burst int `mapstructure:"burst" validate:"omitempty,min=1" yaml:"burst"`

	Hooks []Hook `mapstructure:"hooks" validate:"dive" yaml:"hooks"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Workers:   4,
		QueueSize: 1024,
		Timeout:   10 * time.Second,
		RateLimit: 10,
		Burst:     10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	return c
}

// Metrics observes deliveries. Implementations must be safe for concurrent use.
type Metrics interface {
	Sent(event EventKind)
	Failed(event EventKind)
	Dropped(event EventKind)
}

type noopMetrics struct{}

func (noopMetrics) Sent(EventKind)    {}
func (noopMetrics) Failed(EventKind)  {}
func (noopMetrics) Dropped(EventKind) {}
