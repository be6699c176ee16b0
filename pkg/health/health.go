// Package health probes every registered storage.
//
// A probe lists the version records of a storage under a timeout. The probe
// outcome maps onto three states:
//   - Healthy: the listing succeeded quickly
//   - Degraded: the listing succeeded but took longer than DegradedAfter
//   - Unhealthy: the listing failed or timed out
//
// The overall status is the worst status of any storage.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/marmos91/dittostore/pkg/version"
)

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}

// StorageHealth is the probe result of one storage.
type StorageHealth struct {
	Name           string    `json:"name"`
	Backend        string    `json:"backend"`
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	LastCheck      time.Time `json:"last_check"`
}

// Report is the result of probing every storage.
type Report struct {
	Status        Status          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Version       string          `json:"version,omitempty"`
	Storages      []StorageHealth `json:"storages"`
}

// Config tunes the probes.
type Config struct {
	// Timeout bounds one probe (default: 5s)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// DegradedAfter is the latency above which a successful probe is
	// reported as degraded (default: 2s)
	DegradedAfter time.Duration `mapstructure:"degraded_after" yaml:"degraded_after"`

	// Version is echoed in reports
	Version string `mapstructure:"-" yaml:"-"`
}

// Checker probes the storages of a registry.
type Checker struct {
	reg     *registry.Registry
	cfg     Config
	started time.Time
	now     func() time.Time
}

// NewChecker creates a checker. Uptime is measured from this call.
func NewChecker(reg *registry.Registry, cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 2 * time.Second
	}
	return &Checker{
		reg:     reg,
		cfg:     cfg,
		started: time.Now(),
		now:     time.Now,
	}
}

// Check probes every storage in name order.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Status:        Healthy,
		Timestamp:     c.now().UTC(),
		UptimeSeconds: int64(c.now().Sub(c.started).Seconds()),
		Version:       c.cfg.Version,
		Storages:      []StorageHealth{},
	}

	for _, s := range c.reg.Storages() {
		h := c.probe(ctx, s)
		if h.Status.rank() > report.Status.rank() {
			report.Status = h.Status
		}
		report.Storages = append(report.Storages, h)
	}
	return report
}

// CheckStorage probes one storage by name.
func (c *Checker) CheckStorage(ctx context.Context, name string) (StorageHealth, error) {
	s, err := c.reg.Get(name)
	if err != nil {
		return StorageHealth{}, err
	}
	return c.probe(ctx, s), nil
}

func (c *Checker) probe(ctx context.Context, s *registry.Storage) StorageHealth {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.now()
	_, err := s.Backend.List(ctx, version.VersionPrefix())
	elapsed := c.now().Sub(start)

	h := StorageHealth{
		Name:           s.Name,
		Backend:        s.Backend.Type(),
		ResponseTimeMS: elapsed.Milliseconds(),
		LastCheck:      start.UTC(),
	}

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || storage.CodeOf(err) == storage.ErrTimeout):
		h.Status = Unhealthy
		h.Message = "storage timeout"
		h.ResponseTimeMS = c.cfg.Timeout.Milliseconds()
	case err != nil:
		h.Status = Unhealthy
		h.Message = "storage error: " + err.Error()
	case elapsed > c.cfg.DegradedAfter:
		h.Status = Degraded
		h.Message = "storage is slow"
	default:
		h.Status = Healthy
		h.Message = "storage is operational"
	}

	if h.Status != Healthy {
		logger.Warn("Health probe: storage=%s status=%s response_time=%dms: %s",
			h.Name, h.Status, h.ResponseTimeMS, h.Message)
	}
	return h
}
