// Package retry runs idempotent operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Policy controls how an operation is retried.
type Policy struct {
	// Attempts is the total number of tries including the first (default: 3)
	Attempts uint `mapstructure:"attempts" validate:"omitempty,min=1,max=10" yaml:"attempts"`

	// InitialDelay is the delay before the second try (default: 100ms)
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the backoff between tries (default: 2s)
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts == 0 {
		p.Attempts = d.Attempts
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// options builds retry-go options. Only errors classified retryable by the
// storage taxonomy are retried, and the last error is returned unwrapped so
// callers can still inspect its code.
func (p Policy) options(ctx context.Context, op string) []retry.Option {
	p = p.withDefaults()
	return []retry.Option{
		retry.Attempts(p.Attempts),
		retry.Delay(p.InitialDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(storage.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("retrying %s (attempt %d): %v", op, n+1, err)
		}),
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	return retry.Do(fn, p.options(ctx, op)...)
}

// DoWithData is Do for functions that return a value.
func DoWithData[T any](ctx context.Context, p Policy, op string, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, p.options(ctx, op)...)
}
