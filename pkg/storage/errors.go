package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies storage failures independent of the substrate that produced them.
//
// Callers branch on the code rather than on backend-specific error values:
//   - ErrNotFound: key, version or content hash absent
//   - ErrConflict: a version-number or refcount race was lost; retry the whole operation
//   - ErrUnsupported: the backend lacks the requested capability (e.g. presign)
//   - ErrInvalidInput: malformed key, name or tag
//   - ErrTimeout: the caller-supplied deadline elapsed
//   - ErrInternal: backend I/O failure
type ErrorCode int

const (
	ErrNotFound ErrorCode = iota
	ErrConflict
	ErrUnsupported
	ErrInvalidInput
	ErrTimeout
	ErrInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrConflict:
		return "conflict"
	case ErrUnsupported:
		return "unsupported"
	case ErrInvalidInput:
		return "invalid input"
	case ErrTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// StoreError is the single error type returned across the storage engine.
type StoreError struct {
	Code ErrorCode
	Op   string // operation that failed, e.g. "put", "create_version"
	Key  string // physical or logical key, when known
	Err  error  // underlying cause, may be nil
}

func (e *StoreError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *StoreError with the same code.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a StoreError.
func NewError(code ErrorCode, op, key string, err error) *StoreError {
	return &StoreError{Code: code, Op: op, Key: key, Err: err}
}

// Errorf builds a StoreError whose cause is a formatted message.
func Errorf(code ErrorCode, op, key, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Op: op, Key: key, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches op/key context to err. Existing codes are preserved, deadline
// expiry becomes ErrTimeout and anything else becomes ErrInternal.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		if se.Op == op && se.Key == key {
			return err
		}
		return &StoreError{Code: se.Code, Op: op, Key: key, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StoreError{Code: ErrTimeout, Op: op, Key: key, Err: err}
	}
	return &StoreError{Code: ErrInternal, Op: op, Key: key, Err: err}
}

// CodeOf extracts the code of err. Errors outside the taxonomy are ErrInternal,
// except context deadline expiry which is ErrTimeout.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}

func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrNotFound
}

func IsConflict(err error) bool {
	return err != nil && CodeOf(err) == ErrConflict
}

func IsUnsupported(err error) bool {
	return err != nil && CodeOf(err) == ErrUnsupported
}

func IsInvalidInput(err error) bool {
	return err != nil && CodeOf(err) == ErrInvalidInput
}

// IsRetryable reports whether an idempotent read that failed with err may be retried.
// Only transient failures qualify; cancellation never does.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch CodeOf(err) {
	case ErrTimeout, ErrInternal:
		return true
	default:
		return false
	}
}
