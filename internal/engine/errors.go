package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. The kind decides retry behavior and
// the process exit code.
type ErrorKind string

const (
	// KindConfig marks invalid configuration. Never retried.
	KindConfig ErrorKind = "config"
	// KindCredential marks vault or credential failures. Never retried.
	KindCredential ErrorKind = "credential"
	// KindConnectivity marks network-level failures. Retryable.
	KindConnectivity ErrorKind = "connectivity"
	// KindOperation marks dump, restore, compression, or upload failures.
	// Retryable.
	KindOperation ErrorKind = "operation"
	// KindInvariant marks broken internal assumptions. Never retried.
	KindInvariant ErrorKind = "invariant"
	// KindCancelled marks cooperative cancellation. Never retried.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the typed engine failure: a kind, the step that failed
// ("download", "decompress", "restore", ...), and the underlying cause.
type Error struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s failed (%s)", e.Step, e.Kind)
	}
	return fmt.Sprintf("engine: %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed engine error.
func E(kind ErrorKind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the kind from an error chain. Plain context cancellation
// maps to KindCancelled; anything else untyped is an operation error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindOperation
}

// retryable reports whether the executor may attempt the operation again.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindOperation:
		return true
	}
	return false
}
