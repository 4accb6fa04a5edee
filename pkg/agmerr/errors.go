// Package agmerr defines AgentMem's error taxonomy: a closed set of error
// kinds every component reports through, wrapped with the failing operation
// name, similar to how fmt.Errorf("%w") chains are conventionally used.
package agmerr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories every AgentMem operation may
// fail with.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindConflictUnresolved Kind = "conflict_unresolved"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout            Kind = "timeout"
	KindIntegrity          Kind = "integrity"
	KindInternal           Kind = "internal"
)

// Sentinels for errors.Is comparisons where no extra context is needed.
var (
	ErrNotFound         = errors.New("agentmem: not found")
	ErrInvalidInput     = errors.New("agentmem: invalid input")
	ErrPermissionDenied = errors.New("agentmem: permission denied")
)

// Error is the wrapped error type returned by every AgentMem operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agentmem: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("agentmem: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind wrapping err.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the error's kind is one callers should retry
// with backoff, per the propagation policy: upstream failures and timeouts
// are retryable, everything else is not.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindUpstreamUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}
