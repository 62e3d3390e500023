// Package ferr defines the core error taxonomy shared by every forgecore
// component: typed, wrapped errors with an explicit retry classification
// instead of exception-style control flow.
package ferr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions (§7 of the design).
type Kind string

const (
	KindConfig    Kind = "config"    // invalid/inconsistent inputs to a core operation
	KindGraph     Kind = "graph"     // duplicate ids, missing nodes, cycles
	KindIO        Kind = "io"        // filesystem operations
	KindNetwork   Kind = "network"   // remote request failure, bad framing, timeout
	KindCache     Kind = "cache"     // not-found (soft), corruption (hard), full
	KindSandbox   Kind = "sandbox"   // hermeticity breach
	KindResource  Kind = "resource"  // memory/cpu/pids/disk-io/network-io limit exceeded
	KindExecution Kind = "execution" // non-zero exit, signal, output mismatch
	KindAuth      Kind = "auth"      // missing/invalid bearer token
	KindRateLimit Kind = "ratelimit" // request rejected or timed out waiting for tokens
	KindInternal  Kind = "internal"  // invariant violation
)

// Error is the common wrapped-error shape every forgecore package returns.
// Op and Target identify the failing operation and subject for the context
// chain the CLI shell (out of scope) maps to exit codes.
type Error struct {
	Kind       Kind
	Op         string // operation that failed, e.g. "graph.AddEdge"
	Target     string // relevant identifier, e.g. a TargetId or fingerprint
	Remedy     string // suggested remediation, optional
	Err        error  // wrapped cause, optional
	Retryable  bool
	Promotable bool // CacheError::NotFound-style soft failure
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Target != "" {
		msg = fmt.Sprintf("%s[%s]", msg, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Remedy != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Remedy)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}

// WithRemedy attaches a suggested remediation message.
func (e *Error) WithRemedy(remedy string) *Error {
	e.Remedy = remedy
	return e
}

// WithRetry marks the error as retryable by the scheduler.
func (e *Error) WithRetry() *Error {
	e.Retryable = true
	return e
}

// WithPromotable marks a CacheError as a soft not-found, promotable to a miss.
func (e *Error) WithPromotable() *Error {
	e.Promotable = true
	return e
}

// Is allows errors.Is(err, ferr.KindX) style matching against a bare Kind
// is not supported directly (Kind isn't an error); use KindOf instead.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsRetryable implements the propagation policy of §7: NetworkError,
// RateLimit, and transient ExecutionError retry up to the scheduler's cap;
// SandboxViolation, ResourceViolation, GraphError::Cycle and InternalError
// never do.
func IsRetryable(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Retryable {
		return true
	}
	switch fe.Kind {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsAbort reports whether an error must abort the whole build (GraphError
// cycles and internal invariant violations).
func IsAbort(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindInternal || (k == KindGraph && errors.Is(err, ErrCycle))
}

// IsPromotableMiss reports whether a CacheError should be treated as a
// plain miss rather than surfaced to the caller.
func IsPromotableMiss(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindCache && fe.Promotable
	}
	return false
}

// Sentinel causes usable with errors.Is, wrapped inside Error.Err.
var (
	ErrCycle       = errors.New("cycle detected")
	ErrNotFound    = errors.New("not found")
	ErrCorrupt     = errors.New("corrupt entry")
	ErrFull        = errors.New("cache full")
	ErrDuplicate   = errors.New("duplicate id")
	ErrTimeout     = errors.New("timeout")
	ErrUnreachable = errors.New("unreachable")
)
