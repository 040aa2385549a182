// Package deviceerr is the unified error taxonomy shared by every
// component of the signing core. Most fallible operations in this
// module return either nil or a *deviceerr.Error, so a caller can
// branch on Kind without knowing which package produced the failure.
// Some paths (the crypto package, encoding, and a few validation
// helpers) return plain errors instead, for which Of reports no Kind.
package deviceerr

import (
	"errors"
	"fmt"
)

// Kind is one of the ten closed failure categories this module
// distinguishes. Adding a case is a protocol-version change, same as
// the closed sum types in package signspec.
type Kind string

const (
	// SpecDecode: the signing spec was malformed or used an unknown
	// variant. Propagation: reject cycle, back to Idle.
	SpecDecode Kind = "spec_decode"

	// SandboxAbi: the interpreter violated the sandbox ABI (bad
	// pointer, bad length prefix, alloc failure). Propagation: reject
	// cycle, back to Idle.
	SandboxAbi Kind = "sandbox_abi"

	// SandboxExhausted: the interpreter exceeded a CPU, memory, or
	// stack cap. Propagation: reject cycle, back to Idle.
	SandboxExhausted Kind = "sandbox_exhausted"

	// RangeOutOfBounds: the signing spec's range selection exceeds the
	// payload length. Propagation: reject cycle, back to Idle.
	RangeOutOfBounds Kind = "range_out_of_bounds"

	// InvalidJSON: the interpreter returned bytes that are not UTF-8
	// JSON. Propagation: reject cycle.
	InvalidJSON Kind = "invalid_json"

	// SeAuth: PIN verification failed. Propagation: decrement
	// attempts, redisplay, transition to LockedOut on zero.
	SeAuth Kind = "se_auth"

	// SeLockedOut: the secure element reports hardware lockout.
	// Propagation: terminal LockedOut.
	SeLockedOut Kind = "se_locked_out"

	// SeOther: any other secure-element error. Propagation: Fatal with
	// a user-visible message.
	SeOther Kind = "se_other"

	// StorageIO: a mount/read/write failure. Propagation: reject cycle
	// if mid-cycle, Fatal if during provisioning.
	StorageIO Kind = "storage_io"

	// UserReject: the user pressed Reject at review. Not an error:
	// clean return to Idle.
	UserReject Kind = "user_reject"
)

// Resource is the SandboxExhausted sub-reason: which cap the
// interpreter exceeded.
type Resource string

const (
	ResourceCPU    Resource = "cpu"
	ResourceMemory Resource = "memory"
	ResourceStack  Resource = "stack"
)

// Error carries a Kind, an optional resource sub-reason, a human-safe
// detail string, and the underlying cause. It never carries private key
// material: every constructor in this package takes only plain strings
// and a wrapped error, so there is no code path that could smuggle a
// secret into an error value.
type Error struct {
	Kind     Kind
	Resource Resource // only meaningful when Kind == SandboxExhausted
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s{%s}: %s: %v", e.Kind, e.Resource, e.Detail, e.Cause)
		}
		return fmt.Sprintf("%s{%s}: %s", e.Kind, e.Resource, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, deviceerr.Sentinel(deviceerr.SpecDecode))
// work by comparing Kind against the Kind wrapped in the sentinel.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == Kind(k)
	}
	return false
}

// kindSentinel lets a bare Kind value be used as an errors.Is target.
type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinel returns a Kind as a comparison target for errors.Is, e.g.
// errors.Is(err, deviceerr.Sentinel(deviceerr.SpecDecode)).
func Sentinel(k Kind) error { return kindSentinel(k) }

// New builds an *Error with no cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Exhausted builds a SandboxExhausted error for a specific resource.
func Exhausted(resource Resource, detail string) *Error {
	return &Error{Kind: SandboxExhausted, Resource: resource, Detail: detail}
}

// Of reports the Kind of err if it is (or wraps) a *deviceerr.Error, and
// false otherwise — the unified dispatch point every layer above this
// package uses instead of type-asserting to *Error directly.
func Of(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
