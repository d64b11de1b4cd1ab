// Package faults defines the classified error type used across the tracking
// engine. Every failure that crosses a component boundary is wrapped in a
// Fault so callers can branch on the kind (retry next cycle, repair
// permissions, surface to the user) without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault for recovery logic.
type Kind string

const (
	// KindNotFound indicates a target, channel, or message is missing.
	// Benign: callers recreate the resource or skip the operation.
	KindNotFound Kind = "not_found"

	// KindDuplicateKey indicates a uniqueness violation on add.
	// Surfaced to the caller, never retried.
	KindDuplicateKey Kind = "duplicate_key"

	// KindUnreachable indicates a probe could not reach the game server.
	// Downgraded to an offline snapshot at the probe boundary; only the
	// add-operation's auto-detection surfaces it.
	KindUnreachable Kind = "unreachable"

	// KindPermissionDenied indicates a missing capability on a specific
	// resource. Triggers the rename fallback ladder.
	KindPermissionDenied Kind = "permission_denied"

	// KindRateLimited indicates a platform-wide throttle. Deferred to the
	// next cycle, never retried immediately.
	KindRateLimited Kind = "rate_limited"

	// KindUnexpected covers everything else. Logged with context; the
	// current target is abandoned, siblings continue.
	KindUnexpected Kind = "unexpected"
)

// Fault is a classified error with operation context.
type Fault struct {
	// Kind is the fault classification for recovery logic.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Resource identifies the target or platform resource involved.
	Resource string

	// Operation is what was being attempted when the fault occurred.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	switch {
	case f.Resource != "" && f.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			f.Kind, f.Message, f.Resource, f.Operation, f.unwrapMessage())
	case f.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s): %s", f.Kind, f.Message, f.Resource, f.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", f.Kind, f.Message, f.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (f *Fault) Unwrap() error {
	return f.Err
}

func (f *Fault) unwrapMessage() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return ""
}

// Is implements equality for errors.Is: two faults match on Kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// WithResource adds resource context to the fault.
func (f *Fault) WithResource(resource string) *Fault {
	f.Resource = resource
	return f
}

// WithOperation adds operation context to the fault.
func (f *Fault) WithOperation(operation string) *Fault {
	f.Operation = operation
	return f
}

// New creates a fault of the given kind.
func New(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// NotFound creates a not-found fault.
func NotFound(message string, err error) *Fault {
	return New(KindNotFound, message, err)
}

// DuplicateKey creates a duplicate-key fault.
func DuplicateKey(message string, err error) *Fault {
	return New(KindDuplicateKey, message, err)
}

// Unreachable creates an unreachable fault.
func Unreachable(message string, err error) *Fault {
	return New(KindUnreachable, message, err)
}

// PermissionDenied creates a permission-denied fault.
func PermissionDenied(message string, err error) *Fault {
	return New(KindPermissionDenied, message, err)
}

// RateLimited creates a rate-limited fault.
func RateLimited(message string, err error) *Fault {
	return New(KindRateLimited, message, err)
}

// Unexpected creates an unexpected fault.
func Unexpected(message string, err error) *Fault {
	return New(KindUnexpected, message, err)
}

// KindOf returns the classification of err, or KindUnexpected when err is
// not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnexpected
}

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsDuplicateKey reports whether err is classified as a duplicate key.
func IsDuplicateKey(err error) bool { return is(err, KindDuplicateKey) }

// IsUnreachable reports whether err is classified as unreachable.
func IsUnreachable(err error) bool { return is(err, KindUnreachable) }

// IsPermissionDenied reports whether err is classified as permission denied.
func IsPermissionDenied(err error) bool { return is(err, KindPermissionDenied) }

// IsRateLimited reports whether err is classified as rate limited.
func IsRateLimited(err error) bool { return is(err, KindRateLimited) }

func is(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
