// Package errkind defines the POSIX-flavored error kinds surfaced across
// the transaction engine, lock manager, and tiered filesystem facade,
// plus the aggregate error rollback produces when undo itself fails.
// juju/errors adds call-site context to backend failures while every
// surfaced error carries a stable Kind, so callers branch on the Kind
// instead of string-matching.
package errkind

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Kind is a POSIX-style error classification.
type Kind string

const (
	NotFound      Kind = "ENOENT"
	Exists        Kind = "EEXIST"
	IsDir         Kind = "EISDIR"
	NotDir        Kind = "ENOTDIR"
	NotEmpty      Kind = "ENOTEMPTY"
	Permission    Kind = "EACCES"
	NotPermitted  Kind = "EPERM"
	Invalid       Kind = "EINVAL"
	ReadOnly      Kind = "EROFS"
	CrossDevice   Kind = "EXDEV"
	WouldBlock    Kind = "EWOULDBLOCK"
	TimedOut      Kind = "ETIMEDOUT"
	Stale         Kind = "ESTALE"
	Precondition  Kind = "EPRECONDITION"
	NoSpace       Kind = "ENOSPC"
)

// Error is a classified, located error: a Kind plus the operation and path
// that produced it, wrapping an optional underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		fmt.Fprintf(&b, " %s", e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error, annotating the optional cause via
// juju/errors so its stack trace (when present) survives.
func New(kind Kind, op, path string, cause error) *Error {
	if cause != nil {
		cause = errors.Annotate(cause, op)
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		if u, ok := err.(interface{ Unwrap() error }); ok {
			err = u.Unwrap()
			continue
		}
		cause := errors.Cause(err)
		if cause == err {
			return false
		}
		err = cause
	}
	return false
}

// KindOf extracts the Kind carried by err, or "" if none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		cause := errors.Cause(err)
		if cause == err {
			return ""
		}
		err = cause
	}
	return ""
}

// Aggregate is the error produced when a rollback runs after a primary
// operation failure: the original error first, followed by every rollback
// step error, in rollback order.
type Aggregate struct {
	Primary  error
	Rollback []error
}

func (a *Aggregate) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction failed: %s", a.Primary.Error())
	for i, r := range a.Rollback {
		fmt.Fprintf(&b, "; rollback step %d error: %s", i, r.Error())
	}
	return b.String()
}

func (a *Aggregate) Unwrap() error { return a.Primary }

// NewAggregate wraps primary with any rollback errors encountered while
// undoing it. If rollback has no errors, primary is returned unchanged.
func NewAggregate(primary error, rollback []error) error {
	if len(rollback) == 0 {
		return primary
	}
	return &Aggregate{Primary: primary, Rollback: rollback}
}
