package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification carried by every error
// the engine surfaces to callers
type ErrorKind string

const (
	ErrParentNotFound    ErrorKind = "parent_not_found"
	ErrTaskNotFound      ErrorKind = "task_not_found"
	ErrAgentNotFound     ErrorKind = "agent_not_found"
	ErrMessageNotFound   ErrorKind = "message_not_found"
	ErrInvalidTransition ErrorKind = "invalid_transition"
	ErrVersionMismatch   ErrorKind = "version_mismatch"
	ErrInvariantViolated ErrorKind = "invariant_violated"
	ErrFs                ErrorKind = "fs_error"
	ErrInterrupted       ErrorKind = "interrupted"
)

// FsKind classifies filesystem failures
type FsKind string

const (
	FsNotFound         FsKind = "not_found"
	FsPermissionDenied FsKind = "permission_denied"
	FsDiskFull         FsKind = "disk_full"
	FsCrossDevice      FsKind = "cross_device"
	FsOther            FsKind = "other"
)

// Error is the engine's error type: a short machine-readable kind plus a
// human-readable detail string.
//
// FsKind is set only when Kind is ErrFs. CommitObserved is meaningful on
// ErrInterrupted and ErrFs errors raised after a store transaction: it tells
// the caller whether the transition committed before the failure, so they
// know whether reconciliation (rather than a retry) is the right follow-up.
type Error struct {
	Kind           ErrorKind
	Detail         string
	FsKind         FsKind
	CommitObserved bool
	Err            error
}

func (e *Error) Error() string {
	if e.FsKind != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.FsKind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with a formatted detail string
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// NewFsError builds a filesystem Error wrapping the underlying cause
func NewFsError(kind FsKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrFs, FsKind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, or "" if err is not an engine error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FsKindOf extracts the filesystem sub-kind from err, or "" when absent
func FsKindOf(err error) FsKind {
	var e *Error
	if errors.As(err, &e) {
		return e.FsKind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsVersionMismatch reports whether err is an optimistic concurrency conflict
func IsVersionMismatch(err error) bool { return IsKind(err, ErrVersionMismatch) }

// IsInvalidTransition reports whether err is a status machine violation
func IsInvalidTransition(err error) bool { return IsKind(err, ErrInvalidTransition) }

// IsNotFound reports whether err is any of the *_not_found kinds
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case ErrTaskNotFound, ErrParentNotFound, ErrAgentNotFound, ErrMessageNotFound:
		return true
	}
	return false
}

// IsInterrupted reports whether err is a cancellation surfaced at an I/O
// boundary
func IsInterrupted(err error) bool { return IsKind(err, ErrInterrupted) }
