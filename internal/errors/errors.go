// Package errors provides the structured error taxonomy for taskforge.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStorageData       = errors.New("storage data corrupt")
	ErrStorageIO         = errors.New("storage unavailable")
	ErrConflict          = errors.New("destination already exists")
	ErrHookConfig        = errors.New("hook configuration invalid")
	ErrHookExec          = errors.New("hook execution failed")
)

// Is re-exports the standard errors.Is so callers only import one errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports the standard errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// New re-exports the standard errors.New.
func New(text string) error { return errors.New(text) }

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundError reports a task identifier that resolved to nothing.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransitionError reports an illegal status transition. The stored status
// is left untouched when this error is returned.
type TransitionError struct {
	TaskID    string
	Current   string
	Attempted string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %q to %q", e.TaskID, e.Current, e.Attempted)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StorageErrorKind distinguishes corrupt data from transient I/O failures so
// callers can pick different recovery paths.
type StorageErrorKind string

const (
	StorageData StorageErrorKind = "data" // malformed payload, failed integrity check
	StorageIO   StorageErrorKind = "io"   // locked database, permissions, disk
)

// StorageError wraps a backend failure with the backend name and failure kind.
type StorageError struct {
	Backend string
	Op      string
	Kind    StorageErrorKind
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	switch e.Kind {
	case StorageData:
		return target == ErrStorageData
	case StorageIO:
		return target == ErrStorageIO
	}
	return false
}

// NewStorageError builds a StorageError.
func NewStorageError(backend, op string, kind StorageErrorKind, err error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Kind: kind, Err: err}
}

// HookError wraps a failure from a single hook invocation.
type HookError struct {
	HookID  string
	Event   string
	Timeout bool
	Err     error
}

func (e *HookError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("hook %s (%s) timed out: %v", e.HookID, e.Event, e.Err)
	}
	return fmt.Sprintf("hook %s (%s): %v", e.HookID, e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func (e *HookError) Is(target error) bool { return target == ErrHookExec }

// OpError is the single use-case error category. Every repository or hook
// failure crossing the service boundary is wrapped in one of these so callers
// never see backend-specific error types directly; the cause stays reachable
// through Unwrap.
type OpError struct {
	Action string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is transient and worth retrying,
// in practice a locked or busy SQLite file under concurrent writers.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) && se.Kind == StorageIO {
		msg := se.Err.Error()
		return strings.Contains(msg, "database is locked") ||
			strings.Contains(msg, "database is busy") ||
			strings.Contains(msg, "SQLITE_BUSY")
	}
	return false
}

// IsBusy reports whether a raw driver error looks like lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
