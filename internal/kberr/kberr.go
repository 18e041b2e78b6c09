// Package kberr defines the structured error type shared by every knova
// subsystem. Errors carry a Kind (the stable, caller-facing taxonomy), a
// human-readable message, optional key-value details, and an optional cause
// for error chain support.
package kberr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers. Kinds are stable API: HTTP mapping
// and client retry decisions key off them.
type Kind string

const (
	KindInvalidArgument    Kind = "InvalidArgument"
	KindNotFound           Kind = "NotFound"
	KindDuplicateName      Kind = "DuplicateName"
	KindUnauthorized       Kind = "Unauthorized"
	KindRateLimited        Kind = "RateLimited"
	KindNotReady           Kind = "NotReady"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindConflict           Kind = "Conflict"
	KindCanceled           Kind = "Canceled"
	KindInternal           Kind = "Internal"
)

// Error is the structured error type for knova.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind from an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// FromContext maps a context error to KindCanceled.
// Non-context errors pass through unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindCanceled, "operation canceled", err)
	}
	return err
}

// KindOf extracts the kind from an error.
// Returns KindInternal for non-structured errors, KindCanceled for
// context errors, and empty string for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an operation failing with err may be retried.
// Only backend unavailability is considered transient.
func Retryable(err error) bool {
	return IsKind(err, KindBackendUnavailable)
}
