// Package apperr defines the error kinds shared across casefile.
package apperr

import "errors"

// Kind classifies an error for recovery and transport mapping.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindAlreadyExists         Kind = "already_exists"
	KindSourceUnavailable     Kind = "source_unavailable"
	KindCacheCorruption       Kind = "cache_corruption"
	KindCurationInconsistency Kind = "curation_inconsistency"
	KindGenerationTimeout     Kind = "generation_timeout"
	KindValidationFailure     Kind = "validation_failure"
	KindCheckpointMismatch    Kind = "checkpoint_mismatch"
)

// Error is a kinded error with optional metadata and cause.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict              = &Error{Kind: KindConflict, Message: "conflict"}
	ErrAlreadyExists         = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrSourceUnavailable     = &Error{Kind: KindSourceUnavailable, Message: "source unavailable"}
	ErrCacheCorruption       = &Error{Kind: KindCacheCorruption, Message: "cache corruption"}
	ErrCurationInconsistency = &Error{Kind: KindCurationInconsistency, Message: "curation inconsistency"}
	ErrGenerationTimeout     = &Error{Kind: KindGenerationTimeout, Message: "generation timeout"}
	ErrValidationFailure     = &Error{Kind: KindValidationFailure, Message: "validation failure"}
	ErrCheckpointMismatch    = &Error{Kind: KindCheckpointMismatch, Message: "checkpoint mismatch"}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMetadata creates an error carrying structured context.
func WithMetadata(kind Kind, message string, metadata map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Metadata: metadata}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
