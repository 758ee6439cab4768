// Package errs provides the error type shared by the registry, scanner,
// inference strategies, store client and orchestrator.
//
// Components wrap driver and transport errors into *errs.Error; callers
// branch on the kind with the Is* predicates:
//
//	if errs.IsNotFound(err) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
type ErrKind int

const (
	ErrKindUnknown      ErrKind = iota
	ErrKindValidation           // missing or malformed input, unsupported engine
	ErrKindConnection           // engine unreachable, auth rejected, probe failed
	ErrKindNotFound             // no live handle, no relationship
	ErrKindCatalogQuery         // information_schema query failed during a scan
	ErrKindRemoteStore          // metadata store answered with a non-200 envelope
	ErrKindInvalidState         // operation not allowed in the current detection state
	ErrKindQuery                // ad-hoc statement failed on a live handle
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindConnection:
		return "connection"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindCatalogQuery:
		return "catalog_query"
	case ErrKindRemoteStore:
		return "remote_store"
	case ErrKindInvalidState:
		return "invalid_state"
	case ErrKindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver or transport error, kept for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Validation returns a validation error.
func Validation(msg string) *Error { return New(ErrKindValidation, msg) }

// NotFound returns a not-found error.
func NotFound(msg string) *Error { return New(ErrKindNotFound, msg) }

// IsValidation reports whether err was caused by bad input from the caller.
func IsValidation(err error) bool {
	return KindOf(err) == ErrKindValidation
}

// IsConnection reports whether err is a connectivity or auth failure.
func IsConnection(err error) bool {
	return KindOf(err) == ErrKindConnection
}

// IsNotFound reports whether err references something that does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsCatalogQuery reports whether err is a failed catalog query.
func IsCatalogQuery(err error) bool {
	return KindOf(err) == ErrKindCatalogQuery
}

// IsRemoteStore reports whether err came from a non-200 store envelope.
func IsRemoteStore(err error) bool {
	return KindOf(err) == ErrKindRemoteStore
}

// IsInvalidState reports whether err was rejected by the detection state machine.
func IsInvalidState(err error) bool {
	return KindOf(err) == ErrKindInvalidState
}

// IsQuery reports whether err is a failed ad-hoc statement.
func IsQuery(err error) bool {
	return KindOf(err) == ErrKindQuery
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// MessageOf returns the user-facing message of err, without the cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
