package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a dispatch failure. The string value is what clients
// see in the "kind" field of an error response.
type ErrorKind string

const (
	// KindInvalidRequest marks malformed requests, missing fields or unknown
	// service types. Never retried.
	KindInvalidRequest ErrorKind = "InvalidRequest"
	// KindResourceNotFound marks resources the resolver cannot locate.
	KindResourceNotFound ErrorKind = "ResourceNotFound"
	// KindStaleState marks requests whose required state version does not
	// match the current document version.
	KindStaleState ErrorKind = "StaleState"
	// KindCancelled marks requests superseded or cancelled before completion.
	KindCancelled ErrorKind = "Cancelled"
	// KindServiceFailure marks domain errors raised by the invoked service.
	KindServiceFailure ErrorKind = "ServiceFailure"
	// KindInternalError marks unexpected faults in scheduling or bookkeeping.
	KindInternalError ErrorKind = "InternalError"
)

// Error is the error type produced by the dispatch core. It carries a Kind
// for response mapping plus an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// test kinds with errors.Is(err, core.ErrStaleState).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
	ErrResourceNotFound = &Error{Kind: KindResourceNotFound}
	ErrStaleState       = &Error{Kind: KindStaleState}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrServiceFailure   = &Error{Kind: KindServiceFailure}
	ErrInternal         = &Error{Kind: KindInternalError}
)

// NewError builds an *Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error of the given kind around cause.
func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind carried by err. Errors that are not *Error are
// reported as ServiceFailure since they originate from service code.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServiceFailure
}
