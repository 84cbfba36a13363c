// Package errors provides the tagged error type shared by the render pipeline.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"
)

// Kind classifies a failure so the HTTP boundary can pick a status.
type Kind string

const (
	KindUnknown    Kind = "UNKNOWN"
	KindValidation Kind = "VALIDATION"
	KindChainRead  Kind = "CHAIN_READ"
	KindRender     Kind = "RENDER"
	KindCacheIO    Kind = "CACHE_IO"
)

// Error is the domain error type. Cause keeps the original failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags cause with kind. A nil cause yields nil.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrChainRead  = &Error{Kind: KindChainRead}
	ErrRender     = &Error{Kind: KindRender}
	ErrCacheIO    = &Error{Kind: KindCacheIO}
)

// KindOf returns the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindChainRead, KindRender:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case KindUnknown:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable string written in error bodies.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "invalid_token_id"
	case KindChainRead:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return "chain_timeout"
		}
		return "chain_read_failed"
	case KindRender:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return "render_timeout"
		}
		return "render_failed"
	case KindCacheIO:
		return "storage_failed"
	case KindUnknown:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "internal_server_error"
	default:
		return "internal_server_error"
	}
}
