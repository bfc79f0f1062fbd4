// Package errors defines the error taxonomy shared by the indexer, the search
// executor and the HTTP surface. Every failure crossing a package boundary is
// either one of the sentinels below or a typed error that unwraps to one.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIO             = errors.New("io error")
	ErrMalformedQuery = errors.New("malformed query")
	ErrIndexCorrupt   = errors.New("index corrupt")
	ErrCancelled      = errors.New("cancelled")
	ErrRootNotFound   = errors.New("root not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
)

// StatusClientClosedRequest is reported when the caller cancelled the work.
const StatusClientClosedRequest = 499

// IOError records a per-document read failure. It is never fatal for a build.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// QueryError is returned by the query compiler. Pos is the byte offset in the
// query text where the problem was detected, or -1 for whole-query problems.
type QueryError struct {
	Query  string
	Pos    int
	Reason string
}

func (e *QueryError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("malformed query %q at %d: %s", e.Query, e.Pos, e.Reason)
	}
	return fmt.Sprintf("malformed query %q: %s", e.Query, e.Reason)
}

func (e *QueryError) Unwrap() error {
	return ErrMalformedQuery
}

// CorruptError describes a structural validation failure of the persisted
// index. The store recovers by rebuilding from scratch.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("index corrupt (%s): %s", e.Path, e.Reason)
}

func (e *CorruptError) Unwrap() error {
	return ErrIndexCorrupt
}

// Corruptf builds a CorruptError with a formatted reason.
func Corruptf(path string, format string, args ...any) *CorruptError {
	return &CorruptError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// IsCancelled reports whether err is a cancellation outcome rather than a
// failure. Context errors count as cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Cancelled converts a context error into ErrCancelled. The cause stays in
// the chain so callers can still tell a deadline from a cancellation.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrMalformedQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRootNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case IsCancelled(err):
		return StatusClientClosedRequest
	case errors.Is(err, ErrIndexCorrupt):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
