package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of the transport.
type Kind string

const (
	KindInvalidInput   Kind = "INVALID_INPUT"
	KindNotFound       Kind = "NOT_FOUND"
	KindForbidden      Kind = "FORBIDDEN"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindLotUnavailable Kind = "LOT_UNAVAILABLE"
	KindNoCapacity     Kind = "NO_CAPACITY"
	KindConflict       Kind = "CONFLICT"
	KindInvalidState   Kind = "INVALID_STATE"
	KindExpired        Kind = "EXPIRED"
	KindNotYetValid    Kind = "NOT_YET_VALID"
	KindInternal       Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindInvalidInput:   http.StatusBadRequest,
	KindNotFound:       http.StatusNotFound,
	KindForbidden:      http.StatusForbidden,
	KindUnauthorized:   http.StatusUnauthorized,
	KindLotUnavailable: http.StatusConflict,
	KindNoCapacity:     http.StatusConflict,
	KindConflict:       http.StatusConflict,
	KindInvalidState:   http.StatusConflict,
	KindExpired:        http.StatusGone,
	KindNotYetValid:    http.StatusConflict,
	KindInternal:       http.StatusInternalServerError,
}

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Code    int
	Kind    Kind
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// New creates a new HTTPError of the given kind. The HTTP status is
// derived from the kind.
func New(kind Kind, message string) *HTTPError {
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &HTTPError{Code: code, Kind: kind, Message: message}
}

// Wrap is like New but keeps err as the cause.
func Wrap(kind Kind, message string, err error) *HTTPError {
	e := New(kind, message)
	e.Err = err
	return e
}

// Helper for common errors
var (
	ErrUnauthorized   = func(msg string) *HTTPError { return New(KindUnauthorized, msg) }
	ErrInvalidInput   = func(msg string) *HTTPError { return New(KindInvalidInput, msg) }
	ErrNotFound       = func(msg string) *HTTPError { return New(KindNotFound, msg) }
	ErrForbidden      = func(msg string) *HTTPError { return New(KindForbidden, msg) }
	ErrLotUnavailable = func(msg string) *HTTPError { return New(KindLotUnavailable, msg) }
	ErrNoCapacity     = func(msg string) *HTTPError { return New(KindNoCapacity, msg) }
	ErrConflict       = func(msg string) *HTTPError { return New(KindConflict, msg) }
	ErrInvalidState   = func(msg string) *HTTPError { return New(KindInvalidState, msg) }
	ErrExpired        = func(msg string) *HTTPError { return New(KindExpired, msg) }
	ErrNotYetValid    = func(msg string) *HTTPError { return New(KindNotYetValid, msg) }
)

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *HTTPError {
	return Wrap(KindInternal, msg, err)
}

// KindOf reports the kind of the first HTTPError in err's chain.
// Errors without one are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if stderrors.As(err, &he) {
		return he.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status that should be reported for err.
func StatusOf(err error) int {
	var he *HTTPError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// MessageOf returns the caller facing message of err. Internal details
// are never exposed.
func MessageOf(err error) string {
	var he *HTTPError
	if stderrors.As(err, &he) && he.Kind != KindInternal {
		return he.Message
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
