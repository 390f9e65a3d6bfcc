// Package apperr defines the error taxonomy shared across llmproxy's data
// and control planes, and the mapping from error kind to HTTP status used
// by the forward handler and the admin API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of an Error, mirroring the AppError
// enumeration of the system this proxy was modeled on.
type Kind int

const (
	KindIO Kind = iota
	KindConfig
	KindHTTPTransport
	KindUpstream
	KindUpstreamGroupNotFound
	KindNoUpstreamAvailable
	KindNoHealthyUpstreamAvailable
	KindCircuitBreakerOpen
	KindInvalidProxy
	KindRouting
	KindInvalidHeader
	KindAuth
	KindValidation
	KindNotFound
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindConfig:
		return "Config"
	case KindHTTPTransport:
		return "HttpTransport"
	case KindUpstream:
		return "Upstream"
	case KindUpstreamGroupNotFound:
		return "UpstreamGroupNotFound"
	case KindNoUpstreamAvailable:
		return "NoUpstreamAvailable"
	case KindNoHealthyUpstreamAvailable:
		return "NoHealthyUpstreamAvailable"
	case KindCircuitBreakerOpen:
		return "CircuitBreakerOpen"
	case KindInvalidProxy:
		return "InvalidProxy"
	case KindRouting:
		return "Routing"
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindAuth:
		return "Auth"
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// Error is a kinded application error. It wraps an optional cause so
// callers can still use errors.Is/As against the underlying failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps an error's kind to the status code the forward handler
// or admin API should answer with.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation, KindInvalidHeader, KindInvalidProxy:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound, KindUpstreamGroupNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNoUpstreamAvailable, KindNoHealthyUpstreamAvailable, KindCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ForwardHTTPStatus maps an error's kind to the status the forward
// handler answers a client with. It differs from HTTPStatus only in
// that no-upstream/no-healthy-upstream/breaker-open collapse to 500:
// these are upstream-manager failures from the caller's point of view,
// not a 503 the caller should interpret as "retry this exact request
// later" the way the admin API's 503 for an overloaded control plane
// would mean.
func ForwardHTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNoUpstreamAvailable, KindNoHealthyUpstreamAvailable, KindCircuitBreakerOpen:
		return http.StatusInternalServerError
	default:
		return HTTPStatus(err)
	}
}

// AdminErrorType renders the error's kind as one of the admin API's
// wire-level error-type strings (spec §6).
func AdminErrorType(err error) string {
	e, ok := As(err)
	if !ok {
		return "InternalServerError"
	}
	switch e.Kind {
	case KindValidation, KindInvalidHeader, KindInvalidProxy:
		return "BadRequest"
	case KindAuth:
		return "Unauthorized"
	case KindNotFound, KindUpstreamGroupNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "InternalServerError"
	}
}
