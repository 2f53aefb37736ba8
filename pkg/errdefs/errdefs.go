package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for surface mapping. Internal callers branch on
// Kind; the API layer translates it to an external code and HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindRateLimited
	KindRuntimeUnavailable
	KindNotRunning
	KindNoContainer
	KindMetricsUnavailable
	KindTimeout
)

// Error is the platform error carrying a kind, an operator-facing message
// and optional structured details for the API envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying structured details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf extracts the kind of an error chain; unclassified errors are
// KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

func is(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

func IsValidation(err error) bool         { return is(err, KindValidation) }
func IsAuth(err error) bool               { return is(err, KindAuth) }
func IsNotFound(err error) bool           { return is(err, KindNotFound) }
func IsConflict(err error) bool           { return is(err, KindConflict) }
func IsQuotaExceeded(err error) bool      { return is(err, KindQuotaExceeded) }
func IsRateLimited(err error) bool        { return is(err, KindRateLimited) }
func IsRuntimeUnavailable(err error) bool { return is(err, KindRuntimeUnavailable) }
func IsNotRunning(err error) bool         { return is(err, KindNotRunning) }
func IsNoContainer(err error) bool        { return is(err, KindNoContainer) }
func IsTimeout(err error) bool            { return is(err, KindTimeout) }

// Code returns the external error code for the API envelope.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuth:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindRuntimeUnavailable:
		return "SANDBOX_ERROR"
	case KindNotRunning:
		return "NOT_RUNNING"
	case KindNoContainer:
		return "NO_CONTAINER"
	case KindMetricsUnavailable:
		return "METRICS_UNAVAILABLE"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the HTTP status code for an error chain.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindNoContainer:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotRunning:
		return http.StatusConflict
	case KindQuotaExceeded, KindRateLimited:
		return http.StatusTooManyRequests
	case KindRuntimeUnavailable, KindMetricsUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
