// Package apperr holds the error taxonomy shared by the workflow pipeline and
// its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an Error.
type Code string

const (
	CodeAdmissionRejected   Code = "ADMISSION_REJECTED"
	CodeInvalidTopology     Code = "INVALID_TOPOLOGY"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeProviderError       Code = "PROVIDER_ERROR"
	CodeRetrievalError      Code = "RETRIEVAL_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeStoreError          Code = "STORE_ERROR"
	CodeInternal            Code = "INTERNAL"
)

// Sentinels for errors.Is checks. An *Error matches the sentinel of its code.
var (
	ErrAdmissionRejected   = &Error{Code: CodeAdmissionRejected, Message: "rate limited"}
	ErrInvalidTopology     = &Error{Code: CodeInvalidTopology, Message: "invalid topology"}
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrProviderUnavailable = &Error{Code: CodeProviderUnavailable, Message: "provider not configured"}
	ErrProviderError       = &Error{Code: CodeProviderError, Message: "provider call failed"}
	ErrRetrievalError      = &Error{Code: CodeRetrievalError, Message: "retrieval failed"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy of e with details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// New creates an Error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeAdmissionRejected:
		return http.StatusTooManyRequests
	case CodeInvalidTopology, CodeInvalidRequest, CodeProviderUnavailable:
		return http.StatusBadRequest
	case CodeProviderError, CodeRetrievalError:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
