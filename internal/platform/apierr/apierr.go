package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classification codes carried from the services to the HTTP layer.
const (
	CodeConflict            = "conflict"
	CodeNotFound            = "not_found"
	CodeInvalidArgument     = "invalid_argument"
	CodeExtractionFailed    = "extraction_failed"
	CodeIOFailure           = "io_failure"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeInvalidResponse     = "invalid_response"
	CodePathTraversal       = "path_traversal"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Conflict(err error) *Error         { return New(http.StatusConflict, CodeConflict, err) }
func NotFound(err error) *Error         { return New(http.StatusNotFound, CodeNotFound, err) }
func InvalidArgument(err error) *Error  { return New(http.StatusBadRequest, CodeInvalidArgument, err) }
func ExtractionFailed(err error) *Error { return New(http.StatusBadRequest, CodeExtractionFailed, err) }
func IOFailure(err error) *Error {
	return New(http.StatusInternalServerError, CodeIOFailure, err)
}
func UpstreamUnavailable(err error) *Error {
	return New(http.StatusBadGateway, CodeUpstreamUnavailable, err)
}
func UpstreamRejected(err error) *Error {
	return New(http.StatusBadGateway, CodeUpstreamRejected, err)
}
func InvalidResponse(err error) *Error {
	return New(http.StatusBadGateway, CodeInvalidResponse, err)
}
func PathTraversal(err error) *Error {
	return New(http.StatusForbidden, CodePathTraversal, err)
}

// CodeOf returns the classification code of err, or "" when err carries none.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

func IsConflict(err error) bool { return HasCode(err, CodeConflict) }
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// StatusOf maps err to an HTTP status, defaulting to 500 for unclassified errors.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}
