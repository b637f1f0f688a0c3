package graph

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types for Microsoft Graph API responses.
var (
	// ErrUnauthorised indicates the access token was rejected.
	ErrUnauthorised = errors.New("graph: unauthorised")

	// ErrForbidden indicates the user lacks permission for the requested resource.
	ErrForbidden = errors.New("graph: forbidden")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrRateLimited indicates the request was throttled.
	ErrRateLimited = errors.New("graph: rate limited")

	// ErrBadRequest indicates the request was rejected as malformed. Graph
	// answers subscription requests with an expiration past the resource
	// maximum this way.
	ErrBadRequest = errors.New("graph: bad request")

	// ErrServerError indicates a server-side error.
	ErrServerError = errors.New("graph: server error")

	// ErrUnexpectedStatus covers non-success statuses with no dedicated error.
	ErrUnexpectedStatus = errors.New("graph: unexpected status")

	// ErrTimeout indicates the call did not finish within the client timeout.
	ErrTimeout = errors.New("graph: request timed out")
)

// codeInvalidIDMalformed is the OData error code for ids Graph cannot parse.
const codeInvalidIDMalformed = "ErrorInvalidIdMalformed"

// WrapError converts an HTTP status code to an appropriate error, or nil for
// success statuses.
func WrapError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorised
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		if statusCode >= 500 {
			return ErrServerError
		}
		if statusCode >= 300 {
			return ErrUnexpectedStatus
		}
		return nil
	}
}

// APIError is a non-success Graph response.
type APIError struct {
	StatusCode int
	// Code and Message come from the OData error body, when present.
	Code       string
	Message    string
	RetryAfter time.Duration

	err error
}

func newAPIError(statusCode int, body errorResponse, retryAfter time.Duration) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       body.Error.Code,
		Message:    body.Error.Message,
		RetryAfter: retryAfter,
		err:        WrapError(statusCode),
	}
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v (status %d)", e.err, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s: %s", e.err, e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the sentinel matching the status code.
func (e *APIError) Unwrap() error {
	return e.err
}

// isMalformedID reports whether err is Graph rejecting an id it cannot parse.
func isMalformedID(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest && apiErr.Code == codeInvalidIDMalformed
}
