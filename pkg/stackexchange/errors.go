package stackexchange

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrInvalidArgument is returned when a request is built from empty or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTooManyIDs is returned when a vectorized request exceeds MaxBatchSize ids.
	ErrTooManyIDs = errors.New("too many ids in one request")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors reported by the API.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents throttle violations and exhausted quota.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors and unreadable responses.
	ErrorClassNetwork ErrorClass = "network"
)

// API error ids that signal throttling rather than a malformed request.
const (
	errorIDThrottleViolation = 502
	errorNameThrottle        = "throttle_violation"
)

// APIError represents a failed StackExchange request with the server's diagnostic.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	ErrorID    int
	ErrorName  string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.ErrorName != "" {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.ErrorName)
	}
	if e.Err != nil {
		return fmt.Sprintf("stackexchange %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, msg, e.Err)
	}
	return fmt.Sprintf("stackexchange %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsServerRejection reports whether the request reached the API and was
// rejected by it (bad request, throttled, quota exhausted) as opposed to
// failing in transport or on the server side.
func IsServerRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorClass == ErrorClassClient || apiErr.ErrorClass == ErrorClassRateLimit
}

// ClassOf returns the error class of err, or "" if err is not an *APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// classifyStatus maps an HTTP status and API error id to an ErrorClass.
func classifyStatus(status, errorID int, errorName string) ErrorClass {
	switch {
	case errorID == errorIDThrottleViolation || errorName == errorNameThrottle:
		return ErrorClassRateLimit
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
