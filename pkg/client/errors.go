package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrMissingCredential is returned by New when no API key is configured.
	ErrMissingCredential = errors.New("GRID API key is required")

	// ErrInvalidQuery is returned by New when a query document does not parse.
	ErrInvalidQuery = errors.New("invalid GraphQL query document")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures (DNS, connection reset, malformed body).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents requests that exceeded the per-request timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassHTTP4xx represents 4xx responses other than 401, 403 and 429.
	ErrorClassHTTP4xx ErrorClass = "http_4xx"

	// ErrorClassHTTP5xx represents 5xx server errors.
	ErrorClassHTTP5xx ErrorClass = "http_5xx"

	// ErrorClassGraphQL represents a 200 response carrying GraphQL errors or no series state.
	ErrorClassGraphQL ErrorClass = "graphql_error"

	// ErrorClassRateLimited represents 429 Too Many Requests.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassUnauthorized represents 401/403, i.e. a rejected API key.
	ErrorClassUnauthorized ErrorClass = "unauthorized"
)

// Retryable reports whether a failure of this class is transient.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassNetwork, ErrorClassTimeout, ErrorClassHTTP5xx, ErrorClassRateLimited:
		return true
	default:
		// 4xx and GraphQL errors mean the series is malformed or inaccessible.
		return false
	}
}

// Fatal reports whether a failure of this class invalidates the whole run.
func (c ErrorClass) Fatal() bool {
	return c == ErrorClassUnauthorized
}

// RequestError represents a classified failure of a single GraphQL request.
type RequestError struct {
	StatusCode int
	Class      ErrorClass
	Message    string

	// RetryAfter is the server-requested delay for rate_limited failures.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GRID %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("GRID %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ClassOf extracts the error class of err. Context cancellation yields "".
func ClassOf(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	if err != nil {
		return ErrorClassNetwork
	}
	return ""
}

// classifyStatus maps a non-2xx HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ErrorClassUnauthorized
	case status == 429:
		return ErrorClassRateLimited
	case status >= 400 && status < 500:
		return ErrorClassHTTP4xx
	case status >= 500:
		return ErrorClassHTTP5xx
	default:
		return ErrorClassNetwork
	}
}
