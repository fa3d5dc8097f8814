package client

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassTimeout represents a request that exceeded its deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork represents connection refused, DNS and other dial errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassInvalidURL represents a malformed or incomplete URL.
	ErrorClassInvalidURL ErrorClass = "invalid_url"

	// ErrorClassClient represents 4xx responses without a service error payload.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses without a service error payload.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassDecode represents a body that is not a JSON object.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCanceled represents a request abandoned by its caller.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassService represents an explicit service error payload.
	ErrorClassService ErrorClass = "service"
)

// TransportError is returned when a request could not be completed at the
// HTTP level.
type TransportError struct {
	URL        string
	Op         string
	Class      ErrorClass
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var msg string
	switch e.Class {
	case ErrorClassTimeout:
		msg = fmt.Sprintf("connection to %s timed out", e.URL)
	case ErrorClassNetwork:
		msg = fmt.Sprintf("unable to connect to host at %s", e.URL)
	case ErrorClassInvalidURL:
		msg = fmt.Sprintf("invalid URL - %s", e.URL)
	case ErrorClassClient, ErrorClassServer:
		msg = fmt.Sprintf("%s %s returned status %d", e.Op, e.URL, e.StatusCode)
	default:
		msg = fmt.Sprintf("%s %s failed (%s)", e.Op, e.URL, e.Class)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError is returned when the service answers with an error payload,
// regardless of the HTTP status code.
type ServiceError struct {
	URL     string
	Code    int
	Message string
	Details []string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unspecified error"
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	if e.Code != 0 {
		return fmt.Sprintf("service error %d at %s: %s", e.Code, e.URL, msg)
	}
	return fmt.Sprintf("service error at %s: %s", e.URL, msg)
}

// ClassOf returns the error class of err, or "" if err is not a client error.
func ClassOf(err error) ErrorClass {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return ErrorClassService
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassTimeout, ErrorClassNetwork, ErrorClassServer:
		return true
	default:
		// invalid URLs, 4xx, decode and service errors repeat identically
		return false
	}
}
