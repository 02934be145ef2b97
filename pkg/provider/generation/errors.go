package generation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure.
type ErrorKind int

const (
	// NetworkFailure means the service could not be reached or the transport
	// failed mid-request.
	NetworkFailure ErrorKind = iota + 1

	// ServiceError means the service answered with a non-success status.
	ServiceError

	// EmptyResponse means the service answered successfully with no body.
	EmptyResponse
)

// String returns the snake_case name of k, suitable for metric attributes.
func (k ErrorKind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case ServiceError:
		return "service_error"
	case EmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Sentinel values for matching an [Error] by kind with errors.Is.
var (
	ErrNetworkFailure = errors.New("generation: network failure")
	ErrServiceError   = errors.New("generation: service error")
	ErrEmptyResponse  = errors.New("generation: empty response")
)

// Error is returned by every [Provider] call that fails. All generation
// failures are retryable from the caller's perspective.
type Error struct {
	Kind ErrorKind

	// Status is the HTTP status code for ServiceError. Zero otherwise.
	Status int

	// Message is the service's error text for ServiceError.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case ServiceError:
		if e.Message != "" {
			return fmt.Sprintf("generation: service error (status %d): %s", e.Status, e.Message)
		}
		return fmt.Sprintf("generation: service error (status %d)", e.Status)
	case NetworkFailure:
		if e.Err != nil {
			return "generation: network failure: " + e.Err.Error()
		}
		return "generation: network failure"
	case EmptyResponse:
		return "generation: empty response"
	default:
		return "generation: unknown error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels so callers can write
// errors.Is(err, generation.ErrServiceError).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkFailure:
		return e.Kind == NetworkFailure
	case ErrServiceError:
		return e.Kind == ServiceError
	case ErrEmptyResponse:
		return e.Kind == EmptyResponse
	}
	return false
}

// NewNetworkFailure wraps a transport error.
func NewNetworkFailure(err error) *Error {
	return &Error{Kind: NetworkFailure, Err: err}
}

// NewServiceError builds a ServiceError for the given status and message.
func NewServiceError(status int, msg string) *Error {
	return &Error{Kind: ServiceError, Status: status, Message: msg}
}

// NewEmptyResponse builds an EmptyResponse error.
func NewEmptyResponse() *Error {
	return &Error{Kind: EmptyResponse}
}

// KindOf returns the ErrorKind of err when it is (or wraps) an [*Error], and
// zero otherwise.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}
