package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure (dial, read, write, login call).
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "write", "login")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StatusError is a non-success status reply to a request.
type StatusError struct {
	ID               int
	ErrorCode        string
	ErrorMessage     string
	ConnectionClosed bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status failure [id=%d]: %s: %s", e.ID, e.ErrorCode, e.ErrorMessage)
}

// IsRetriable reports whether the server kept the connection open. A closed
// connection has to be re-established before the request can be sent again.
func (e *StatusError) IsRetriable() bool {
	return !e.ConnectionClosed && e.ErrorCode == "TIMEOUT"
}

// IsSessionError is true for failures that a fresh session token can fix.
func (e *StatusError) IsSessionError() bool {
	switch e.ErrorCode {
	case "NO_SESSION", "INVALID_SESSION_INFORMATION", "NOT_AUTHORIZED":
		return true
	}
	return false
}

var (
	// ErrCancelled is returned to callers awaiting a reply when the connection
	// was reset before the reply arrived. It is neither success nor a status failure.
	ErrCancelled = errors.New("request cancelled")

	// ErrMarketNotFound is returned when a market is not tracked by a cache.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMalformedFrame is returned for an inbound line that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownOperation is returned for an inbound line with an unknown op.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrNotConnected is returned when sending without an open transport.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidCredentials is returned when the login endpoint rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
