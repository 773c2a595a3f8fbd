package aistream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the aistream package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("aistream: API key is required")

	// ErrNotConnected indicates the connector is not connected.
	ErrNotConnected = errors.New("aistream: not connected")

	// ErrAlreadyConnected indicates the connector is already connected.
	ErrAlreadyConnected = errors.New("aistream: already connected")

	// ErrClosed indicates the connector has been closed.
	ErrClosed = errors.New("aistream: connector closed")
)

// ConnectionError represents a websocket transport error.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection should be attempted.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aistream: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("aistream: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable returns true if reconnection should be attempted for err.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
