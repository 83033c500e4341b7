package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned when the live channel is not open
	ErrNotConnected = errors.New("not connected")
	// ErrSendBufferFull is returned when the outbound buffer cannot take another event
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrNoCredential is returned when an operation needs a token and none is held
	ErrNoCredential = errors.New("no credential")
	// ErrInvalidCredentials is returned by a rejected login
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrSessionExpired is returned when the server rejects the credential
	ErrSessionExpired = errors.New("session expired")
	// ErrPermissionDenied is returned when the caller may not access a resource
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned when a resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrNetwork is returned when no response was received
	ErrNetwork = errors.New("network unavailable")
	// ErrTimeout is returned when a request ran out of time
	ErrTimeout = errors.New("request timed out")
)

// ConnectionError reports a failure to open or keep the live channel
type ConnectionError struct {
	Op  string // "dial" or "read"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError reports a message that could not be sent. The message never
// appears in the store; the user may retry.
type SendError struct {
	TeamID uuid.UUID
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message to team %s: %v", e.TeamID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// DownloadFailedError reports an unexpected HTTP status from a download
type DownloadFailedError struct {
	Status int
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download failed: HTTP %d", e.Status)
}

// APIError is a non-2xx response from the REST API
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Unwrap maps the status onto the shared sentinels
func (e *APIError) Unwrap() error {
	return statusError(e.Status)
}

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrSessionExpired
	case http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// classifyTransport wraps a request error that produced no response as
// ErrTimeout or ErrNetwork, keeping the cause in the chain.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// UserMessage turns an error from the subsystem into a notification text
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return "Message not sent. " + UserMessage(sendErr.Err)
	}

	var downloadErr *DownloadFailedError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNoCredential):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrPermissionDenied):
		return "You don't have permission to do that."
	case errors.Is(err, ErrNotFound):
		return "That item no longer exists."
	case errors.As(err, &downloadErr):
		return fmt.Sprintf("Download failed (HTTP %d).", downloadErr.Status)
	case errors.Is(err, ErrTimeout):
		return "The server took too long to respond. Try again."
	case errors.Is(err, ErrNetwork):
		return "Network unavailable. Check your connection."
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrSendBufferFull):
		return "Not connected to the server."
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		if connErr.Op == "dial" {
			return "Could not connect to the server."
		}
		return "Lost connection to the server."
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Something went wrong: " + err.Error()
}
