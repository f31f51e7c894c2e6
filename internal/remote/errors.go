package remote

import "errors"

// Common errors returned by remote operations.
//
//	if errors.Is(err, remote.ErrNotConnected) {
//	    // reconnect first
//	}
var (
	// ErrNotConnected is returned when no session exists for the account.
	ErrNotConnected = errors.New("account not connected")

	// ErrUnknownServerType is returned by Reconnect when no backend is
	// registered for the account's server type.
	ErrUnknownServerType = errors.New("no backend registered for server type")

	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the addressed resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a create collides with an existing resource.
	ErrConflict = errors.New("resource already exists")

	// ErrUnavailable is returned when the server cannot be reached.
	ErrUnavailable = errors.New("server unavailable")

	// ErrInvalidTask is returned when a task cannot be encoded for the server.
	ErrInvalidTask = errors.New("invalid task")
)

// IsRetryable returns true if the error is likely to succeed on a later cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotConnected)
}

// IsAuth returns true if the error needs the user to fix credentials.
func IsAuth(err error) bool {
	return err != nil && errors.Is(err, ErrUnauthorized)
}
