package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches a key or id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
