package session

import "errors"

var (
	// ErrEmptyKey is returned for operations on an empty session key
	ErrEmptyKey = errors.New("session key cannot be empty")

	// ErrNotFound is returned when a session does not exist on disk or in the cache
	ErrNotFound = errors.New("session not found")

	// ErrMissingHeader is returned by listing when a file does not start with a metadata record
	ErrMissingHeader = errors.New("session file has no metadata record")
)
