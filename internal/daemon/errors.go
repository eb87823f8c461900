package daemon

import "errors"

var (
	// ErrAlreadyRunning means a live gateway owns the PID file.
	ErrAlreadyRunning = errors.New("gateway is already running")

	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("daemon not started")
)
