package channels

import "errors"

var (
	// ErrNotRunning is returned by Send when the channel has no live connection
	ErrNotRunning = errors.New("channel is not running")

	// ErrInvalidChatID is returned when a chat id cannot be parsed for the platform
	ErrInvalidChatID = errors.New("invalid chat id")

	// ErrUnknownClient is returned when a websocket reply targets a disconnected client
	ErrUnknownClient = errors.New("unknown websocket client")

	// ErrAlreadyRegistered is returned when two channels share a name
	ErrAlreadyRegistered = errors.New("channel already registered")
)
