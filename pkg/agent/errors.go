package agent

import "errors"

var (
	// ErrNoProvider means no API key is configured for any supported provider.
	ErrNoProvider = errors.New("no LLM provider configured")

	// ErrEmptyResponse means the provider returned no choices.
	ErrEmptyResponse = errors.New("no response choices returned")

	// ErrManagerClosed is returned by Spawn after Close.
	ErrManagerClosed = errors.New("subagent manager closed")
)
