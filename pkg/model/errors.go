package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrNotFound is returned when a node, message or content record does not exist
	ErrNotFound = goerr.New("not found")

	// ErrInvalidOperation is returned when an operation is not allowed in the current network state
	ErrInvalidOperation = goerr.New("invalid operation")

	// ErrBackendUnavailable is returned when the persistence backend cannot be reached
	ErrBackendUnavailable = goerr.New("backend unavailable")

	// ErrExternalService is returned when an external integration such as the generative AI API fails
	ErrExternalService = goerr.New("external service error")
)
