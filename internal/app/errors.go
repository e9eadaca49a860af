package service

import "errors"

// Lifecycle errors.
var (
	// ErrNotStarted is returned by operations called before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrStopped is returned by Start once Stop has closed the components.
	ErrStopped = errors.New("service stopped")
)
