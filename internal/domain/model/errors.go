package model

import "errors"

// Error kinds shared by the store, the service and the transport. Callers
// match them with errors.Is; details are attached with %w wrapping.
var (
	// ErrValidation marks malformed input to submit or correct.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an operation on an unknown record.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidState marks an illegal transition, e.g. a double approve.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrStoreUnavailable marks a timeout or connection failure of durable storage.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotificationFailure marks a failed delivery. It is logged, never
	// returned to the caller of a state transition.
	ErrNotificationFailure = errors.New("notification failure")
)
