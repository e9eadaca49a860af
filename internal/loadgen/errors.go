package loadgen

import "errors"

// Error constants.
var (
	ErrInvalidConfig = errors.New("invalid load configuration")
	ErrUnhealthy     = errors.New("service health check failed")
	ErrMismatch      = errors.New("served leaderboard differs from local recompute")
)
