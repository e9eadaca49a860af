package broker

import "errors"

// Sentinel kinds for hub errors.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoChannels     = errors.New("subscribe needs at least one channel")
	ErrClosed         = errors.New("notifier closed")
)
