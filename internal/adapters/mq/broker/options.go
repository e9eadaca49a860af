package broker

import (
	"time"

	"github.com/okian/festboard/pkg/logger"
)

const (
	defaultBuffer          = 256
	defaultDeliveryTimeout = 5 * time.Second
)

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer bounds each subscriber's queue.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDeliveryTimeout bounds a single sink delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.deliveryTimeout = d
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the emitted_at time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) {
		if gen != nil {
			h.newID = gen
		}
	}
}
