package worker

import (
	"time"

	"github.com/okian/festboard/pkg/logger"
)

// Option applies a configuration option to the Deliverer.
type Option func(*Deliverer)

// WithName sets the subscriber name used in logs.
func WithName(name string) Option {
	return func(d *Deliverer) {
		if name != "" {
			d.name = name
		}
	}
}

// WithLogger sets a custom logger for the deliverer.
func WithLogger(logger logger.Logger) Option {
	return func(d *Deliverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDeliveryTimeout bounds a single Sink.Deliver call.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Deliverer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithOnClose registers a callback run once when the sink reports
// ErrSinkClosed.
func WithOnClose(fn func()) Option {
	return func(d *Deliverer) {
		d.onClose = fn
	}
}

// WithoutDeliveryMetrics stops the deliverer from counting subscriber
// deliveries. Sinks that are not subscribers record their own outcome.
func WithoutDeliveryMetrics() Option {
	return func(d *Deliverer) {
		d.record = false
	}
}
