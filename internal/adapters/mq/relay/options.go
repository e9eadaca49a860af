package relay

import (
	"time"

	"github.com/okian/festboard/internal/domain/dedupe"
	"github.com/okian/festboard/pkg/logger"
)

// Option configures a Relay.
type Option func(*Relay)

// WithChannel sets the Redis pub/sub channel.
func WithChannel(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) Option {
	return func(r *Relay) {
		if id != "" {
			r.instanceID = id
		}
	}
}

// WithDeduper sets the seen-set used to drop repeated remote events.
func WithDeduper(d dedupe.Deduper) Option {
	return func(r *Relay) {
		if d != nil {
			r.seen = d
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOutboundBuffer bounds how many events may wait to be sent to Redis.
func WithOutboundBuffer(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.outboundBuffer = n
		}
	}
}

// WithPublishTimeout bounds a single Redis publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued events to be sent.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}
