package api

import (
	"time"

	"github.com/okian/festboard/pkg/logger"
)

const (
	defaultMaxLimit     = 1000
	defaultWriteTimeout = 10 * time.Second
)

type options struct {
	maxLimit     int
	writeTimeout time.Duration
	logger       logger.Logger
}

func defaultOptions() options {
	return options{
		maxLimit:     defaultMaxLimit,
		writeTimeout: defaultWriteTimeout,
	}
}

// Option configures a Server.
type Option func(*options)

// WithMaxLimit caps the leaderboard limit parameter.
func WithMaxLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLimit = n
		}
	}
}

// WithStreamWriteTimeout bounds each websocket write.
func WithStreamWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithLogger sets the API logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
