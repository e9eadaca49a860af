package service

import (
	"time"

	"github.com/okian/festboard/internal/adapters/repository"
	"github.com/okian/festboard/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the result store. The service closes it on Stop.
func WithStore(store repository.ResultStore) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithNotifier sets the change notifier, e.g. a broker.Hub or a relay.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithReadRetries sets how many times an unavailable-store read is retried.
func WithReadRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.readRetries = n
		}
	}
}

// WithRetryBackoff sets the first retry delay; it doubles per attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBackoff = d
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber queue size of the default hub.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithPublishTimeout bounds one post-commit publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}
