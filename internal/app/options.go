package service

import (
	"time"

	"github.com/okian/gather/internal/adapters/repository"
	"github.com/okian/gather/internal/adapters/source"
	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAdapters replaces the adapters built from the configured sources.
func WithAdapters(adapters ...source.Adapter) Option {
	return func(s *Service) {
		s.adapters = adapters
		s.adaptersSet = true
	}
}

// WithStore sets the store instead of opening the configured one. The
// service does not close a store it did not open.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithEngine sets a prebuilt dedupe engine.
func WithEngine(e *dedupe.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithLedger sets the ledger of already processed record versions.
func WithLedger(l dedupe.Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithClock sets the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}
