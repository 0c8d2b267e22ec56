package worker

import (
	"time"

	"github.com/okian/gather/pkg/logger"
)

// Option applies a configuration option to a Spawner.
type Option func(*settings)

type settings struct {
	name          string
	maxWorkers    int
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	queueCapacity int
	logger        logger.Logger
	onError       func(taskID string, err error)
	onComplete    func(res Result[any])
	newID         func() string
}

// WithName sets the spawner name for identification and logging.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithMaxWorkers caps concurrently held slots. Values below 1 are ignored.
func WithMaxWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetry sets the retries after the first attempt and the linear backoff
// step; the k-th retry waits delay*k.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *settings) {
		if attempts >= 0 {
			s.retryAttempts = attempts
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithQueueCapacity bounds waiting tasks. Zero means unbounded.
func WithQueueCapacity(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.queueCapacity = n
		}
	}
}

// WithLogger sets a custom logger for the spawner.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// OnError is called once per task that ends in failure.
func OnError(fn func(taskID string, err error)) Option {
	return func(s *settings) {
		s.onError = fn
	}
}

// OnComplete is called once per terminal task, successful or not. The value
// is boxed to keep the hook independent of the task types.
func OnComplete(fn func(res Result[any])) Option {
	return func(s *settings) {
		s.onComplete = fn
	}
}

// WithIDGenerator sets the worker id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) {
		if gen != nil {
			s.newID = gen
		}
	}
}
