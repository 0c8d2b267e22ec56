package worker

import "errors"

// Sentinel kinds for task outcomes.
var (
	ErrTimeout   = errors.New("task attempt timed out")
	ErrShutdown  = errors.New("spawner shut down")
	ErrQueueFull = errors.New("spawner queue full")
	ErrPanic     = errors.New("task handler panicked")
)
