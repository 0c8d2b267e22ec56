// Package worker runs tasks under a hard concurrency cap with per-attempt
// timeouts, linear-backoff retries, and FIFO queueing beyond capacity.
package worker

import (
	"context"
	"time"
)

// Handler executes one attempt of a task. Its ctx is cancelled when the
// attempt times out or the spawner is force-stopped; handlers should return
// promptly then, but are not interrupted.
type Handler[T, R any] func(ctx context.Context, data T) (R, error)

// Task is a unit of work submitted to a Spawner.
type Task[T, R any] struct {
	ID      string
	Data    T
	Handler Handler[T, R]
}

// Result is the terminal outcome of a task.
type Result[R any] struct {
	TaskID   string        `json:"task_id"`
	Value    R             `json:"-"`
	Err      error         `json:"-"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the task succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// WorkerStatus is the state of a worker. Finished workers are removed, so
// running is the only observable state.
type WorkerStatus string

// StatusRunning marks a worker executing an attempt.
const StatusRunning WorkerStatus = "running"

// Worker is one attempt of one task.
type Worker struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Status    WorkerStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	Attempt   int          `json:"attempt"`
}

// Status is a snapshot of a Spawner.
type Status struct {
	Name       string   `json:"name"`
	Active     int      `json:"active"`
	Slots      int      `json:"slots"`
	Queued     int      `json:"queued"`
	MaxWorkers int      `json:"max_workers"`
	Closed     bool     `json:"closed"`
	Workers    []Worker `json:"workers"`
}
