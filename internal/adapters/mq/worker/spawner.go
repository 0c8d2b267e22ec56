package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/gather/internal/adapters/mq/queue"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

// Default spawner configuration constants.
const (
	defaultMaxWorkers = 4
	defaultTimeout    = 30 * time.Second
)

type job[T, R any] struct {
	task Task[T, R]
	// ctx carries the submitter's values but not its cancellation.
	ctx  context.Context
	done chan Result[R]
}

// Spawner executes tasks with at most MaxWorkers held slots. Tasks beyond
// capacity wait in a FIFO queue and start as slots free up.
type Spawner[T, R any] struct {
	cfg settings
	log logger.Logger

	// base is cancelled on forced shutdown.
	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	slots   int
	workers map[string]*Worker
	queue   queue.Queue[*job[T, R]]
	closed  bool
	pending sync.WaitGroup
}

// NewSpawner creates a Spawner with configuration options.
func NewSpawner[T, R any](opts ...Option) *Spawner[T, R] {
	cfg := settings{
		name:       "spawner",
		maxWorkers: defaultMaxWorkers,
		timeout:    defaultTimeout,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named(cfg.name)
	}

	base, stop := context.WithCancel(context.Background())
	return &Spawner[T, R]{
		cfg:     cfg,
		log:     cfg.logger,
		base:    base,
		stop:    stop,
		workers: make(map[string]*Worker),
		queue: queue.NewInMemoryQueue[*job[T, R]](
			queue.WithCapacity(cfg.queueCapacity),
			queue.WithName(cfg.name+"_queue"),
		),
	}
}

// Spawn runs task and blocks until it is terminal. If ctx ends first the
// caller gets ctx.Err() while the task keeps running.
func (s *Spawner[T, R]) Spawn(ctx context.Context, task Task[T, R]) Result[R] {
	j, res, ok := s.submit(ctx, task)
	if !ok {
		return res
	}
	return s.wait(ctx, j)
}

// SpawnBatch submits tasks in order and waits for all of them. Results are in
// input order; one failure never affects its siblings.
func (s *Spawner[T, R]) SpawnBatch(ctx context.Context, tasks []Task[T, R]) []Result[R] {
	out := make([]Result[R], len(tasks))
	jobs := make([]*job[T, R], len(tasks))
	for i, t := range tasks {
		j, res, ok := s.submit(ctx, t)
		if !ok {
			out[i] = res
			continue
		}
		jobs[i] = j
	}
	for i, j := range jobs {
		if j != nil {
			out[i] = s.wait(ctx, j)
		}
	}
	return out
}

func (s *Spawner[T, R]) submit(ctx context.Context, task Task[T, R]) (*job[T, R], Result[R], bool) {
	if task.ID == "" {
		task.ID = s.cfg.newID()
	}
	if task.Handler == nil {
		return nil, Result[R]{TaskID: task.ID, Err: fmt.Errorf("task %s: nil handler", task.ID)}, false
	}
	j := &job[T, R]{task: task, ctx: context.WithoutCancel(ctx), done: make(chan Result[R], 1)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, Result[R]{TaskID: task.ID, Err: fmt.Errorf("%w: task %s rejected", ErrShutdown, task.ID)}, false
	}
	if s.slots < s.cfg.maxWorkers {
		s.slots++
		s.pending.Add(1)
		go s.run(j)
		return j, Result[R]{}, true
	}
	if err := s.queue.Enqueue(ctx, j); err != nil {
		metrics.RecordSpawnerTask("rejected", 0)
		kind := ErrShutdown
		if errors.Is(err, queue.ErrFull) {
			kind = ErrQueueFull
		}
		return nil, Result[R]{TaskID: task.ID, Err: fmt.Errorf("%w: task %s", kind, task.ID)}, false
	}
	s.pending.Add(1)
	metrics.UpdateSpawnerQueueSize(s.queue.Len(ctx))
	return j, Result[R]{}, true
}

func (s *Spawner[T, R]) wait(ctx context.Context, j *job[T, R]) Result[R] {
	select {
	case res := <-j.done:
		return res
	case <-ctx.Done():
		return Result[R]{TaskID: j.task.ID, Err: ctx.Err()}
	}
}

// run drives one task through its attempts while holding a slot.
func (s *Spawner[T, R]) run(j *job[T, R]) {
	defer s.pending.Done()
	began := time.Now()

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(s.cfg.retryAttempts), retry.BackoffFunc(func() (time.Duration, bool) {
		metrics.RecordSpawnerRetry()
		return s.cfg.retryDelay * time.Duration(attempts), false
	}))
	value, err := retry.DoValue(s.base, backoff, func(context.Context) (R, error) {
		attempts++
		v, err := s.attempt(j, attempts)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrShutdown) {
			return v, err
		}
		s.log.Warn(j.ctx, "task attempt failed",
			logger.String("task_id", j.task.ID),
			logger.Int("attempt", attempts),
			logger.Error(err),
		)
		return v, retry.RetryableError(err)
	})
	if err != nil && s.base.Err() != nil && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: task %s cancelled", ErrShutdown, j.task.ID)
	}

	s.finish(j, Result[R]{
		TaskID:   j.task.ID,
		Value:    value,
		Err:      err,
		Attempts: attempts,
		Duration: time.Since(began),
	})
	s.release()
}

// attempt executes the handler once as a fresh worker, racing it against
// the timeout and forced shutdown.
func (s *Spawner[T, R]) attempt(j *job[T, R], n int) (R, error) {
	w := &Worker{
		ID:        s.cfg.newID(),
		TaskID:    j.task.ID,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Attempt:   n,
	}
	s.mu.Lock()
	s.workers[w.ID] = w
	active := len(s.workers)
	s.mu.Unlock()
	metrics.UpdateSpawnerActiveWorkers(active)
	metrics.RecordSpawnerAttempt()

	defer func() {
		s.mu.Lock()
		delete(s.workers, w.ID)
		active := len(s.workers)
		s.mu.Unlock()
		metrics.UpdateSpawnerActiveWorkers(active)
	}()

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	unlink := context.AfterFunc(s.base, cancel)
	defer unlink()

	type outcome struct {
		value R
		err   error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := j.task.Handler(ctx, j.task.Data)
		out <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(s.cfg.timeout)
	defer timer.Stop()

	var zero R
	select {
	case o := <-out:
		return o.value, o.err
	case <-timer.C:
		metrics.RecordSpawnerTimeout()
		return zero, fmt.Errorf("%w after %s: task %s attempt %d", ErrTimeout, s.cfg.timeout, j.task.ID, n)
	case <-s.base.Done():
		return zero, fmt.Errorf("%w: task %s interrupted", ErrShutdown, j.task.ID)
	}
}

func (s *Spawner[T, R]) finish(j *job[T, R], res Result[R]) {
	status := "succeeded"
	if res.Err != nil {
		status = "failed"
		metrics.RecordErrorByComponent(s.cfg.name, "task_failed")
		s.log.Error(j.ctx, "task failed",
			logger.String("task_id", res.TaskID),
			logger.Int("attempts", res.Attempts),
			logger.Error(res.Err),
		)
		if s.cfg.onError != nil {
			s.cfg.onError(res.TaskID, res.Err)
		}
	}
	metrics.RecordSpawnerTask(status, float64(res.Duration.Milliseconds()))
	if s.cfg.onComplete != nil {
		s.cfg.onComplete(Result[any]{
			TaskID:   res.TaskID,
			Value:    res.Value,
			Err:      res.Err,
			Attempts: res.Attempts,
			Duration: res.Duration,
		})
	}
	j.done <- res
}

// release hands the slot to the oldest queued task, or frees it.
func (s *Spawner[T, R]) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() == nil {
		if next, ok := s.queue.Dequeue(s.base); ok {
			metrics.UpdateSpawnerQueueSize(s.queue.Len(s.base))
			go s.run(next)
			return
		}
	}
	s.slots--
}

// Shutdown stops accepting tasks and waits up to twice the attempt timeout,
// or until ctx ends, for running and queued tasks. Stragglers are then
// cancelled and queued tasks resolve with ErrShutdown. It always returns; the
// error reports a forced stop.
func (s *Spawner[T, R]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	_ = s.queue.Close()
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(idle)
	}()

	grace := 2 * s.cfg.timeout
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-idle:
		s.stop()
		s.log.Info(ctx, "spawner stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.stop()
	s.mu.Lock()
	flushed := s.queue.Drain(context.Background())
	clear(s.workers)
	s.mu.Unlock()

	for _, j := range flushed {
		s.finish(j, Result[R]{TaskID: j.task.ID, Err: fmt.Errorf("%w: task %s flushed", ErrShutdown, j.task.ID)})
		s.pending.Done()
	}
	metrics.UpdateSpawnerQueueSize(0)
	metrics.UpdateSpawnerActiveWorkers(0)

	s.log.Warn(ctx, "spawner shutdown forced",
		logger.Duration("grace", grace),
		logger.Int("flushed", len(flushed)),
	)
	return fmt.Errorf("%w: forced, %d queued tasks flushed", ErrShutdown, len(flushed))
}

// Status returns a snapshot of slots, queue, and running workers.
func (s *Spawner[T, R]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := make([]Worker, 0, len(s.workers))
	for _, w := range s.workers {
		ws = append(ws, *w)
	}
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].StartedAt.Equal(ws[j].StartedAt) {
			return ws[i].StartedAt.Before(ws[j].StartedAt)
		}
		return ws[i].ID < ws[j].ID
	})
	return Status{
		Name:       s.cfg.name,
		Active:     len(ws),
		Slots:      s.slots,
		Queued:     s.queue.Len(context.Background()),
		MaxWorkers: s.cfg.maxWorkers,
		Closed:     s.closed,
		Workers:    ws,
	}
}
