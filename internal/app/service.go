// Package service wires sources, the normalizer, the dedupe engine, and the
// store into ingestion runs, and implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/gather/internal/adapters/mq/worker"
	"github.com/okian/gather/internal/adapters/repository"
	"github.com/okian/gather/internal/adapters/source"
	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/internal/domain/normalize"
	"github.com/okian/gather/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Service runs pull and push ingestion.
type Service struct {
	cfg    config.Config
	logger logger.Logger
	now    func() time.Time
	newID  func() string

	adapters    []source.Adapter
	adaptersSet bool
	store       repository.Store
	ownsStore   bool
	engine      *dedupe.Engine
	ledger      dedupe.Ledger
	normalizer  *normalize.Normalizer

	fetchers *worker.Spawner[source.Adapter, []source.RawRecord]
	dedupers *worker.Spawner[[]model.NormalizedEvent, dedupe.Result]

	mu         sync.RWMutex
	started    bool
	scheduler  *cron.Cron
	runCtx     context.Context
	cancelRuns context.CancelFunc
	last       *RunReport

	// runMu serializes runs so two passes never decide the same cluster.
	runMu sync.Mutex
}

// Stats is a snapshot for monitoring.
type Stats struct {
	Started            bool          `json:"started"`
	Sources            []string      `json:"sources"`
	StoredEvents       int           `json:"stored_events"`
	LedgerSize         int64         `json:"ledger_size"`
	CachedFingerprints int           `json:"cached_fingerprints"`
	Fetchers           worker.Status `json:"fetchers"`
	Dedupers           worker.Status `json:"dedupers"`
	LastRun            *RunReport    `json:"last_run,omitempty"`
}

// New builds a Service from cfg. Nothing runs until Start.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	if s.engine == nil {
		e, err := dedupe.NewEngine(cfg.Dedupe,
			dedupe.WithClock(s.now),
			dedupe.WithLogger(s.logger.Named("dedupe")),
		)
		if err != nil {
			return nil, err
		}
		s.engine = e
	}
	if !s.adaptersSet {
		adapters, err := source.FromConfig(cfg.Sources, source.WithLogger(s.logger.Named("source")))
		if err != nil {
			return nil, err
		}
		s.adapters = adapters
	}
	if s.ledger == nil {
		s.ledger = dedupe.NewLedger()
	}
	s.normalizer = normalize.New(normalize.WithClock(s.now))

	spawnOpts := func(name string, retries int) []worker.Option {
		return []worker.Option{
			worker.WithName(name),
			worker.WithMaxWorkers(cfg.Spawner.MaxWorkers),
			worker.WithTimeout(cfg.Spawner.Timeout),
			worker.WithRetry(retries, cfg.Spawner.RetryDelay),
			worker.WithQueueCapacity(cfg.Spawner.QueueCapacity),
			worker.WithLogger(s.logger.Named(name)),
		}
	}
	s.fetchers = worker.NewSpawner[source.Adapter, []source.RawRecord](spawnOpts("fetch", cfg.Spawner.RetryAttempts)...)
	// A dedupe pass is deterministic; only fetches are worth retrying.
	s.dedupers = worker.NewSpawner[[]model.NormalizedEvent, dedupe.Result](spawnOpts("dedupe", 0)...)
	return s, nil
}

// Start opens the store and starts the schedule, if any.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting ingestion service...")

	if s.store == nil {
		store, err := repository.Open(ctx, s.cfg.Storage,
			repository.WithLogger(s.logger.Named("repository")),
			repository.WithMetricsUpdateInterval(s.cfg.Metrics.RefreshInterval),
		)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	s.runCtx, s.cancelRuns = context.WithCancel(context.WithoutCancel(ctx))
	if s.cfg.Schedule != "" {
		sched, err := s.newScheduler()
		if err != nil {
			s.cancelRuns()
			return err
		}
		s.scheduler = sched
		sched.Start()
	}

	s.started = true
	s.logger.Info(ctx, "ingestion service started",
		logger.Int("sources", len(s.adapters)),
		logger.String("storage", s.cfg.Storage.Driver),
		logger.String("schedule", s.cfg.Schedule),
	)
	return nil
}

// Stop halts the schedule, drains both spawners within ctx, and closes an
// owned store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping ingestion service...")
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
		}
	}

	errs := []error{
		s.fetchers.Shutdown(ctx),
		s.dedupers.Shutdown(ctx),
	}
	s.cancelRuns()
	if s.ownsStore {
		errs = append(errs, s.store.Close())
	}

	s.logger.Info(ctx, "ingestion service stopped")
	return errors.Join(errs...)
}

// Stats returns a monitoring snapshot.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{
		Started:            s.started,
		LedgerSize:         s.ledger.Size(),
		CachedFingerprints: s.engine.CachedFingerprints(),
		Fetchers:           s.fetchers.Status(),
		Dedupers:           s.dedupers.Status(),
		LastRun:            s.last,
	}
	started := s.started
	s.mu.RUnlock()

	for _, a := range s.adapters {
		st.Sources = append(st.Sources, a.Name())
	}
	if !started {
		return st, nil
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return st, err
	}
	st.StoredEvents = n
	return st, nil
}

// Decisions returns the newest stored decisions.
func (s *Service) Decisions(ctx context.Context, limit int) ([]model.MergeDecision, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	return s.store.Decisions(ctx, limit)
}

// LastRun returns the report of the latest finished run.
func (s *Service) LastRun() (RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return RunReport{}, false
	}
	return *s.last, true
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) remember(rep *RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rep
	s.last = &cp
}

// zone returns the declared timezone or the configured default.
func (s *Service) zone(declared string) string {
	if declared != "" {
		return declared
	}
	return s.cfg.DefaultTimezone
}
