package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/metrics"
)

// InMemoryStore keeps events and decisions in maps guarded by one RWMutex.
type InMemoryStore struct {
	opts options

	mu        sync.RWMutex
	events    map[string]*StoredEvent
	decisions []model.MergeDecision
	decided   map[string]struct{}

	bg background
}

// NewInMemoryStore constructs an in-memory store. Metrics are refreshed in the
// background until ctx ends or Close is called.
func NewInMemoryStore(ctx context.Context, opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		opts:    buildOptions(opts),
		events:  make(map[string]*StoredEvent),
		decided: make(map[string]struct{}),
	}
	s.bg.start(ctx, s.opts.metricsUpdateInterval, s.updateMetrics)
	return s
}

// UpsertEvent implements Store.
func (s *InMemoryStore) UpsertEvent(ctx context.Context, ev model.NormalizedEvent) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[ev.ID]
	if ok && cur.Version() > ev.Version() {
		return false, nil
	}
	row := &StoredEvent{NormalizedEvent: ev.Clone(), CachedAt: s.opts.now()}
	if ok {
		row.MergedInto = cur.MergedInto
	}
	s.events[ev.ID] = row
	return true, nil
}

// MarkMerged implements Store.
func (s *InMemoryStore) MarkMerged(ctx context.Context, merged model.NormalizedEvent, duplicateIDs []string) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	row := &StoredEvent{NormalizedEvent: merged.Clone(), CachedAt: now}
	if row.MergedAt == nil {
		row.MergedAt = &now
	}
	s.events[merged.ID] = row
	for _, id := range duplicateIDs {
		if id == merged.ID {
			continue
		}
		if row, ok := s.events[id]; ok {
			row.MergedInto = merged.ID
		}
	}
	return nil
}

// InsertDecision implements Store.
func (s *InMemoryStore) InsertDecision(ctx context.Context, d model.MergeDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.decided[d.ID]; dup {
		return nil
	}
	s.decided[d.ID] = struct{}{}
	s.decisions = append(s.decisions, d)
	return nil
}

// Recent implements Store.
func (s *InMemoryStore) Recent(ctx context.Context, since time.Time) ([]model.NormalizedEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]model.NormalizedEvent, 0, len(s.events))
	for _, row := range s.events {
		if row.MergedInto != "" || row.CachedAt.Before(since) {
			continue
		}
		out = append(out, row.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].StartUTC.Before(out[j].StartUTC)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Decisions implements Store.
func (s *InMemoryStore) Decisions(ctx context.Context, limit int) ([]model.MergeDecision, error) {
	if limit <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.decisions))
	out := make([]model.MergeDecision, 0, n)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

// Count implements Store.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Event returns one stored row.
func (s *InMemoryStore) Event(id string) (StoredEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.events[id]
	if !ok {
		return StoredEvent{}, false
	}
	out := *row
	out.NormalizedEvent = row.Clone()
	return out, true
}

// Close stops the background metrics updater.
func (s *InMemoryStore) Close() error {
	s.bg.stop()
	return nil
}

func (s *InMemoryStore) updateMetrics() {
	n, _ := s.Count(context.Background())
	metrics.UpdateStoreRecordsTotal(n)
}

// background runs a periodic job until its context ends or stop is called.
type background struct {
	wg       sync.WaitGroup
	stopChan chan struct{}
	once     sync.Once
}

func (b *background) start(ctx context.Context, interval time.Duration, fn func()) {
	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopChan:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (b *background) stop() {
	if b.stopChan == nil {
		return
	}
	b.once.Do(func() { close(b.stopChan) })
	b.wg.Wait()
}
