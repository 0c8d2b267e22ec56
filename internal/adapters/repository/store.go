// Package repository persists normalized events and merge decisions.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/model"
)

// StoredEvent is an event row with its merge state.
type StoredEvent struct {
	model.NormalizedEvent
	// MergedInto is the primary id once the event is folded into a cluster.
	MergedInto string    `json:"merged_into,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
}

// Store provides read/write access to events and decisions. Events are keyed
// by their id, which is derived from (source, external_id).
type Store interface {
	// UpsertEvent writes ev unless a newer version is already stored.
	// Returns true if the row was written.
	UpsertEvent(ctx context.Context, ev model.NormalizedEvent) (bool, error)

	// MarkMerged overwrites the primary row with the merged record and points
	// every duplicate at it.
	MarkMerged(ctx context.Context, merged model.NormalizedEvent, duplicateIDs []string) error

	// InsertDecision records a decision; an id already stored is ignored.
	InsertDecision(ctx context.Context, d model.MergeDecision) error

	// Recent returns unmerged events cached at or after since, ordered by
	// start time.
	Recent(ctx context.Context, since time.Time) ([]model.NormalizedEvent, error)

	// Decisions returns up to limit decisions, newest first.
	Decisions(ctx context.Context, limit int) ([]model.MergeDecision, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.Storage, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewInMemoryStore(ctx, opts...), nil
	case config.DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.DSN, cfg.MaxConns, opts...)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
