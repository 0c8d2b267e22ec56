package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/okian/gather/internal/domain/model"
)

// Ledger remembers which record versions have already been deduplicated, so
// a re-fetched listing that did not change skips the engine.
type Ledger interface {
	// SeenAndRecord reports whether ev at its current version was already
	// recorded, and records it if not. Check and record are atomic.
	SeenAndRecord(ctx context.Context, ev *model.NormalizedEvent) bool

	// Forget drops an id so its next occurrence is processed again. Used when
	// a recorded event failed downstream.
	Forget(ctx context.Context, id string)

	Size() int64
}

const defaultLedgerCapacity = 50_000

// LedgerOption configures a Ledger.
type LedgerOption func(*lruLedger)

// WithLedgerCapacity bounds the number of remembered ids. Values <= 0 keep
// the default. The least recently recorded id is evicted first.
func WithLedgerCapacity(n int) LedgerOption {
	return func(l *lruLedger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

type lruLedger struct {
	mu       sync.Mutex
	capacity int
	versions *lru.Cache[string, int64]
}

// NewLedger creates an in-memory Ledger.
func NewLedger(opts ...LedgerOption) Ledger {
	l := &lruLedger{capacity: defaultLedgerCapacity}
	for _, opt := range opts {
		opt(l)
	}
	// lru.New only fails on a non-positive size.
	l.versions, _ = lru.New[string, int64](l.capacity)
	return l
}

func (l *lruLedger) SeenAndRecord(_ context.Context, ev *model.NormalizedEvent) bool {
	version := ev.Version()
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.versions.Get(ev.ID); ok && v >= version {
		return true
	}
	l.versions.Add(ev.ID, version)
	return false
}

func (l *lruLedger) Forget(_ context.Context, id string) {
	l.versions.Remove(id)
}

func (l *lruLedger) Size() int64 {
	return int64(l.versions.Len())
}
