package dedupe

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Embedder produces a vector for free text. Implementations may be remote and
// may fail; a failure only disables the semantic signal for that event.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// fingerprintCache holds fingerprints keyed by event id. Entries carry the
// record version; a newer version replaces the entry.
type fingerprintCache struct {
	lru   *expirable.LRU[string, *Fingerprint]
	group singleflight.Group
}

func newFingerprintCache(size int, ttl time.Duration) *fingerprintCache {
	return &fingerprintCache{lru: expirable.NewLRU[string, *Fingerprint](size, nil, ttl)}
}

// get returns the cached fingerprint for ev or computes it once per key and
// version, even under concurrent callers.
func (c *fingerprintCache) get(ev *model.NormalizedEvent, compute func() (*Fingerprint, error)) (*Fingerprint, error) {
	version := ev.Version()
	if fp, ok := c.lru.Get(ev.ID); ok && fp.Version == version {
		metrics.RecordDedupeCacheLookup("fingerprint", true)
		return fp, nil
	}
	metrics.RecordDedupeCacheLookup("fingerprint", false)

	v, err, _ := c.group.Do(ev.ID+"@"+strconv.FormatInt(version, 10), func() (any, error) {
		fp, err := compute()
		if err != nil {
			return nil, err
		}
		c.lru.Add(ev.ID, fp)
		return fp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Fingerprint), nil
}

func (c *fingerprintCache) invalidate(id string) {
	c.lru.Remove(id)
}

func (c *fingerprintCache) len() int {
	return c.lru.Len()
}

// similarityCache memoizes pair scores. Keys embed both versions, so an
// updated record never hits a stale score.
type similarityCache struct {
	lru *expirable.LRU[string, model.SimilarityScore]
}

func newSimilarityCache(size int, ttl time.Duration) *similarityCache {
	return &similarityCache{lru: expirable.NewLRU[string, model.SimilarityScore](size, nil, ttl)}
}

func pairKey(a, b *Fingerprint) string {
	return a.EventID + "@" + strconv.FormatInt(a.Version, 10) + "|" + b.EventID + "@" + strconv.FormatInt(b.Version, 10)
}

func (c *similarityCache) get(a, b *Fingerprint, compute func() model.SimilarityScore) model.SimilarityScore {
	key := pairKey(a, b)
	if s, ok := c.lru.Get(key); ok {
		metrics.RecordDedupeCacheLookup("similarity", true)
		return s
	}
	metrics.RecordDedupeCacheLookup("similarity", false)
	s := compute()
	c.lru.Add(key, s)
	return s
}
