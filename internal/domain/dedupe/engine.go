// Package dedupe detects listings that describe the same real-world event and
// produces merge decisions for them.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/adrg/strutil"
	"github.com/google/uuid"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
	"github.com/okian/gather/pkg/textnorm"
)

// State is the terminal state of one record after a pass.
type State string

// Record states. A merged record reports MergedInto(primaryID).
const (
	StateUnmatched State = "unmatched"
	StatePrimary   State = "primary"
	StateClustered State = "clustered" // member of a cluster awaiting manual review
	StateSkipped   State = "skipped"

	mergedIntoPrefix = "merged_into:"
)

// MergedInto is the state of a record absorbed by primaryID.
func MergedInto(primaryID string) State {
	return State(mergedIntoPrefix + primaryID)
}

// Skipped is an event excluded from clustering.
type Skipped struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// Stats summarizes one pass.
type Stats struct {
	Events        int           `json:"events"`
	Fingerprinted int           `json:"fingerprinted"`
	Skipped       int           `json:"skipped"`
	Comparisons   int           `json:"comparisons"`
	Candidates    int           `json:"candidates"`
	Clusters      int           `json:"clusters"`
	AutoMerged    int           `json:"auto_merged"`
	ManualReview  int           `json:"manual_review"`
	Discarded     int           `json:"discarded"`
	Duration      time.Duration `json:"duration"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Events += other.Events
	s.Fingerprinted += other.Fingerprinted
	s.Skipped += other.Skipped
	s.Comparisons += other.Comparisons
	s.Candidates += other.Candidates
	s.Clusters += other.Clusters
	s.AutoMerged += other.AutoMerged
	s.ManualReview += other.ManualReview
	s.Discarded += other.Discarded
	s.Duration += other.Duration
}

// Result is the outcome of one pass. Every input event appears in States.
type Result struct {
	Decisions []model.MergeDecision `json:"decisions"`
	Unmatched []string              `json:"unmatched"`
	States    map[string]State      `json:"states"`
	Skipped   []Skipped             `json:"skipped"`
	Stats     Stats                 `json:"stats"`
}

// Engine deduplicates batches of events. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	metric   strutil.StringMetric
	embedder Embedder
	fps      *fingerprintCache
	sims     *similarityCache
	now      func() time.Time
	newID    func() string
	log      logger.Logger
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		metric: newStringMetric(cfg.Algorithms.StringMatching),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Performance.CacheEnabled {
		e.fps = newFingerprintCache(cfg.Performance.CacheSize, cfg.Performance.CacheTTL)
		e.sims = newSimilarityCache(cfg.Performance.CacheSize, cfg.Performance.CacheTTL)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Fingerprint returns the fingerprint of ev, from cache when the cached entry
// matches the record version.
func (e *Engine) Fingerprint(ctx context.Context, ev *model.NormalizedEvent) (*Fingerprint, error) {
	if e.fps == nil {
		return e.computeFingerprint(ctx, ev)
	}
	return e.fps.get(ev, func() (*Fingerprint, error) {
		return e.computeFingerprint(ctx, ev)
	})
}

// Invalidate drops the cached fingerprint of an event.
func (e *Engine) Invalidate(eventID string) {
	if e.fps != nil {
		e.fps.invalidate(eventID)
	}
}

// CachedFingerprints reports the fingerprint cache size.
func (e *Engine) CachedFingerprints() int {
	if e.fps == nil {
		return 0
	}
	return e.fps.len()
}

// Similarity scores two events.
func (e *Engine) Similarity(ctx context.Context, a, b *model.NormalizedEvent) (model.SimilarityScore, error) {
	fa, err := e.Fingerprint(ctx, a)
	if err != nil {
		return model.SimilarityScore{}, err
	}
	fb, err := e.Fingerprint(ctx, b)
	if err != nil {
		return model.SimilarityScore{}, err
	}
	return e.similarity(fa, fb), nil
}

func (e *Engine) similarity(a, b *Fingerprint) model.SimilarityScore {
	if b.EventID < a.EventID {
		a, b = b, a
	}
	if e.sims == nil {
		return e.score(a, b)
	}
	return e.sims.get(a, b, func() model.SimilarityScore { return e.score(a, b) })
}

// Process deduplicates a working set. Malformed events are reported in
// Skipped; the only error is context cancellation.
func (e *Engine) Process(ctx context.Context, events []model.NormalizedEvent) (Result, error) {
	return e.process(ctx, events, "")
}

// ProcessIncremental matches one new event against a recent window. Only the
// new event and the window members clustered with it are reported.
func (e *Engine) ProcessIncremental(ctx context.Context, ev model.NormalizedEvent, window []model.NormalizedEvent) (Result, error) {
	set := make([]model.NormalizedEvent, 0, len(window)+1)
	set = append(set, ev)
	for i := range window {
		if window[i].ID != ev.ID {
			set = append(set, window[i])
		}
	}
	return e.process(ctx, set, ev.ID)
}

type edge struct {
	a, b  int
	match model.MatchResult
}

//nolint:gocognit,funlen // one pass over the pipeline stages
func (e *Engine) process(ctx context.Context, events []model.NormalizedEvent, focus string) (Result, error) {
	began := e.now()
	res := Result{States: make(map[string]State, len(events))}
	res.Stats.Events = len(events)

	// Keep the newest version of a repeated id.
	latest := make(map[string]int, len(events))
	order := make([]int, 0, len(events))
	for i := range events {
		id := events[i].ID
		if id == "" {
			order = append(order, i)
			continue
		}
		if j, ok := latest[id]; ok {
			keep, drop := j, i
			if events[i].Version() >= events[j].Version() {
				keep, drop = i, j
			}
			res.Skipped = append(res.Skipped, Skipped{EventID: id, Reason: ErrDuplicateInBatch.Error()})
			latest[id] = keep
			for k, idx := range order {
				if idx == drop {
					order[k] = keep
				}
			}
			continue
		}
		latest[id] = i
		order = append(order, i)
	}

	ms := make([]member, 0, len(order))
	focusIdx := -1
	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("fingerprint: %w", err)
		}
		ev := &events[i]
		fp, err := e.Fingerprint(ctx, ev)
		if err != nil {
			reason := err.Error()
			if !errors.Is(err, ErrNotFingerprintable) {
				reason = fmt.Sprintf("%s: %v", ErrNotFingerprintable, err)
			}
			res.Skipped = append(res.Skipped, Skipped{EventID: ev.ID, Reason: reason})
			if ev.ID != "" {
				res.States[ev.ID] = StateSkipped
			}
			continue
		}
		if ev.ID == focus {
			focusIdx = len(ms)
		}
		ms = append(ms, member{ev: ev, fp: fp})
	}
	res.Stats.Fingerprinted = len(ms)
	res.Stats.Skipped = len(res.Skipped)

	pairs := e.candidatePairs(ms, focusIdx, focus != "")
	uf := newUnionFind(len(ms))
	var edges []edge
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("compare: %w", err)
		}
		a, b := ms[p[0]].fp, ms[p[1]].fp
		s := e.similarity(a, b)
		res.Stats.Comparisons++
		m, ok := e.match(a, b, s)
		if !ok {
			continue
		}
		res.Stats.Candidates++
		uf.union(p[0], p[1])
		edges = append(edges, edge{a: p[0], b: p[1], match: m})
	}
	metrics.RecordDedupeComparisons(res.Stats.Comparisons)
	metrics.RecordDedupeCandidates(res.Stats.Candidates)

	clustered := make(map[int]bool)
	for _, comp := range uf.components() {
		res.Stats.Clusters++
		d, ok := e.decide(comp, ms, edges)
		if !ok {
			res.Stats.Discarded++
			metrics.RecordDedupeCluster("discarded")
			continue
		}
		for _, i := range comp {
			clustered[i] = true
		}
		switch d.Status {
		case model.StatusAutoMerge:
			res.Stats.AutoMerged++
			res.States[d.PrimaryID] = StatePrimary
			for _, id := range d.DuplicateIDs {
				res.States[id] = MergedInto(d.PrimaryID)
			}
		default:
			res.Stats.ManualReview++
			res.States[d.PrimaryID] = StateClustered
			for _, id := range d.DuplicateIDs {
				res.States[id] = StateClustered
			}
		}
		metrics.RecordDedupeCluster(string(d.Status))
		res.Decisions = append(res.Decisions, d)
	}

	for i, m := range ms {
		if clustered[i] {
			continue
		}
		if focus != "" && i != focusIdx {
			continue
		}
		res.States[m.ev.ID] = StateUnmatched
		res.Unmatched = append(res.Unmatched, m.ev.ID)
	}

	res.Stats.Duration = e.now().Sub(began)
	metrics.RecordDedupeSkipped(res.Stats.Skipped)
	metrics.RecordDedupeLatency(float64(res.Stats.Duration.Milliseconds()))
	if e.log != nil {
		e.log.Debug(ctx, "dedupe pass complete",
			logger.Int("events", res.Stats.Events),
			logger.Int("comparisons", res.Stats.Comparisons),
			logger.Int("clusters", res.Stats.Clusters),
			logger.Int("auto_merged", res.Stats.AutoMerged),
			logger.Int("manual_review", res.Stats.ManualReview),
			logger.Int("skipped", res.Stats.Skipped),
		)
	}
	return res, nil
}

// candidatePairs returns index pairs (low, high) sharing a blocking key and
// starting within the date fuzz window. Inside a bucket each event is only
// compared with its MaxCandidatesPerBucket successors by start time. With
// focusOnly set, only pairs involving focus are kept.
func (e *Engine) candidatePairs(ms []member, focus int, focusOnly bool) [][2]int {
	if focusOnly && focus < 0 {
		return nil
	}
	buckets := make(map[string][]int)
	keys := make([]string, 0)
	for i, m := range ms {
		for _, k := range e.blockingKeys(m.fp) {
			if _, ok := buckets[k]; !ok {
				keys = append(keys, k)
			}
			buckets[k] = append(buckets[k], i)
		}
	}

	fuzz := e.cfg.Algorithms.DateFuzz
	window := e.cfg.Performance.MaxCandidatesPerBucket
	seen := make(map[[2]int]struct{})
	var pairs [][2]int
	for _, k := range keys {
		idx := buckets[k]
		sort.SliceStable(idx, func(x, y int) bool { return ms[idx[x]].fp.Start.Before(ms[idx[y]].fp.Start) })
		for x := range idx {
			for y := x + 1; y < len(idx) && y-x <= window; y++ {
				if ms[idx[y]].fp.Start.Sub(ms[idx[x]].fp.Start) > fuzz {
					break
				}
				p := [2]int{idx[x], idx[y]}
				if p[0] > p[1] {
					p[0], p[1] = p[1], p[0]
				}
				if focusOnly && p[0] != focus && p[1] != focus {
					continue
				}
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// decide builds the merge decision of one cluster. It reports false when no
// link of the cluster reaches the noise floor.
func (e *Engine) decide(comp []int, ms []member, edges []edge) (model.MergeDecision, bool) {
	in := make(map[int]bool, len(comp))
	cluster := make([]member, 0, len(comp))
	for _, i := range comp {
		in[i] = true
		cluster = append(cluster, ms[i])
	}

	var sum, strongest float64
	n := 0
	best := make(map[string]model.MatchResult, len(comp))
	for _, ed := range edges {
		if !in[ed.a] || !in[ed.b] {
			continue
		}
		sum += ed.match.Confidence
		strongest = max(strongest, ed.match.Confidence)
		n++
		for _, pair := range [][2]*Fingerprint{{ms[ed.a].fp, ms[ed.b].fp}, {ms[ed.b].fp, ms[ed.a].fp}} {
			self, other := pair[0], pair[1]
			if cur, ok := best[self.EventID]; !ok || ed.match.Confidence > cur.Confidence {
				m := ed.match
				m.EventID, m.MatchedWith = self.EventID, other.EventID
				best[self.EventID] = m
			}
		}
	}
	confidence := 0.0
	if n > 0 {
		confidence = sum / float64(n)
	}
	// A cluster survives while any of its links reaches the floor.
	q := e.cfg.Quality
	if strongest < q.NoiseFloor {
		return model.MergeDecision{}, false
	}

	rankMembers(cluster)
	primary := cluster[0]
	merged, resolutions, manualField := e.resolve(cluster)

	d := model.MergeDecision{
		ID:          e.newID(),
		PrimaryID:   primary.ev.ID,
		Strategy:    e.cfg.Conflict.Default,
		Confidence:  confidence,
		Resolutions: resolutions,
		Merged:      merged,
		CreatedAt:   e.now().UTC(),
	}
	mergedAt := d.CreatedAt
	d.Merged.MergedAt = &mergedAt
	allStrong := true
	for _, m := range cluster[1:] {
		d.DuplicateIDs = append(d.DuplicateIDs, m.ev.ID)
		mr := best[m.ev.ID]
		d.Matches = append(d.Matches, mr)
		if mr.Confidence < q.AutoMergeThreshold {
			allStrong = false
		}
	}

	d.Status = model.StatusManualReview
	if confidence >= q.AutoMergeThreshold && allStrong && !manualField &&
		primary.fp.Quality >= q.MinQualityScore && !q.RequireManualReview {
		d.Status = model.StatusAutoMerge
	}
	return d, true
}

// Partition splits events into batches of at most BatchSize events. Events
// sharing a blocking key land in the same region, so a batch never separates
// a candidate pair unless its region is larger than BatchSize; such a region
// is cut by start time.
func (e *Engine) Partition(events []model.NormalizedEvent) [][]model.NormalizedEvent {
	uf := newUnionFind(len(events))
	owner := make(map[string]int)
	for i := range events {
		ev := &events[i]
		keys := e.blockKeys(ev.Coordinates, textnorm.Fold(ev.City), textnorm.VenueSlug(ev.VenueName),
			dateKey(ev.StartUTC, ev.Timezone))
		for _, k := range keys {
			if j, ok := owner[k]; ok {
				uf.union(i, j)
				continue
			}
			owner[k] = i
		}
	}

	size := e.cfg.Performance.BatchSize
	var (
		out     [][]model.NormalizedEvent
		current []model.NormalizedEvent
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, current)
			current = nil
		}
	}
	for _, idx := range uf.groups(1) {
		group := make([]model.NormalizedEvent, 0, len(idx))
		for _, i := range idx {
			group = append(group, events[i])
		}
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].StartUTC.Equal(group[j].StartUTC) {
				return group[i].StartUTC.Before(group[j].StartUTC)
			}
			return group[i].ID < group[j].ID
		})
		for start := 0; start < len(group); start += size {
			end := min(start+size, len(group))
			chunk := group[start:end]
			if len(current)+len(chunk) > size {
				flush()
			}
			current = append(current, chunk...)
		}
	}
	flush()
	return out
}
