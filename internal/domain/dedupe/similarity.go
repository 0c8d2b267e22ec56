package dedupe

import (
	"math"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/okian/gather/internal/domain/model"
)

// unknownScore is used when neither side carries a signal.
const unknownScore = 0.5

// Risk penalty applied to a pair's confidence per risk factor.
const riskPenalty = 0.05

func newStringMetric(name string) strutil.StringMetric {
	switch name {
	case MatchJaroWinkler:
		return metrics.NewJaroWinkler()
	case MatchSorensenDice:
		return metrics.NewSorensenDice()
	case MatchJaccard:
		return metrics.NewJaccard()
	case MatchTokenCosine:
		return nil
	default:
		return metrics.NewLevenshtein()
	}
}

// score computes the sub-scores and weighted overall of a pair. It depends
// only on the two fingerprints, and the result is the same in either order.
func (e *Engine) score(a, b *Fingerprint) model.SimilarityScore {
	if b.EventID < a.EventID {
		a, b = b, a
	}
	s := model.SimilarityScore{
		Title: e.textSimilarity(a.Title, b.Title, a.Tokens, b.Tokens),
		Venue: e.venueScore(a, b),
		Date:  e.dateScore(a, b),
	}
	s.LocationMatch, s.Location = e.locationScore(a, b)
	if e.cfg.Algorithms.SemanticEnabled && len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		s.Semantic = clip(cosine(a.Embedding, b.Embedding))
		s.SemanticAvailable = true
	}

	w := e.cfg.Weights
	total := w.Title*s.Title + w.Venue*s.Venue + w.Date*s.Date + w.Location*s.Location
	sum := w.Title + w.Venue + w.Date + w.Location
	if s.SemanticAvailable {
		total += w.Semantic * s.Semantic
		sum += w.Semantic
	}
	if sum > 0 {
		s.Overall = clip(total / sum)
	}
	return s
}

func (e *Engine) textSimilarity(a, b string, ta, tb []string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if e.metric == nil {
		return tokenCosine(ta, tb)
	}
	return clip(strutil.Similarity(a, b, e.metric))
}

// venueScore blends string similarity with distance decay when both sides
// have coordinates.
func (e *Engine) venueScore(a, b *Fingerprint) float64 {
	hasCoords := a.Coordinates != nil && b.Coordinates != nil
	var decay float64
	if hasCoords {
		decay = math.Exp(-haversineKm(*a.Coordinates, *b.Coordinates) / e.cfg.Algorithms.VenueDistanceDecayKm)
	}
	if a.Venue == "" || b.Venue == "" {
		if hasCoords {
			return decay
		}
		return unknownScore
	}

	str := e.textSimilarity(a.Venue, b.Venue, strings.Fields(a.Venue), strings.Fields(b.Venue))
	if c := containment(strings.Fields(a.Venue), strings.Fields(b.Venue)); c > str {
		str = c
	}
	if hasCoords {
		return clip(0.7*str + 0.3*decay)
	}
	return str
}

// dateScore is 1 on the same local day and decays linearly over the fuzz window.
func (e *Engine) dateScore(a, b *Fingerprint) float64 {
	if a.DateKey == b.DateKey {
		return 1
	}
	diff := a.Start.Sub(b.Start)
	if diff < 0 {
		diff = -diff
	}
	fuzz := e.cfg.Algorithms.DateFuzz
	if diff >= fuzz {
		return 0
	}
	return clip(1 - float64(diff)/float64(fuzz))
}

// match evaluates a pair against the thresholds.
func (e *Engine) match(a, b *Fingerprint, s model.SimilarityScore) (model.MatchResult, bool) {
	t := e.cfg.Thresholds
	candidate := s.Overall >= t.Overall && s.Title >= t.Title && s.Venue >= t.Venue && s.Date >= t.Date

	m := model.MatchResult{EventID: b.EventID, MatchedWith: a.EventID, Score: s}
	if a.ContentHash == b.ContentHash {
		m.Reasons = append(m.Reasons, "identical content")
	}
	if s.Title >= 0.9 {
		m.Reasons = append(m.Reasons, "title match")
	}
	if s.Date == 1 {
		m.Reasons = append(m.Reasons, "same day")
	}
	if a.TimeBucket == b.TimeBucket {
		m.Reasons = append(m.Reasons, "same time window")
	}
	if s.LocationMatch != model.LocationNone {
		m.Reasons = append(m.Reasons, "location "+string(s.LocationMatch))
	}

	if s.Title < 0.85 {
		m.Risks = append(m.Risks, "title differs")
	}
	if !a.Start.Equal(b.Start) {
		m.Risks = append(m.Risks, "start times differ by "+absDuration(a.Start.Sub(b.Start)).String())
	}
	if s.LocationMatch == model.LocationCity || s.LocationMatch == model.LocationNone {
		m.Risks = append(m.Risks, "weak location evidence")
	}
	if a.Category != b.Category && a.Category != model.CategoryOther && b.Category != model.CategoryOther &&
		a.Category != "" && b.Category != "" {
		m.Risks = append(m.Risks, "category differs")
	}
	if a.Source == b.Source {
		m.Risks = append(m.Risks, "same source")
	}
	m.Confidence = clip(s.Overall - riskPenalty*float64(len(m.Risks)))
	return m, candidate
}

func tokenCosine(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	fa := make(map[string]float64, len(a))
	for _, t := range a {
		fa[t]++
	}
	fb := make(map[string]float64, len(b))
	for _, t := range b {
		fb[t]++
	}
	var dot, na, nb float64
	for t, x := range fa {
		dot += x * fb[t]
		na += x * x
	}
	for _, y := range fb {
		nb += y * y
	}
	return clip(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// containment is the share of the shorter token list present in the longer one.
func containment(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	hit := 0
	for _, t := range a {
		if _, ok := set[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clip(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
