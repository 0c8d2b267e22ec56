package model

import "time"

// DecisionStatus tells whether a merge decision may be applied automatically.
type DecisionStatus string

// Decision statuses.
const (
	StatusAutoMerge    DecisionStatus = "auto_merge"
	StatusManualReview DecisionStatus = "needs_manual_review"
)

// ConflictStrategy selects how a differing field is resolved inside a cluster.
type ConflictStrategy string

// Conflict strategies.
const (
	StrategyPrimaryWins    ConflictStrategy = "primary_wins"
	StrategyLatestWins     ConflictStrategy = "latest_wins"
	StrategyMostComplete   ConflictStrategy = "most_complete"
	StrategyHighestQuality ConflictStrategy = "highest_quality"
	StrategyManualReview   ConflictStrategy = "manual_review"
	StrategyMergeValues    ConflictStrategy = "merge_values"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyPrimaryWins, StrategyLatestWins, StrategyMostComplete,
		StrategyHighestQuality, StrategyManualReview, StrategyMergeValues:
		return true
	}
	return false
}

// ResolutionReason records why a value won.
type ResolutionReason string

// Resolution reasons.
const (
	ReasonPrimary        ResolutionReason = "primary"
	ReasonLatest         ResolutionReason = "latest"
	ReasonMostComplete   ResolutionReason = "most_complete"
	ReasonHighestQuality ResolutionReason = "highest_quality"
	ReasonMerge          ResolutionReason = "merge"
	ReasonManual         ResolutionReason = "manual"
)

// LocationMatch is the strongest location relation found between two events.
// Ordered strongest first: exact, venue_name, coordinates, address, city.
type LocationMatch string

// Location match types.
const (
	LocationExact       LocationMatch = "exact"
	LocationVenueName   LocationMatch = "venue_name"
	LocationCoordinates LocationMatch = "coordinates"
	LocationAddress     LocationMatch = "address"
	LocationCity        LocationMatch = "city"
	LocationNone        LocationMatch = "none"
)

// SimilarityScore holds the sub-scores of a pair, each in [0,1].
type SimilarityScore struct {
	Title             float64       `json:"title"`
	Venue             float64       `json:"venue"`
	Date              float64       `json:"date"`
	Location          float64       `json:"location"`
	Semantic          float64       `json:"semantic"`
	LocationMatch     LocationMatch `json:"location_match"`
	SemanticAvailable bool          `json:"semantic_available"`
	Overall           float64       `json:"overall"`
}

// MatchResult is one candidate duplicate relation.
type MatchResult struct {
	EventID     string          `json:"event_id"`
	MatchedWith string          `json:"matched_with"`
	Score       SimilarityScore `json:"score"`
	Confidence  float64         `json:"confidence"`
	Reasons     []string        `json:"reasons,omitempty"`
	Risks       []string        `json:"risks,omitempty"`
}

// FieldResolution records the winning value of one conflicting field.
type FieldResolution struct {
	Field         string           `json:"field"`
	Value         any              `json:"value"`
	SourceEventID string           `json:"source_event_id"`
	Reason        ResolutionReason `json:"reason"`
	Confidence    float64          `json:"confidence"`
}

// MergeDecision is the terminal artifact of deduplicating one cluster.
type MergeDecision struct {
	ID           string            `json:"id"`
	PrimaryID    string            `json:"primary_id"`
	DuplicateIDs []string          `json:"duplicate_ids"`
	Strategy     ConflictStrategy  `json:"strategy"`
	Confidence   float64           `json:"confidence"`
	Status       DecisionStatus    `json:"status"`
	Resolutions  []FieldResolution `json:"resolutions"`
	Matches      []MatchResult     `json:"matches,omitempty"`
	Merged       NormalizedEvent   `json:"merged"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RequiresReview reports whether any field resolution was deferred to a human.
func (d *MergeDecision) RequiresReview() bool {
	for _, r := range d.Resolutions {
		if r.Reason == ReasonManual {
			return true
		}
	}
	return false
}
