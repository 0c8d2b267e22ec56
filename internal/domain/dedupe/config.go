package dedupe

import (
	"fmt"
	"time"

	"github.com/okian/gather/internal/domain/model"
)

// String matching algorithms.
const (
	MatchLevenshtein  = "levenshtein"
	MatchJaroWinkler  = "jaro_winkler"
	MatchSorensenDice = "sorensen_dice"
	MatchJaccard      = "jaccard"
	MatchTokenCosine  = "token_cosine"
)

// Location matching variants.
const (
	LocationHierarchy   = "hierarchy"
	LocationCoordinates = "coordinates"
	LocationAddress     = "address"
)

// Config tunes the deduplication engine. Every threshold is externally tunable.
type Config struct {
	Thresholds  Thresholds  `koanf:"thresholds"`
	Weights     Weights     `koanf:"weights"`
	Algorithms  Algorithms  `koanf:"algorithms"`
	Performance Performance `koanf:"performance"`
	Quality     Quality     `koanf:"quality"`
	Conflict    Conflict    `koanf:"conflict"`
}

// Thresholds are the per-signal floors and the blended candidate threshold.
type Thresholds struct {
	Title   float64 `koanf:"title" validate:"gte=0,lte=1"`
	Venue   float64 `koanf:"venue" validate:"gte=0,lte=1"`
	Date    float64 `koanf:"date" validate:"gte=0,lte=1"`
	Overall float64 `koanf:"overall" validate:"gt=0,lte=1"`
}

// Weights blend sub-scores into the overall score.
type Weights struct {
	Title    float64 `koanf:"title" validate:"gte=0"`
	Venue    float64 `koanf:"venue" validate:"gte=0"`
	Date     float64 `koanf:"date" validate:"gte=0"`
	Location float64 `koanf:"location" validate:"gte=0"`
	Semantic float64 `koanf:"semantic" validate:"gte=0"`
}

// Algorithms selects the comparison variants.
type Algorithms struct {
	StringMatching       string        `koanf:"string_matching" validate:"oneof=levenshtein jaro_winkler sorensen_dice jaccard token_cosine"`
	SemanticEnabled      bool          `koanf:"semantic_enabled"`
	LocationMatching     string        `koanf:"location_matching" validate:"oneof=hierarchy coordinates address"`
	DateFuzz             time.Duration `koanf:"date_fuzz" validate:"gt=0"`
	CoordinateRadiusKm   float64       `koanf:"coordinate_radius_km" validate:"gt=0"`
	VenueDistanceDecayKm float64       `koanf:"venue_distance_decay_km" validate:"gt=0"`
}

// Performance bounds the work done per batch.
type Performance struct {
	BatchSize               int           `koanf:"batch_size" validate:"gte=1"`
	MaxCandidatesPerBucket  int           `koanf:"max_candidates_per_bucket" validate:"gte=1"`
	CacheEnabled            bool          `koanf:"cache_enabled"`
	CacheSize               int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL                time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	LocationBucketPrecision int           `koanf:"location_bucket_precision" validate:"gte=0,lte=6"`
}

// Quality gates decide between auto-merge, manual review, and discard.
type Quality struct {
	MinQualityScore     float64 `koanf:"min_quality_score" validate:"gte=0,lte=1"`
	RequireManualReview bool    `koanf:"require_manual_review"`
	AutoMergeThreshold  float64 `koanf:"auto_merge_threshold" validate:"gt=0,lte=1"`
	NoiseFloor          float64 `koanf:"noise_floor" validate:"gte=0,lte=1"`
}

// Conflict maps fields to resolution strategies. Fields not listed use Default.
type Conflict struct {
	Default model.ConflictStrategy            `koanf:"default"`
	Fields  map[string]model.ConflictStrategy `koanf:"fields"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{Title: 0.6, Venue: 0.3, Date: 0.5, Overall: 0.75},
		Weights:    Weights{Title: 0.35, Venue: 0.2, Date: 0.2, Location: 0.15, Semantic: 0.1},
		Algorithms: Algorithms{
			StringMatching:       MatchLevenshtein,
			LocationMatching:     LocationHierarchy,
			DateFuzz:             24 * time.Hour,
			CoordinateRadiusKm:   0.5,
			VenueDistanceDecayKm: 1,
		},
		Performance: Performance{
			BatchSize:               500,
			MaxCandidatesPerBucket:  50,
			CacheEnabled:            true,
			CacheSize:               10_000,
			CacheTTL:                time.Hour,
			LocationBucketPrecision: 2,
		},
		Quality: Quality{
			MinQualityScore:    0.2,
			AutoMergeThreshold: 0.85,
			NoiseFloor:         0.6,
		},
		Conflict: Conflict{
			Default: model.StrategyMostComplete,
			Fields: map[string]model.ConflictStrategy{
				FieldTitle:       model.StrategyPrimaryWins,
				FieldStart:       model.StrategyPrimaryWins,
				FieldCategory:    model.StrategyPrimaryWins,
				FieldTicketURL:   model.StrategyPrimaryWins,
				FieldCoordinates: model.StrategyHighestQuality,
				FieldPrice:       model.StrategyMergeValues,
			},
		},
	}
}

// Validate performs the semantic checks struct tags cannot express.
func (c *Config) Validate() error {
	w := c.Weights
	if w.Title+w.Venue+w.Date+w.Location <= 0 {
		return fmt.Errorf("%w: weights must sum above zero", ErrInvalidConfig)
	}
	if c.Quality.NoiseFloor > c.Quality.AutoMergeThreshold {
		return fmt.Errorf("%w: noise floor %.2f above auto-merge threshold %.2f",
			ErrInvalidConfig, c.Quality.NoiseFloor, c.Quality.AutoMergeThreshold)
	}
	if c.Thresholds.Overall <= 0 {
		return fmt.Errorf("%w: overall threshold is required", ErrInvalidConfig)
	}
	if !c.Conflict.Default.Valid() {
		return fmt.Errorf("%w: unknown default conflict strategy %q", ErrInvalidConfig, c.Conflict.Default)
	}
	for field, s := range c.Conflict.Fields {
		if !knownField(field) {
			return fmt.Errorf("%w: unknown conflict field %q", ErrInvalidConfig, field)
		}
		if !s.Valid() {
			return fmt.Errorf("%w: unknown conflict strategy %q for %s", ErrInvalidConfig, s, field)
		}
	}
	switch c.Algorithms.StringMatching {
	case MatchLevenshtein, MatchJaroWinkler, MatchSorensenDice, MatchJaccard, MatchTokenCosine:
	default:
		return fmt.Errorf("%w: unknown string matching %q", ErrInvalidConfig, c.Algorithms.StringMatching)
	}
	switch c.Algorithms.LocationMatching {
	case LocationHierarchy, LocationCoordinates, LocationAddress:
	default:
		return fmt.Errorf("%w: unknown location matching %q", ErrInvalidConfig, c.Algorithms.LocationMatching)
	}
	if c.Algorithms.DateFuzz <= 0 || c.Algorithms.CoordinateRadiusKm <= 0 || c.Algorithms.VenueDistanceDecayKm <= 0 {
		return fmt.Errorf("%w: date fuzz, coordinate radius and venue decay must be positive", ErrInvalidConfig)
	}
	if c.Performance.BatchSize < 1 || c.Performance.MaxCandidatesPerBucket < 1 {
		return fmt.Errorf("%w: batch size and candidates per bucket must be positive", ErrInvalidConfig)
	}
	return nil
}

// strategyFor returns the strategy configured for field.
func (c *Config) strategyFor(field string) model.ConflictStrategy {
	if s, ok := c.Conflict.Fields[field]; ok {
		return s
	}
	return c.Conflict.Default
}
