package loadgen

import (
	"fmt"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Events         int           // Number of distinct events to generate
	DuplicateRatio float64       // Share of events republished by a second source
	BatchSize      int           // Records per POST /ingest
	Workers        int           // Concurrent submitters
	Timeout        time.Duration // HTTP request timeout
	Timezone       string        // Fallback zone sent with every batch
	Seed           uint64        // Generator seed; equal seeds give equal plans
	MinRecall      float64       // Fail when fewer planted duplicates are found
	OutputFile     string        // Where the generated plan is written, optional
	Verbose        bool          // Log every batch
}

// Validate checks the bounds Run relies on.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Events <= 0:
		return fmt.Errorf("%w: events must be positive", ErrInvalidConfig)
	case c.DuplicateRatio < 0 || c.DuplicateRatio > 1:
		return fmt.Errorf("%w: duplicate ratio must be within [0,1]", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.MinRecall < 0 || c.MinRecall > 1:
		return fmt.Errorf("%w: min recall must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated   int
	RecordsGenerated  int
	PlantedDuplicates int
	BatchesSubmitted  int
	BatchesFailed     int
	RecordsFresh      int
	RecordsUnchanged  int
	RecordsRejected   int
	AutoMerged        int
	ManualReview      int
	DuplicatesFound   int
	Recall            float64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
