package service

import (
	"time"

	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/internal/domain/model"
)

// Trigger tells what started a run.
type Trigger string

// Run triggers.
const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerPush     Trigger = "push"
)

// Rejection is one raw record the normalizer refused.
type Rejection struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail"`
}

// SourceReport is the outcome of one source within a run.
type SourceReport struct {
	Source     string          `json:"source"`
	Tag        model.SourceTag `json:"tag"`
	TaskID     string          `json:"task_id,omitempty"`
	Attempts   int             `json:"attempts"`
	Records    int             `json:"records"`
	Normalized int             `json:"normalized"`
	Rejected   []Rejection     `json:"rejected,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// RunReport attributes everything that happened in one ingestion run.
type RunReport struct {
	ID         string         `json:"id"`
	Trigger    Trigger        `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`

	// Fresh counts events written to the store; Unchanged counts events
	// whose version was already processed.
	Fresh     int `json:"fresh"`
	Unchanged int `json:"unchanged"`

	Dedupe       dedupe.Stats     `json:"dedupe"`
	Batches      int              `json:"batches"`
	Decisions    []string         `json:"decisions"`
	AutoMerged   int              `json:"auto_merged"`
	ManualReview int              `json:"manual_review"`
	Skipped      []dedupe.Skipped `json:"skipped,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
}

// Failed reports whether any source or stage failed.
func (r *RunReport) Failed() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, s := range r.Sources {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Rejected returns the number of rejected records over all sources.
func (r *RunReport) Rejected() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Rejected)
	}
	return n
}
