package loadgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// maxDecisions is the most decisions read back for verification.
const maxDecisions = 500

// batch is one POST /ingest body.
type batch struct {
	tag  model.SourceTag
	raws []json.RawMessage
}

// Run generates a plan, pushes it and checks which planted duplicates the
// service found.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	if err := cfg.Validate(); err != nil {
		return stats, err
	}
	log := logger.Named("loadgen")
	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("events", cfg.Events),
		logger.Float64("duplicateRatio", cfg.DuplicateRatio),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers))

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := c.health(ctx); err != nil {
		return stats, err
	}

	plan, err := Generate(cfg, stats.StartTime)
	if err != nil {
		return stats, err
	}
	stats.EventsGenerated = cfg.Events
	stats.RecordsGenerated = len(plan.Records)
	stats.PlantedDuplicates = len(plan.Duplicates)
	if cfg.OutputFile != "" {
		if err := savePlan(cfg.OutputFile, plan); err != nil {
			log.Warn(ctx, "failed to save plan", logger.Error(err))
		}
	}

	if err := submit(ctx, c, cfg, batches(plan.Records, cfg.BatchSize), &stats, log); err != nil {
		return stats, err
	}

	decisions, err := c.decisions(ctx, maxDecisions)
	if err != nil {
		return stats, fmt.Errorf("verify: %w", err)
	}
	stats.DuplicatesFound = verifyDuplicates(plan.Duplicates, decisions)
	stats.Recall = recall(stats.DuplicatesFound, stats.PlantedDuplicates)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if stats.Recall < cfg.MinRecall {
		return stats, fmt.Errorf("%w: %.2f < %.2f", ErrLowRecall, stats.Recall, cfg.MinRecall)
	}
	return stats, nil
}

// batches groups records per source, keeping generation order within each.
func batches(records []Record, size int) []batch {
	bySource := make(map[model.SourceTag][]json.RawMessage)
	for _, r := range records {
		bySource[r.Tag] = append(bySource[r.Tag], r.Raw)
	}
	var out []batch
	for _, tag := range model.SourceTags() {
		raws := bySource[tag]
		for start := 0; start < len(raws); start += size {
			end := min(start+size, len(raws))
			out = append(out, batch{tag: tag, raws: raws[start:end]})
		}
	}
	return out
}

// submit pushes batches with at most cfg.Workers in flight. A failed batch is
// counted, not fatal; only cancellation stops the run.
func submit(ctx context.Context, c *client, cfg Config, all []batch, stats *Stats, log logger.Logger) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i, b := range all {
		g.Go(func() error {
			rep, err := c.push(gctx, b.tag, cfg.Timezone, b.raws)

			mu.Lock()
			defer mu.Unlock()
			stats.BatchesSubmitted++
			if err != nil {
				if errors.Is(err, context.Canceled) || gctx.Err() != nil {
					return err
				}
				stats.BatchesFailed++
				log.Warn(gctx, "batch failed", logger.Int("batch", i), logger.String("source", string(b.tag)), logger.Error(err))
				return nil
			}
			stats.RecordsFresh += rep.Fresh
			stats.RecordsUnchanged += rep.Unchanged
			stats.RecordsRejected += rep.rejected()
			stats.AutoMerged += rep.AutoMerged
			stats.ManualReview += rep.ManualReview
			if cfg.Verbose {
				log.Info(gctx, "batch submitted",
					logger.Int("batch", i),
					logger.String("source", string(b.tag)),
					logger.Int("records", len(b.raws)),
					logger.Int("fresh", rep.Fresh),
					logger.Int("autoMerged", rep.AutoMerged))
			}
			return nil
		})
	}
	return g.Wait()
}

// savePlan writes the generated plan as JSON.
func savePlan(filename string, plan Plan) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return os.WriteFile(filename, data, filePermission)
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats Stats) {
	var recordsPerSecond float64
	if stats.Duration > 0 {
		recordsPerSecond = float64(stats.RecordsGenerated) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("recordsGenerated", stats.RecordsGenerated),
		logger.Int("batchesSubmitted", stats.BatchesSubmitted),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("fresh", stats.RecordsFresh),
		logger.Int("unchanged", stats.RecordsUnchanged),
		logger.Int("rejected", stats.RecordsRejected),
		logger.Int("autoMerged", stats.AutoMerged),
		logger.Int("manualReview", stats.ManualReview),
		logger.Int("plantedDuplicates", stats.PlantedDuplicates),
		logger.Int("duplicatesFound", stats.DuplicatesFound),
		logger.Float64("recall", stats.Recall),
		logger.Duration("duration", stats.Duration),
		logger.Float64("recordsPerSecond", recordsPerSecond))
}
