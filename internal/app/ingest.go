package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/gather/internal/adapters/mq/worker"
	"github.com/okian/gather/internal/adapters/source"
	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/internal/domain/normalize"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
	"github.com/tidwall/gjson"
)

// Run pulls every source once and deduplicates what changed. It refuses to
// start while another run holds the pipeline.
func (s *Service) Run(ctx context.Context, trigger Trigger) (RunReport, error) {
	if !s.isStarted() {
		return RunReport{}, ErrNotStarted
	}
	if !s.runMu.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	rep := RunReport{ID: s.newID(), Trigger: trigger, StartedAt: s.now()}
	events := s.fetchAll(ctx, &rep)
	s.ingest(ctx, events, &rep)
	s.finishRun(ctx, &rep)
	return rep, nil
}

// IngestPayloads normalizes pushed raw records of one source and
// deduplicates them like a pull run. tz is used when a record carries no
// zone of its own.
func (s *Service) IngestPayloads(ctx context.Context, tag model.SourceTag, tz string, raws []source.RawRecord) (RunReport, error) {
	if !tag.Valid() {
		return RunReport{}, fmt.Errorf("%w: %q", normalize.ErrUnknownSource, tag)
	}
	if len(raws) == 0 {
		return RunReport{}, ErrNoPayloads
	}
	if !s.isStarted() {
		return RunReport{}, ErrNotStarted
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	rep := RunReport{ID: s.newID(), Trigger: TriggerPush, StartedAt: s.now()}
	sr := SourceReport{Source: "push:" + string(tag), Tag: tag, Attempts: 1, Records: len(raws)}
	events := s.normalize(sr.Source, tag, s.zone(tz), raws, &sr)
	rep.Sources = append(rep.Sources, sr)
	s.ingest(ctx, events, &rep)
	s.finishRun(ctx, &rep)
	return rep, nil
}

func (s *Service) fetchAll(ctx context.Context, rep *RunReport) []model.NormalizedEvent {
	fetch := func(ctx context.Context, a source.Adapter) ([]source.RawRecord, error) {
		return a.Fetch(ctx)
	}
	tasks := make([]worker.Task[source.Adapter, []source.RawRecord], len(s.adapters))
	for i, a := range s.adapters {
		tasks[i] = worker.Task[source.Adapter, []source.RawRecord]{
			ID:      rep.ID + ":fetch:" + a.Name(),
			Data:    a,
			Handler: fetch,
		}
	}

	var events []model.NormalizedEvent
	for i, res := range s.fetchers.SpawnBatch(ctx, tasks) {
		a := s.adapters[i]
		sr := SourceReport{
			Source:   a.Name(),
			Tag:      a.Tag(),
			TaskID:   res.TaskID,
			Attempts: res.Attempts,
			Duration: res.Duration,
		}
		if res.Err != nil {
			sr.Error = res.Err.Error()
			rep.Sources = append(rep.Sources, sr)
			continue
		}
		sr.Records = len(res.Value)
		events = append(events, s.normalize(a.Name(), a.Tag(), s.zone(a.Timezone()), res.Value, &sr)...)
		rep.Sources = append(rep.Sources, sr)
	}
	return events
}

func (s *Service) normalize(name string, tag model.SourceTag, tz string, raws []source.RawRecord, sr *SourceReport) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := s.normalizer.NormalizeRaw(raw, tag, tz)
		if err != nil {
			reason := normalize.Reason(err)
			sr.Rejected = append(sr.Rejected, Rejection{
				Index:    i,
				RecordID: gjson.GetBytes(raw, "id").String(),
				Reason:   reason,
				Detail:   err.Error(),
			})
			metrics.RecordRecordRejected(name, reason)
			continue
		}
		out = append(out, ev)
	}
	sr.Normalized = len(out)
	metrics.RecordRecordsNormalized(name, len(out))
	return out
}

// ingest stores changed events and deduplicates them against the recent
// window. Only decisions that involve a changed event are applied.
func (s *Service) ingest(ctx context.Context, events []model.NormalizedEvent, rep *RunReport) {
	fresh := make([]model.NormalizedEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		if s.ledger.SeenAndRecord(ctx, ev) {
			rep.Unchanged++
			continue
		}
		written, err := s.store.UpsertEvent(ctx, *ev)
		if err != nil {
			s.ledger.Forget(ctx, ev.ID)
			rep.Errors = append(rep.Errors, fmt.Sprintf("store %s: %v", ev.ID, err))
			continue
		}
		if !written {
			rep.Unchanged++
			continue
		}
		fresh = append(fresh, *ev)
	}
	rep.Fresh = len(fresh)
	if len(fresh) == 0 {
		return
	}

	touched := make(map[string]struct{}, len(fresh))
	for _, ev := range fresh {
		touched[ev.ID] = struct{}{}
	}
	window := s.window(ctx, fresh, rep)

	var results []dedupe.Result
	if len(fresh) == 1 {
		res, err := s.engine.ProcessIncremental(ctx, fresh[0], window)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("dedupe %s: %v", fresh[0].ID, err))
			return
		}
		rep.Batches = 1
		results = append(results, res)
	} else {
		results = s.dedupeBatches(ctx, window, rep)
	}

	for _, res := range results {
		rep.Dedupe.Add(res.Stats)
		for _, sk := range res.Skipped {
			if _, ok := touched[sk.EventID]; ok {
				rep.Skipped = append(rep.Skipped, sk)
			}
		}
		for _, d := range res.Decisions {
			if involves(d, touched) {
				s.apply(ctx, d, rep)
			}
		}
	}
}

// window returns the stored events of the recent window with fresh versions
// taking precedence.
func (s *Service) window(ctx context.Context, fresh []model.NormalizedEvent, rep *RunReport) []model.NormalizedEvent {
	since := s.now().Add(-s.cfg.RecentWindow)
	stored, err := s.store.Recent(ctx, since)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("recent window: %v", err))
		return fresh
	}
	byID := make(map[string]int, len(stored)+len(fresh))
	out := make([]model.NormalizedEvent, 0, len(stored)+len(fresh))
	for _, ev := range fresh {
		byID[ev.ID] = len(out)
		out = append(out, ev)
	}
	for _, ev := range stored {
		if _, ok := byID[ev.ID]; ok {
			continue
		}
		byID[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

func (s *Service) dedupeBatches(ctx context.Context, window []model.NormalizedEvent, rep *RunReport) []dedupe.Result {
	batches := s.engine.Partition(window)
	rep.Batches = len(batches)
	tasks := make([]worker.Task[[]model.NormalizedEvent, dedupe.Result], len(batches))
	for i, b := range batches {
		tasks[i] = worker.Task[[]model.NormalizedEvent, dedupe.Result]{
			ID:      rep.ID + ":dedupe:" + strconv.Itoa(i),
			Data:    b,
			Handler: s.engine.Process,
		}
	}

	out := make([]dedupe.Result, 0, len(batches))
	for _, res := range s.dedupers.SpawnBatch(ctx, tasks) {
		if res.Err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("task %s: %v", res.TaskID, res.Err))
			continue
		}
		out = append(out, res.Value)
	}
	return out
}

func (s *Service) apply(ctx context.Context, d model.MergeDecision, rep *RunReport) {
	if err := s.store.InsertDecision(ctx, d); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("decision %s: %v", d.ID, err))
		return
	}
	rep.Decisions = append(rep.Decisions, d.ID)
	if d.Status != model.StatusAutoMerge {
		rep.ManualReview++
		return
	}
	if err := s.store.MarkMerged(ctx, d.Merged, d.DuplicateIDs); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("merge %s: %v", d.ID, err))
		return
	}
	rep.AutoMerged++
}

func (s *Service) finishRun(ctx context.Context, rep *RunReport) {
	rep.FinishedAt = s.now()
	s.remember(rep)

	fields := []logger.Field{
		logger.String("run_id", rep.ID),
		logger.String("trigger", string(rep.Trigger)),
		logger.Int("fresh", rep.Fresh),
		logger.Int("unchanged", rep.Unchanged),
		logger.Int("rejected", rep.Rejected()),
		logger.Int("auto_merged", rep.AutoMerged),
		logger.Int("manual_review", rep.ManualReview),
		logger.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if rep.Failed() {
		s.logger.Warn(ctx, "ingestion run finished with errors", append(fields, logger.Int("errors", len(rep.Errors)))...)
		return
	}
	s.logger.Info(ctx, "ingestion run finished", fields...)
}

func involves(d model.MergeDecision, ids map[string]struct{}) bool {
	if _, ok := ids[d.PrimaryID]; ok {
		return true
	}
	for _, id := range d.DuplicateIDs {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}
