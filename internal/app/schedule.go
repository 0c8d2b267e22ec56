package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/pkg/logger"
	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's key/value logging to the service logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(context.Background(), msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(context.Background(), msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

// newScheduler registers the pull run on the configured schedule, evaluated
// in the default timezone.
func (s *Service) newScheduler() (*cron.Cron, error) {
	loc, err := time.LoadLocation(s.cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: default_timezone: %w", config.ErrInvalidConfig, err)
	}
	cl := cronLogger{log: s.logger.Named("cron")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, s.scheduledRun); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", config.ErrInvalidConfig, s.cfg.Schedule, err)
	}
	return c, nil
}

func (s *Service) scheduledRun() {
	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()

	_, err := s.Run(ctx, TriggerSchedule)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotStarted):
		s.logger.Debug(ctx, "scheduled run skipped", logger.Error(err))
	default:
		s.logger.Error(ctx, "scheduled run failed", logger.Error(err))
	}
}
