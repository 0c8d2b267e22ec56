package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
)

// FileAdapter reads a JSON file of listings, typically curated by hand.
type FileAdapter struct {
	cfg config.Source
	log logger.Logger
}

// NewFileAdapter creates an adapter for a file source.
func NewFileAdapter(sc config.Source, opts ...Option) *FileAdapter {
	o := buildOptions(sc.Name, opts)
	return &FileAdapter{cfg: sc, log: o.logger}
}

// Name implements Adapter.
func (a *FileAdapter) Name() string { return a.cfg.Name }

// Tag implements Adapter.
func (a *FileAdapter) Tag() model.SourceTag { return model.SourceTag(a.cfg.Tag) }

// Timezone implements Adapter.
func (a *FileAdapter) Timezone() string { return a.cfg.Timezone }

// Fetch reads the file on every call so edits are picked up by the next run.
func (a *FileAdapter) Fetch(ctx context.Context) ([]RawRecord, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(a.cfg.Path)
	if err != nil {
		metrics.RecordSourceFetch(a.cfg.Name, "error", msSince(started))
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, a.cfg.Name, err)
	}
	recs, err := extract(body, a.cfg.RecordsPath)
	if err != nil {
		metrics.RecordSourceFetch(a.cfg.Name, "error", msSince(started))
		return nil, fmt.Errorf("%s: %w", a.cfg.Name, err)
	}
	metrics.RecordSourceFetch(a.cfg.Name, "ok", msSince(started))
	a.log.Debug(ctx, "source file read", logger.Int("records", len(recs)))
	return recs, nil
}
