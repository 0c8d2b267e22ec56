package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
)

// DB is the subset of a pgx pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		external_id TEXT NOT NULL,
		title       TEXT NOT NULL,
		start_utc   TIMESTAMPTZ NOT NULL,
		version     BIGINT NOT NULL,
		payload     JSONB NOT NULL,
		merged_into TEXT,
		merged_at   TIMESTAMPTZ,
		cached_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (source, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS events_cached_at_idx ON events (cached_at) WHERE merged_into IS NULL`,
	`CREATE TABLE IF NOT EXISTS merge_decisions (
		id         TEXT PRIMARY KEY,
		primary_id TEXT NOT NULL,
		status     TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS merge_decisions_created_at_idx ON merge_decisions (created_at DESC)`,
}

const upsertEventSuffix = `ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	start_utc = EXCLUDED.start_utc,
	version = EXCLUDED.version,
	payload = EXCLUDED.payload,
	cached_at = EXCLUDED.cached_at`

type payloadRow struct {
	Payload []byte `db:"payload"`
}

// PostgresStore persists events and decisions in PostgreSQL. Event and
// decision bodies are stored as JSONB next to the indexed columns.
type PostgresStore struct {
	db    DB
	opts  options
	log   logger.Logger
	close func()
	bg    background
}

// NewPostgresStore connects a pool to dsn.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32, opts ...Option) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %w", ErrStorage, err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStorage, err)
	}
	s := NewPostgresStoreWithDB(ctx, pool, opts...)
	s.close = pool.Close
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection.
func NewPostgresStoreWithDB(ctx context.Context, db DB, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	s := &PostgresStore{db: db, opts: o, log: o.logger}
	s.bg.start(ctx, o.metricsUpdateInterval, s.updateMetrics)
	return s
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrStorage, err)
		}
	}
	s.log.Info(ctx, "schema migrated", logger.Int("statements", len(schema)))
	return nil
}

// UpsertEvent implements Store.
func (s *PostgresStore) UpsertEvent(ctx context.Context, ev model.NormalizedEvent) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	query, args, err := s.upsertEvent(ev, "WHERE events.version <= EXCLUDED.version")
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "upsert_event")
		return false, fmt.Errorf("%w: upsert event %s: %w", ErrStorage, ev.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) upsertEvent(ev model.NormalizedEvent, guard string, guardArgs ...any) (string, []any, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}
	query, args, err := squirrel.Insert("events").
		Columns("id", "source", "external_id", "title", "start_utc", "version", "payload", "cached_at").
		Values(ev.ID, string(ev.Source), ev.ExternalID, ev.Title, ev.StartUTC, ev.Version(), payload, s.opts.now()).
		Suffix(upsertEventSuffix+" "+guard, guardArgs...).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building upsert query: %w", err)
	}
	return query, args, nil
}

// MarkMerged implements Store. Both writes share one transaction. The primary
// keeps its source version; the merge time goes to merged_at.
func (s *PostgresStore) MarkMerged(ctx context.Context, merged model.NormalizedEvent, duplicateIDs []string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	mergedAt := s.opts.now()
	if merged.MergedAt != nil {
		mergedAt = *merged.MergedAt
	}
	primary, primaryArgs, err := s.upsertEvent(merged, ", merged_into = NULL, merged_at = ?", mergedAt)
	if err != nil {
		return err
	}
	dups := make([]string, 0, len(duplicateIDs))
	for _, id := range duplicateIDs {
		if id != merged.ID {
			dups = append(dups, id)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, primary, primaryArgs...); err != nil {
		return fmt.Errorf("%w: write primary %s: %w", ErrStorage, merged.ID, err)
	}
	if len(dups) > 0 {
		query, args, buildErr := squirrel.Update("events").
			Set("merged_into", merged.ID).
			Where(squirrel.Eq{"id": dups}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if buildErr != nil {
			err = fmt.Errorf("building update query: %w", buildErr)
			return err
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: mark duplicates of %s: %w", ErrStorage, merged.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	return nil
}

// InsertDecision implements Store.
func (s *PostgresStore) InsertDecision(ctx context.Context, d model.MergeDecision) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding decision %s: %w", d.ID, err)
	}
	query, args, err := squirrel.Insert("merge_decisions").
		Columns("id", "primary_id", "status", "confidence", "payload", "created_at").
		Values(d.ID, d.PrimaryID, string(d.Status), d.Confidence, payload, d.CreatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		metrics.RecordErrorByComponent("repository", "insert_decision")
		return fmt.Errorf("%w: insert decision %s: %w", ErrStorage, d.ID, err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, since time.Time) ([]model.NormalizedEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	query, args, err := squirrel.Select("payload").
		From("events").
		Where(squirrel.Eq{"merged_into": nil}).
		Where(squirrel.GtOrEq{"cached_at": since}).
		OrderBy("start_utc", "id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var rows []payloadRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: scanning recent events: %w", ErrStorage, err)
	}
	out := make([]model.NormalizedEvent, 0, len(rows))
	for _, r := range rows {
		var ev model.NormalizedEvent
		if err := json.Unmarshal(r.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: decoding event: %w", ErrStorage, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Decisions implements Store.
func (s *PostgresStore) Decisions(ctx context.Context, limit int) ([]model.MergeDecision, error) {
	if limit <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	query, args, err := squirrel.Select("payload").
		From("merge_decisions").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var rows []payloadRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: scanning decisions: %w", ErrStorage, err)
	}
	out := make([]model.MergeDecision, 0, len(rows))
	for _, r := range rows {
		var d model.MergeDecision
		if err := json.Unmarshal(r.Payload, &d); err != nil {
			return nil, fmt.Errorf("%w: decoding decision: %w", ErrStorage, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	query, args, err := squirrel.Select("count(*)").
		From("events").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count events: %w", ErrStorage, err)
	}
	return n, nil
}

// Close stops the metrics updater and releases an owned pool.
func (s *PostgresStore) Close() error {
	s.bg.stop()
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *PostgresStore) updateMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.metricsUpdateInterval)
	defer cancel()
	n, err := s.Count(ctx)
	if err != nil {
		s.log.Warn(ctx, "store metrics refresh failed", logger.Error(err))
		return
	}
	metrics.UpdateStoreRecordsTotal(n)
}
