package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/adapters/repository"
	"github.com/okian/gather/internal/domain/model"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/smartystreets/goconvey/convey"
)

func newMockStore() (pgxmock.PgxPoolIface, *repository.PostgresStore) {
	mock, err := pgxmock.NewPool()
	convey.So(err, convey.ShouldBeNil)
	s := repository.NewPostgresStoreWithDB(context.Background(), mock,
		repository.WithClock(func() time.Time { return base }),
		repository.WithMetricsUpdateInterval(time.Hour),
	)
	return mock, s
}

func TestPostgresStoreWrites(t *testing.T) {
	convey.Convey("Given a Postgres store over a mock pool", t, func() {
		mock, s := newMockStore()
		defer mock.Close()
		defer s.Close()
		ctx := context.Background()

		jazz := storedEvent(model.SourceTicketmaster, "1", "Jazz Night", base.Add(48*time.Hour), base)

		convey.Convey("Migrate creates tables and indexes", func() {
			for _, stmt := range []string{
				"CREATE TABLE IF NOT EXISTS events",
				"CREATE INDEX IF NOT EXISTS events_cached_at_idx",
				"CREATE TABLE IF NOT EXISTS merge_decisions",
				"CREATE INDEX IF NOT EXISTS merge_decisions_created_at_idx",
			} {
				mock.ExpectExec(stmt).WillReturnResult(pgxmock.NewResult("CREATE", 0))
			}
			convey.So(s.Migrate(ctx), convey.ShouldBeNil)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("UpsertEvent writes through the version guard", func() {
			mock.ExpectExec("INSERT INTO events (.+) ON CONFLICT").
				WithArgs(jazz.ID, "ticketmaster", "1", "Jazz Night", jazz.StartUTC, jazz.Version(), pgxmock.AnyArg(), base).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			ok, err := s.UpsertEvent(ctx, jazz)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("A stale version leaves the row untouched", func() {
			mock.ExpectExec("INSERT INTO events").
				WillReturnResult(pgxmock.NewResult("INSERT", 0))
			ok, err := s.UpsertEvent(ctx, jazz)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Driver errors surface as ErrStorage", func() {
			mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("connection reset"))
			_, err := s.UpsertEvent(ctx, jazz)
			convey.So(errors.Is(err, repository.ErrStorage), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "connection reset")
		})

		convey.Convey("MarkMerged writes the primary and duplicates in one transaction", func() {
			dupID := model.EventID(model.SourceEventbrite, "9")
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO events").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			mock.ExpectExec("UPDATE events SET merged_into = \\$1 WHERE id IN \\(\\$2\\)").
				WithArgs(jazz.ID, dupID).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			mock.ExpectCommit()

			err := s.MarkMerged(ctx, jazz, []string{jazz.ID, dupID})
			convey.So(err, convey.ShouldBeNil)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("MarkMerged keeps the source version and stamps merged_at", func() {
			mergedAt := base.Add(5 * time.Hour)
			merged := jazz
			merged.MergedAt = &mergedAt
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO events (.+) merged_into = NULL, merged_at = \\$9").
				WithArgs(jazz.ID, "ticketmaster", "1", "Jazz Night", jazz.StartUTC, jazz.Version(), pgxmock.AnyArg(), base, mergedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			mock.ExpectCommit()

			convey.So(s.MarkMerged(ctx, merged, []string{jazz.ID}), convey.ShouldBeNil)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("A failed MarkMerged rolls back", func() {
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("deadlock detected"))
			mock.ExpectRollback()

			err := s.MarkMerged(ctx, jazz, []string{"eventbrite:9"})
			convey.So(errors.Is(err, repository.ErrStorage), convey.ShouldBeTrue)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("InsertDecision ignores a known id", func() {
			d := model.MergeDecision{
				ID:         "d1",
				PrimaryID:  jazz.ID,
				Status:     model.StatusAutoMerge,
				Confidence: 0.9,
				CreatedAt:  base,
			}
			mock.ExpectExec("INSERT INTO merge_decisions (.+) ON CONFLICT \\(id\\) DO NOTHING").
				WithArgs("d1", jazz.ID, "auto_merge", 0.9, pgxmock.AnyArg(), base).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
			convey.So(s.InsertDecision(ctx, d), convey.ShouldBeNil)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})
	})
}

func TestPostgresStoreReads(t *testing.T) {
	convey.Convey("Given a Postgres store over a mock pool", t, func() {
		mock, s := newMockStore()
		defer mock.Close()
		defer s.Close()
		ctx := context.Background()

		jazz := storedEvent(model.SourceTicketmaster, "1", "Jazz Night", base.Add(48*time.Hour), base)
		payload, err := json.Marshal(jazz)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Recent decodes unmerged rows in the window", func() {
			since := base.Add(-72 * time.Hour)
			mock.ExpectQuery("SELECT payload FROM events WHERE merged_into IS NULL AND cached_at >= \\$1 ORDER BY start_utc, id").
				WithArgs(since).
				WillReturnRows(mock.NewRows([]string{"payload"}).AddRow(payload))

			got, err := s.Recent(ctx, since)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(got), convey.ShouldEqual, 1)
			convey.So(got[0].ID, convey.ShouldEqual, jazz.ID)
			convey.So(got[0].StartUTC.Equal(jazz.StartUTC), convey.ShouldBeTrue)
			convey.So(mock.ExpectationsWereMet(), convey.ShouldBeNil)
		})

		convey.Convey("A corrupt payload is a storage error", func() {
			mock.ExpectQuery("SELECT payload FROM events").
				WithArgs(base).
				WillReturnRows(mock.NewRows([]string{"payload"}).AddRow([]byte(`{"start_utc":42`)))
			_, err := s.Recent(ctx, base)
			convey.So(errors.Is(err, repository.ErrStorage), convey.ShouldBeTrue)
		})

		convey.Convey("Decisions are limited and newest first", func() {
			d, _ := json.Marshal(model.MergeDecision{ID: "d2", PrimaryID: jazz.ID, Status: model.StatusManualReview})
			mock.ExpectQuery("SELECT payload FROM merge_decisions ORDER BY created_at DESC, id DESC LIMIT 2").
				WillReturnRows(mock.NewRows([]string{"payload"}).AddRow(d))

			got, err := s.Decisions(ctx, 2)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(got), convey.ShouldEqual, 1)
			convey.So(got[0].Status, convey.ShouldEqual, model.StatusManualReview)

			_, err = s.Decisions(ctx, -1)
			convey.So(errors.Is(err, repository.ErrInvalidLimit), convey.ShouldBeTrue)
		})

		convey.Convey("Count reads the row count", func() {
			mock.ExpectQuery("SELECT count\\(\\*\\) FROM events").
				WillReturnRows(mock.NewRows([]string{"count"}).AddRow(3))
			n, err := s.Count(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 3)
		})
	})
}
