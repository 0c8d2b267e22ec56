package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/gather/internal/adapters/repository"
	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/dedupe"
	"github.com/okian/gather/internal/domain/model"
	logging "github.com/okian/gather/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.Init()
	os.Exit(m.Run())
}

var base = time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)

func storedEvent(source model.SourceTag, ext, title string, start, updated time.Time) model.NormalizedEvent {
	return model.NormalizedEvent{
		ID:         model.EventID(source, ext),
		Title:      title,
		StartUTC:   start,
		Timezone:   "America/Toronto",
		Source:     source,
		ExternalID: ext,
		IngestedAt: base,
		UpdatedAt:  updated,
	}
}

// listing is a complete record of the same show as listed by source.
func listing(source model.SourceTag, ext string, updated time.Time) model.NormalizedEvent {
	ev := storedEvent(source, ext, "Jazz Night", time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), updated)
	ev.VenueName = "The Rex"
	ev.City = "Toronto"
	ev.Category = model.CategoryMusic
	ev.TicketURL = "https://tickets.example.com/" + ext
	return ev
}

// clock returns a settable clock.
func clock(t time.Time) (func() time.Time, func(time.Time)) {
	var mu sync.Mutex
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return t
		}, func(n time.Time) {
			mu.Lock()
			t = n
			mu.Unlock()
		}
}

func TestInMemoryStore(t *testing.T) {
	convey.Convey("Given an in-memory store", t, func() {
		now, setNow := clock(base)
		ctx := context.Background()
		s := repository.NewInMemoryStore(ctx, repository.WithClock(now), repository.WithMetricsUpdateInterval(time.Hour))
		defer s.Close()

		jazz := storedEvent(model.SourceTicketmaster, "1", "Jazz Night", base.Add(48*time.Hour), base)

		convey.Convey("UpsertEvent writes new rows and refuses stale versions", func() {
			ok, err := s.UpsertEvent(ctx, jazz)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeTrue)

			older := jazz
			older.Title = "Jazz Nite"
			older.UpdatedAt = base.Add(-time.Hour)
			ok, err = s.UpsertEvent(ctx, older)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeFalse)

			newer := jazz
			newer.Title = "Jazz Night Live"
			newer.UpdatedAt = base.Add(time.Hour)
			ok, err = s.UpsertEvent(ctx, newer)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeTrue)

			row, found := s.Event(jazz.ID)
			convey.So(found, convey.ShouldBeTrue)
			convey.So(row.Title, convey.ShouldEqual, "Jazz Night Live")

			n, err := s.Count(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 1)
		})

		convey.Convey("MarkMerged folds duplicates into the primary", func() {
			dup := storedEvent(model.SourceEventbrite, "9", "Jazz Night", jazz.StartUTC, base)
			_, _ = s.UpsertEvent(ctx, jazz)
			_, _ = s.UpsertEvent(ctx, dup)

			merged := jazz
			merged.Description = "An evening of jazz"
			err := s.MarkMerged(ctx, merged, []string{jazz.ID, dup.ID})
			convey.So(err, convey.ShouldBeNil)

			row, _ := s.Event(dup.ID)
			convey.So(row.MergedInto, convey.ShouldEqual, jazz.ID)
			primary, _ := s.Event(jazz.ID)
			convey.So(primary.MergedInto, convey.ShouldBeEmpty)
			convey.So(primary.Description, convey.ShouldEqual, "An evening of jazz")

			recent, err := s.Recent(ctx, base)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(recent), convey.ShouldEqual, 1)
			convey.So(recent[0].ID, convey.ShouldEqual, jazz.ID)
		})

		convey.Convey("A primary updated by its own source after a merge is written", func() {
			primary := listing(model.SourceTicketmaster, "tm-1", base)
			primary.IsOfficial = true
			dup := listing(model.SourceEventbrite, "eb-1", base.Add(3*time.Hour))
			_, _ = s.UpsertEvent(ctx, primary)
			_, _ = s.UpsertEvent(ctx, dup)

			engine, err := dedupe.NewEngine(dedupe.DefaultConfig())
			convey.So(err, convey.ShouldBeNil)
			res, err := engine.Process(ctx, []model.NormalizedEvent{primary, dup})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Decisions, convey.ShouldHaveLength, 1)
			d := res.Decisions[0]
			convey.So(d.PrimaryID, convey.ShouldEqual, primary.ID)
			convey.So(s.MarkMerged(ctx, d.Merged, d.DuplicateIDs), convey.ShouldBeNil)

			stored, _ := s.Event(primary.ID)
			convey.So(stored.Version(), convey.ShouldEqual, primary.Version())
			convey.So(stored.MergedAt, convey.ShouldNotBeNil)

			update := primary
			update.Title = "Jazz Night (Late Set)"
			update.UpdatedAt = base.Add(time.Hour)
			ok, err := s.UpsertEvent(ctx, update)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ok, convey.ShouldBeTrue)
			stored, _ = s.Event(primary.ID)
			convey.So(stored.Title, convey.ShouldEqual, "Jazz Night (Late Set)")
		})

		convey.Convey("Recent honours the window and orders by start", func() {
			late := storedEvent(model.SourceYelp, "late", "Late Show", base.Add(72*time.Hour), base)
			early := storedEvent(model.SourceYelp, "early", "Early Show", base.Add(24*time.Hour), base)
			_, _ = s.UpsertEvent(ctx, late)
			setNow(base.Add(2 * time.Hour))
			_, _ = s.UpsertEvent(ctx, early)
			_, _ = s.UpsertEvent(ctx, jazz)

			all, _ := s.Recent(ctx, base)
			convey.So(len(all), convey.ShouldEqual, 3)
			convey.So(all[0].ID, convey.ShouldEqual, early.ID)
			convey.So(all[2].ID, convey.ShouldEqual, late.ID)

			window, _ := s.Recent(ctx, base.Add(time.Hour))
			convey.So(len(window), convey.ShouldEqual, 2)
		})

		convey.Convey("Decisions come back newest first and ids are unique", func() {
			for _, id := range []string{"d1", "d2", "d3", "d2"} {
				convey.So(s.InsertDecision(ctx, model.MergeDecision{ID: id, PrimaryID: jazz.ID}), convey.ShouldBeNil)
			}
			got, err := s.Decisions(ctx, 2)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(got), convey.ShouldEqual, 2)
			convey.So(got[0].ID, convey.ShouldEqual, "d3")
			convey.So(got[1].ID, convey.ShouldEqual, "d2")

			all, _ := s.Decisions(ctx, 10)
			convey.So(len(all), convey.ShouldEqual, 3)

			_, err = s.Decisions(ctx, 0)
			convey.So(errors.Is(err, repository.ErrInvalidLimit), convey.ShouldBeTrue)
		})

		convey.Convey("A cancelled context is refused", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.UpsertEvent(cctx, jazz)
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

func TestOpen(t *testing.T) {
	convey.Convey("Open selects the driver", t, func() {
		ctx := context.Background()

		s, err := repository.Open(ctx, config.Storage{Driver: config.DriverMemory})
		convey.So(err, convey.ShouldBeNil)
		_, isMemory := s.(*repository.InMemoryStore)
		convey.So(isMemory, convey.ShouldBeTrue)
		convey.So(s.Close(), convey.ShouldBeNil)

		_, err = repository.Open(ctx, config.Storage{Driver: "sqlite"})
		convey.So(errors.Is(err, repository.ErrUnknownDriver), convey.ShouldBeTrue)

		_, err = repository.Open(ctx, config.Storage{Driver: config.DriverPostgres, DSN: "postgres://%zz"})
		convey.So(errors.Is(err, repository.ErrStorage), convey.ShouldBeTrue)
	})
}
