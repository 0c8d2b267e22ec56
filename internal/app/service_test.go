package service_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	service "github.com/okian/gather/internal/app"
	"github.com/okian/gather/internal/adapters/repository"
	"github.com/okian/gather/internal/adapters/source"
	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/internal/domain/normalize"
	logging "github.com/okian/gather/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.Init()
	os.Exit(m.Run())
}

var now = time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)

const (
	tmJazz = `{"id":"tm-1","name":"Jazz Night","url":"https://tickets.example.com/tm-1",
		"dates":{"start":{"dateTime":"2024-02-02T00:00:00Z"},"timezone":"America/Toronto"},
		"classifications":[{"primary":true,"segment":{"name":"Music"}}],
		"priceRanges":[{"min":20,"max":45,"currency":"CAD"}],
		"_embedded":{"venues":[{"name":"The Rex","city":{"name":"Toronto"}}]}}`
	ebJazz = `{"id":"eb-1","name":{"text":"Jazz Night"},"description":{"text":"Live quartet every Thursday"},
		"url":"https://tickets.example.com/eb-1",
		"start":{"timezone":"America/Toronto","local":"2024-02-01T19:00:00","utc":"2024-02-02T00:00:00Z"},
		"category":{"name":"Music"},
		"venue":{"name":"The Rex","address":{"city":"Toronto"}}}`
	ebBroken  = `{"id":"bad-1","name":{"text":""},"start":{"utc":"2024-02-02T00:00:00Z"}}`
	manualJaz = `{"id":"m-1","title":"Jazz Night","venue":"The Rex","city":"Toronto","category":"music",
		"start_utc":"2024-02-02T00:00:00Z","url":"https://tickets.example.com/m-1"}`
)

// fakeAdapter serves canned records, or fails, and counts calls.
type fakeAdapter struct {
	name  string
	tag   model.SourceTag
	recs  []string
	err   error
	calls atomic.Int32
	gate  chan struct{}
	enter chan struct{}
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) Tag() model.SourceTag { return f.tag }
func (f *fakeAdapter) Timezone() string     { return "America/Toronto" }

func (f *fakeAdapter) Fetch(ctx context.Context) ([]source.RawRecord, error) {
	f.calls.Add(1)
	if f.enter != nil {
		select {
		case f.enter <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]source.RawRecord, len(f.recs))
	for i, r := range f.recs {
		out[i] = source.RawRecord(r)
	}
	return out, nil
}

func testConfig() config.Config {
	cfg := config.New()
	cfg.Schedule = ""
	cfg.DefaultTimezone = "America/Toronto"
	cfg.Spawner.MaxWorkers = 2
	cfg.Spawner.Timeout = time.Second
	cfg.Spawner.RetryAttempts = 1
	cfg.Spawner.RetryDelay = time.Millisecond
	return *cfg
}

func startService(cfg config.Config, adapters ...source.Adapter) (*service.Service, *repository.InMemoryStore) {
	store := repository.NewInMemoryStore(context.Background(), repository.WithMetricsUpdateInterval(time.Hour))
	svc, err := service.New(cfg,
		service.WithAdapters(adapters...),
		service.WithStore(store),
		service.WithClock(func() time.Time { return now }),
	)
	convey.So(err, convey.ShouldBeNil)
	convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
	return svc, store
}

func stop(svc *service.Service, store *repository.InMemoryStore) {
	_ = svc.Stop(context.Background())
	_ = store.Close()
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(3 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunDeduplicatesAcrossSources(t *testing.T) {
	convey.Convey("Given the same listing on two sources", t, func() {
		tm := &fakeAdapter{name: "tm", tag: model.SourceTicketmaster, recs: []string{tmJazz}}
		eb := &fakeAdapter{name: "eb", tag: model.SourceEventbrite, recs: []string{ebJazz, ebBroken}}
		svc, store := startService(testConfig(), tm, eb)
		defer stop(svc, store)
		ctx := context.Background()

		rep, err := svc.Run(ctx, service.TriggerManual)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("The run reports every source", func() {
			convey.So(rep.Trigger, convey.ShouldEqual, service.TriggerManual)
			convey.So(len(rep.Sources), convey.ShouldEqual, 2)
			convey.So(rep.Sources[0].Source, convey.ShouldEqual, "tm")
			convey.So(rep.Sources[0].Normalized, convey.ShouldEqual, 1)
			convey.So(rep.Sources[0].Attempts, convey.ShouldEqual, 1)
			convey.So(rep.Sources[1].Records, convey.ShouldEqual, 2)
			convey.So(rep.Sources[1].Normalized, convey.ShouldEqual, 1)
			convey.So(rep.Fresh, convey.ShouldEqual, 2)
			convey.So(rep.Failed(), convey.ShouldBeFalse)
		})

		convey.Convey("Rejected records are attributable", func() {
			convey.So(rep.Rejected(), convey.ShouldEqual, 1)
			rej := rep.Sources[1].Rejected[0]
			convey.So(rej.Index, convey.ShouldEqual, 1)
			convey.So(rej.RecordID, convey.ShouldEqual, "bad-1")
			convey.So(rej.Reason, convey.ShouldEqual, "invalid_payload")
		})

		convey.Convey("One auto-merge decision is applied to the store", func() {
			convey.So(rep.AutoMerged, convey.ShouldEqual, 1)
			convey.So(len(rep.Decisions), convey.ShouldEqual, 1)

			decisions, err := svc.Decisions(ctx, 10)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(decisions), convey.ShouldEqual, 1)
			convey.So(decisions[0].Status, convey.ShouldEqual, model.StatusAutoMerge)
			convey.So(decisions[0].PrimaryID, convey.ShouldEqual, "ticketmaster:tm-1")

			dup, ok := store.Event("eventbrite:eb-1")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(dup.MergedInto, convey.ShouldEqual, "ticketmaster:tm-1")
			primary, _ := store.Event("ticketmaster:tm-1")
			convey.So(primary.Description, convey.ShouldEqual, "Live quartet every Thursday")
		})

		convey.Convey("An unchanged re-fetch skips the engine", func() {
			again, err := svc.Run(ctx, service.TriggerManual)
			convey.So(err, convey.ShouldBeNil)
			convey.So(again.Fresh, convey.ShouldEqual, 0)
			convey.So(again.Unchanged, convey.ShouldEqual, 2)
			convey.So(again.Decisions, convey.ShouldBeEmpty)

			decisions, _ := svc.Decisions(ctx, 10)
			convey.So(len(decisions), convey.ShouldEqual, 1)
		})

		convey.Convey("A pushed duplicate is matched against the recent window", func() {
			pushed, err := svc.IngestPayloads(ctx, model.SourceManual, "", []source.RawRecord{source.RawRecord(manualJaz)})
			convey.So(err, convey.ShouldBeNil)
			convey.So(pushed.Trigger, convey.ShouldEqual, service.TriggerPush)
			convey.So(pushed.Fresh, convey.ShouldEqual, 1)
			convey.So(len(pushed.Decisions), convey.ShouldEqual, 1)

			decisions, _ := svc.Decisions(ctx, 1)
			d := decisions[0]
			ids := append([]string{d.PrimaryID}, d.DuplicateIDs...)
			convey.So(ids, convey.ShouldContain, "manual:m-1")
			convey.So(ids, convey.ShouldContain, "ticketmaster:tm-1")
			convey.So(ids, convey.ShouldNotContain, "eventbrite:eb-1")
		})

		convey.Convey("Stats reflect the run", func() {
			st, err := svc.Stats(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.Started, convey.ShouldBeTrue)
			convey.So(st.Sources, convey.ShouldResemble, []string{"tm", "eb"})
			convey.So(st.StoredEvents, convey.ShouldEqual, 2)
			convey.So(st.LedgerSize, convey.ShouldEqual, 2)
			convey.So(st.LastRun, convey.ShouldNotBeNil)
			convey.So(st.LastRun.ID, convey.ShouldEqual, rep.ID)
			convey.So(st.Fetchers.MaxWorkers, convey.ShouldEqual, 2)
		})
	})
}

func TestRunFailures(t *testing.T) {
	convey.Convey("Given a source that keeps failing", t, func() {
		broken := &fakeAdapter{name: "yelp", tag: model.SourceYelp, err: errors.New("upstream 503")}
		tm := &fakeAdapter{name: "tm", tag: model.SourceTicketmaster, recs: []string{tmJazz}}
		svc, store := startService(testConfig(), broken, tm)
		defer stop(svc, store)

		rep, err := svc.Run(context.Background(), service.TriggerManual)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Its fetch is retried and reported without blocking the others", func() {
			convey.So(broken.calls.Load(), convey.ShouldEqual, 2)
			convey.So(rep.Sources[0].Attempts, convey.ShouldEqual, 2)
			convey.So(rep.Sources[0].Error, convey.ShouldContainSubstring, "upstream 503")
			convey.So(rep.Sources[1].Normalized, convey.ShouldEqual, 1)
			convey.So(rep.Fresh, convey.ShouldEqual, 1)
			convey.So(rep.Failed(), convey.ShouldBeTrue)
		})
	})
}

func TestRunGuards(t *testing.T) {
	convey.Convey("Given a service", t, func() {
		ctx := context.Background()

		convey.Convey("Runs need a started service", func() {
			svc, err := service.New(testConfig(), service.WithAdapters())
			convey.So(err, convey.ShouldBeNil)
			_, err = svc.Run(ctx, service.TriggerManual)
			convey.So(errors.Is(err, service.ErrNotStarted), convey.ShouldBeTrue)
			_, err = svc.Decisions(ctx, 10)
			convey.So(errors.Is(err, service.ErrNotStarted), convey.ShouldBeTrue)
		})

		convey.Convey("An invalid dedupe config is refused", func() {
			cfg := testConfig()
			cfg.Dedupe.Thresholds.Overall = 0
			_, err := service.New(cfg, service.WithAdapters())
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("Only one run holds the pipeline", func() {
			slow := &fakeAdapter{
				name:  "tm",
				tag:   model.SourceTicketmaster,
				recs:  []string{tmJazz},
				gate:  make(chan struct{}),
				enter: make(chan struct{}, 1),
			}
			svc, store := startService(testConfig(), slow)
			defer stop(svc, store)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = svc.Run(ctx, service.TriggerManual)
			}()
			<-slow.enter

			_, err := svc.Run(ctx, service.TriggerManual)
			convey.So(errors.Is(err, service.ErrRunInProgress), convey.ShouldBeTrue)

			close(slow.gate)
			wg.Wait()
			last, ok := svc.LastRun()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(last.Fresh, convey.ShouldEqual, 1)
		})

		convey.Convey("Push ingestion validates its input", func() {
			svc, store := startService(testConfig())
			defer stop(svc, store)

			_, err := svc.IngestPayloads(ctx, "meetup", "", []source.RawRecord{source.RawRecord(manualJaz)})
			convey.So(errors.Is(err, normalize.ErrUnknownSource), convey.ShouldBeTrue)

			_, err = svc.IngestPayloads(ctx, model.SourceManual, "", nil)
			convey.So(errors.Is(err, service.ErrNoPayloads), convey.ShouldBeTrue)
		})
	})
}

func TestScheduledRuns(t *testing.T) {
	convey.Convey("Given a schedule", t, func() {
		cfg := testConfig()
		cfg.Schedule = "@every 1s"
		tm := &fakeAdapter{name: "tm", tag: model.SourceTicketmaster, recs: []string{tmJazz}}
		svc, store := startService(cfg, tm)
		defer stop(svc, store)

		convey.Convey("Runs fire on their own", func() {
			waitFor(func() bool {
				last, ok := svc.LastRun()
				return ok && last.Trigger == service.TriggerSchedule
			})
			last, ok := svc.LastRun()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(last.Trigger, convey.ShouldEqual, service.TriggerSchedule)
			convey.So(tm.calls.Load(), convey.ShouldBeGreaterThanOrEqualTo, 1)
		})
	})
}
