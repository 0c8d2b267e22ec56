package loadgen_test

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/gather/internal/domain/normalize"
	"github.com/okian/gather/internal/loadgen"
	"github.com/okian/gather/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var anchor = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func baseConfig() loadgen.Config {
	return loadgen.Config{
		BaseURL:        "http://localhost:9080",
		Events:         40,
		DuplicateRatio: 0.5,
		BatchSize:      10,
		Workers:        2,
		Timeout:        time.Second,
		Timezone:       "America/Toronto",
		Seed:           7,
	}
}

func TestGenerate(t *testing.T) {
	Convey("Given a generator config", t, func() {
		cfg := baseConfig()

		Convey("Every record normalizes to its planned id", func() {
			plan, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)
			So(len(plan.Records), ShouldEqual, cfg.Events+len(plan.Duplicates))
			So(len(plan.Duplicates), ShouldBeGreaterThan, 0)

			for _, rec := range plan.Records {
				ev, err := normalize.NormalizeRaw(rec.Raw, rec.Tag, cfg.Timezone)
				So(err, ShouldBeNil)
				So(ev.ID, ShouldEqual, rec.EventID)
				So(ev.Title, ShouldNotBeEmpty)
				So(ev.VenueName, ShouldNotBeEmpty)
				So(ev.Coordinates, ShouldNotBeNil)
				So(ev.StartUTC.After(anchor), ShouldBeTrue)
			}
		})

		Convey("Planted duplicates cross sources and describe the same event", func() {
			plan, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)

			byID := make(map[string]int, len(plan.Records))
			for i, rec := range plan.Records {
				byID[rec.EventID] = i
			}
			for _, pair := range plan.Duplicates {
				a, b := plan.Records[byID[pair[0]]], plan.Records[byID[pair[1]]]
				So(a.Tag, ShouldNotEqual, b.Tag)

				evA, err := normalize.NormalizeRaw(a.Raw, a.Tag, cfg.Timezone)
				So(err, ShouldBeNil)
				evB, err := normalize.NormalizeRaw(b.Raw, b.Tag, cfg.Timezone)
				So(err, ShouldBeNil)
				So(evA.VenueName, ShouldEqual, evB.VenueName)
				shift := evB.StartUTC.Sub(evA.StartUTC)
				So(shift >= 0 && shift <= 10*time.Minute, ShouldBeTrue)
				So(strings.ToLower(evB.Title), ShouldContainSubstring, strings.ToLower(evA.Title))
			}
		})

		Convey("Equal seeds give equal plans", func() {
			a, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)
			b, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)
			So(b, ShouldResemble, a)

			cfg.Seed = 8
			c, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)
			So(c, ShouldNotResemble, a)
		})

		Convey("A zero duplicate ratio plants nothing", func() {
			cfg.DuplicateRatio = 0
			plan, err := loadgen.Generate(cfg, anchor)
			So(err, ShouldBeNil)
			So(plan.Duplicates, ShouldBeEmpty)
			So(len(plan.Records), ShouldEqual, cfg.Events)
		})

		Convey("Invalid configs are rejected", func() {
			for _, mutate := range []func(*loadgen.Config){
				func(c *loadgen.Config) { c.BaseURL = "" },
				func(c *loadgen.Config) { c.Events = 0 },
				func(c *loadgen.Config) { c.DuplicateRatio = 1.5 },
				func(c *loadgen.Config) { c.BatchSize = 0 },
				func(c *loadgen.Config) { c.Workers = 0 },
				func(c *loadgen.Config) { c.MinRecall = -1 },
			} {
				bad := baseConfig()
				mutate(&bad)
				_, err := loadgen.Generate(bad, anchor)
				So(errors.Is(err, loadgen.ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}
