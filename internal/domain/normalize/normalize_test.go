package normalize_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/internal/domain/normalize"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newNormalizer() *normalize.Normalizer {
	return normalize.New(normalize.WithClock(func() time.Time { return fixedNow }))
}

func TestTicketmaster(t *testing.T) {
	Convey("Given a Ticketmaster payload", t, func() {
		n := newNormalizer()

		Convey("When it carries an explicit UTC instant", func() {
			raw := []byte(`{
				"id": "tm-1",
				"name": "Jazz Night",
				"info": "<b>Live</b> quartet",
				"url": "https://www.ticketmaster.ca/event/tm-1",
				"images": [{"url": "https://img/small.jpg", "width": 100}, {"url": "https://img/large.jpg", "width": 1024}],
				"dates": {"start": {"localDate": "2024-02-01", "localTime": "19:00:00", "dateTime": "2024-02-02T00:00:00Z"}, "timezone": "America/Toronto"},
				"classifications": [{"primary": true, "segment": {"name": "Music"}, "genre": {"name": "Jazz"}}],
				"priceRanges": [{"min": 45, "max": 20.5, "currency": "cad"}],
				"_embedded": {"venues": [{"name": "The Rex", "address": {"line1": "194 Queen St W"}, "city": {"name": "Toronto"},
					"location": {"latitude": "43.6505", "longitude": "-79.3883"}}]}
			}`)
			ev, err := n.NormalizeRaw(raw, model.SourceTicketmaster, "")

			Convey("Then the canonical fields should be populated", func() {
				So(err, ShouldBeNil)
				So(ev.ID, ShouldEqual, "ticketmaster:tm-1")
				So(ev.StartUTC, ShouldEqual, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
				So(ev.Timezone, ShouldEqual, "America/Toronto")
				So(ev.Description, ShouldEqual, "Live quartet")
				So(ev.VenueName, ShouldEqual, "The Rex")
				So(ev.City, ShouldEqual, "Toronto")
				So(ev.Coordinates, ShouldNotBeNil)
				So(ev.Coordinates.Lat, ShouldAlmostEqual, 43.6505)
				So(ev.Category, ShouldEqual, model.CategoryMusic)
				So(ev.PriceMin.Decimal.String(), ShouldEqual, "20.5")
				So(ev.PriceMax.Decimal.String(), ShouldEqual, "45")
				So(ev.Currency, ShouldEqual, "CAD")
				So(ev.ImageURL, ShouldEqual, "https://img/large.jpg")
				So(ev.IsOfficial, ShouldBeTrue)
				So(ev.IngestedAt, ShouldEqual, fixedNow)
				So(ev.UpdatedAt, ShouldEqual, fixedNow)
			})
		})

		Convey("When only a local time and venue timezone are given", func() {
			raw := []byte(`{"id":"tm-2","name":"Show","dates":{"start":{"localDate":"2024-07-01","localTime":"20:30:00"}},
				"_embedded":{"venues":[{"name":"Hall","timezone":"Europe/Berlin"}]}}`)
			ev, err := n.NormalizeRaw(raw, model.SourceTicketmaster, "America/New_York")

			Convey("Then the venue zone should win over the fallback", func() {
				So(err, ShouldBeNil)
				So(ev.StartUTC, ShouldEqual, time.Date(2024, 7, 1, 18, 30, 0, 0, time.UTC))
				So(ev.Timezone, ShouldEqual, "Europe/Berlin")
			})
		})
	})
}

func TestEventbrite(t *testing.T) {
	Convey("Given an Eventbrite payload with only local time", t, func() {
		raw := []byte(`{
			"id": "eb-1",
			"name": {"text": "  Jazz   Night "},
			"description": {"html": "<p>Great &amp; loud</p>"},
			"url": "not a url",
			"start": {"timezone": "America/Toronto", "local": "2024-02-01T19:00:00"},
			"end": {"timezone": "America/Toronto", "local": "2024-02-01T17:00:00"},
			"is_free": true,
			"category": {"name": "Performing & Visual Arts"},
			"changed": "2024-01-10T08:00:00Z"
		}`)
		ev, err := newNormalizer().NormalizeRaw(raw, model.SourceEventbrite, "")

		Convey("Then local time should resolve through the source zone", func() {
			So(err, ShouldBeNil)
			So(ev.Title, ShouldEqual, "Jazz Night")
			So(ev.StartUTC, ShouldEqual, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
			So(ev.Description, ShouldEqual, "Great & loud")
		})

		Convey("And invalid or inconsistent optional data should be dropped", func() {
			So(ev.TicketURL, ShouldEqual, "")
			So(ev.EndUTC, ShouldBeNil)
			So(ev.VenueName, ShouldEqual, "")
			So(ev.Coordinates, ShouldBeNil)
		})

		Convey("And free events should carry a zero price", func() {
			So(ev.IsFree, ShouldBeTrue)
			So(ev.PriceMin.Valid, ShouldBeTrue)
			So(ev.PriceMin.Decimal.IsZero(), ShouldBeTrue)
			So(ev.Category, ShouldEqual, model.CategoryArts)
			So(ev.UpdatedAt, ShouldEqual, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC))
		})
	})
}

func TestYelp(t *testing.T) {
	Convey("Given Yelp payloads", t, func() {
		n := newNormalizer()

		Convey("When time_start carries an offset", func() {
			raw := []byte(`{"id":"y-1","name":"Jazz Night","time_start":"2024-02-01T19:00:00-05:00","cost":15,"category":"music",
				"latitude":43.65,"longitude":-79.39,"location":{"address1":"194 Queen St W","city":"Toronto"}}`)
			ev, err := n.NormalizeRaw(raw, model.SourceYelp, "")

			Convey("Then the offset should be honoured", func() {
				So(err, ShouldBeNil)
				So(ev.StartUTC, ShouldEqual, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
				So(ev.Timezone, ShouldEqual, "UTC")
				So(ev.PriceMin.Decimal.String(), ShouldEqual, "15")
				So(ev.PriceMax.Decimal.String(), ShouldEqual, "15")
			})
		})

		Convey("When the coordinates are unparseable", func() {
			raw := []byte(`{"id":"y-3","name":"Jazz Night","time_start":"2024-02-01T19:00:00-05:00",
				"latitude":"N/A","longitude":"","location":{"city":"Toronto"}}`)
			ev, err := n.NormalizeRaw(raw, model.SourceYelp, "")

			Convey("Then the record is kept without coordinates", func() {
				So(err, ShouldBeNil)
				So(ev.Coordinates, ShouldBeNil)
				So(ev.City, ShouldEqual, "Toronto")
			})
		})

		Convey("When time_start is zone-less", func() {
			raw := []byte(`{"id":"y-2","name":"Brunch","time_start":"2024-02-01 11:00"}`)

			Convey("Then the fallback zone should resolve it", func() {
				ev, err := n.NormalizeRaw(raw, model.SourceYelp, "America/Los_Angeles")
				So(err, ShouldBeNil)
				So(ev.StartUTC, ShouldEqual, time.Date(2024, 2, 1, 19, 0, 0, 0, time.UTC))
				So(ev.Timezone, ShouldEqual, "America/Los_Angeles")
			})

			Convey("And without any zone the record should be rejected", func() {
				_, err := n.NormalizeRaw(raw, model.SourceYelp, "")
				So(errors.Is(err, normalize.ErrUnresolvableTime), ShouldBeTrue)
				So(normalize.Reason(err), ShouldEqual, "unresolvable_time")
			})
		})
	})
}

func TestManual(t *testing.T) {
	Convey("Given manual payloads", t, func() {
		n := newNormalizer()

		Convey("When the date and time are split", func() {
			raw := []byte(`{"id":"m-1","title":"Startup Networking Mixer","start_date":"2024-02-01","start_time":"7:00pm",
				"timezone":"America/Toronto","venue":"The Rex","category":"Networking","is_verified":true,
				"price_min":"10.00","currency":"cad"}`)
			ev, err := n.NormalizeRaw(raw, model.SourceManual, "")

			Convey("Then it should normalize", func() {
				So(err, ShouldBeNil)
				So(ev.StartUTC, ShouldEqual, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
				So(ev.Category, ShouldEqual, model.CategoryBusiness)
				So(ev.IsVerified, ShouldBeTrue)
				So(ev.Currency, ShouldEqual, "CAD")
			})
		})

		Convey("When the title is missing", func() {
			_, err := n.NormalizeRaw([]byte(`{"id":"m-2","start_utc":"2024-02-01T19:00:00Z"}`), model.SourceManual, "")

			Convey("Then validation should fail", func() {
				So(errors.Is(err, normalize.ErrInvalidPayload), ShouldBeTrue)
				So(normalize.Reason(err), ShouldEqual, "invalid_payload")
			})
		})

		Convey("When the JSON is malformed", func() {
			_, err := n.NormalizeRaw([]byte(`{"id":`), model.SourceManual, "")
			So(errors.Is(err, normalize.ErrInvalidPayload), ShouldBeTrue)
		})
	})
}

func TestUnknownSource(t *testing.T) {
	Convey("Given an unknown source tag", t, func() {
		_, err := normalize.NormalizeRaw([]byte(`{}`), model.SourceTag("meetup"), "UTC")

		Convey("Then it should be rejected", func() {
			So(errors.Is(err, normalize.ErrUnknownSource), ShouldBeTrue)
			So(normalize.Reason(err), ShouldEqual, "unknown_source")
			So(normalize.Reason(nil), ShouldEqual, "")
		})
	})
}

func TestCategorize(t *testing.T) {
	Convey("Given provider labels", t, func() {
		So(normalize.Categorize("Stand-up Comedy"), ShouldEqual, model.CategoryComedy)
		So(normalize.Categorize("", "Hockey"), ShouldEqual, model.CategorySports)
		So(normalize.Categorize("Miscellaneous"), ShouldEqual, model.CategoryOther)
	})
}
