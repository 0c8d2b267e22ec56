package loadgen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/domain/model"
)

// Record is one raw provider record and the event id it normalizes to.
type Record struct {
	Tag     model.SourceTag `json:"tag"`
	EventID string          `json:"event_id"`
	Raw     json.RawMessage `json:"raw"`
}

// Plan is everything a load run submits, plus the duplicate pairs it planted.
type Plan struct {
	Records    []Record    `json:"records"`
	Duplicates [][2]string `json:"duplicates"`
}

type venue struct {
	name, address, city, zone string
	lat, lon                  float64
}

var venues = []venue{
	{"Massey Hall", "178 Victoria St", "Toronto", "America/Toronto", 43.6540, -79.3790},
	{"Danforth Music Hall", "147 Danforth Ave", "Toronto", "America/Toronto", 43.6763, -79.3571},
	{"Roy Thomson Hall", "60 Simcoe St", "Toronto", "America/Toronto", 43.6466, -79.3863},
	{"Scotiabank Arena", "40 Bay St", "Toronto", "America/Toronto", 43.6435, -79.3791},
	{"MTELUS", "59 Rue Sainte-Catherine E", "Montreal", "America/Toronto", 45.5105, -73.5633},
	{"Place des Arts", "175 Rue Sainte-Catherine O", "Montreal", "America/Toronto", 45.5080, -73.5665},
	{"Commodore Ballroom", "868 Granville St", "Vancouver", "America/Vancouver", 49.2806, -123.1209},
	{"Orpheum", "601 Smithe St", "Vancouver", "America/Vancouver", 49.2801, -123.1207},
	{"Bowery Ballroom", "6 Delancey St", "New York", "America/New_York", 40.7204, -73.9934},
	{"Brooklyn Steel", "319 Frost St", "New York", "America/New_York", 40.7195, -73.9384},
}

var (
	titleOpeners = []string{"Midnight", "Northern", "Electric", "Golden", "Velvet", "Harbour", "Neon", "Wild", "Silver", "Urban"}
	titleThemes  = []string{"Jazz Night", "Comedy Hour", "Indie Showcase", "Symphony Gala", "Food Festival", "Tech Meetup", "Art Walk", "Soul Revue", "Film Screening", "Basketball Classic"}
	themeLabels  = map[string][2]string{
		"Jazz Night":         {"Music", "Jazz"},
		"Comedy Hour":        {"Arts & Theatre", "Comedy"},
		"Indie Showcase":     {"Music", "Rock"},
		"Symphony Gala":      {"Music", "Classical"},
		"Food Festival":      {"Miscellaneous", "Food"},
		"Tech Meetup":        {"Miscellaneous", "Technology"},
		"Art Walk":           {"Arts & Theatre", "Art"},
		"Soul Revue":         {"Music", "R&B"},
		"Film Screening":     {"Film", "Film"},
		"Basketball Classic": {"Sports", "Basketball"},
	}
	idPrefix = map[model.SourceTag]string{
		model.SourceTicketmaster: "tm",
		model.SourceEventbrite:   "eb",
		model.SourceYelp:         "yp",
		model.SourceManual:       "mn",
	}
)

// seedEvent is the ground truth one or more records are rendered from.
type seedEvent struct {
	title    string
	theme    string
	venue    venue
	start    time.Time
	duration time.Duration
	priceMin float64
	priceMax float64
	free     bool
	updated  time.Time
}

// Generate builds a deterministic plan of cfg.Events events spread over all
// sources. A cfg.DuplicateRatio share of them is republished by a second
// source with a perturbed title, start and location.
func Generate(cfg Config, anchor time.Time) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	tags := model.SourceTags()
	day := anchor.UTC().Truncate(24 * time.Hour)

	var plan Plan
	for i := 0; i < cfg.Events; i++ {
		ev := newSeed(rng, i, day)
		tag := tags[i%len(tags)]
		rec, err := render(tag, fmt.Sprintf("%s-%06d", idPrefix[tag], i), ev)
		if err != nil {
			return Plan{}, err
		}
		plan.Records = append(plan.Records, rec)

		if rng.Float64() >= cfg.DuplicateRatio {
			continue
		}
		dupTag := tags[(i+1+rng.IntN(len(tags)-1))%len(tags)]
		dup, err := render(dupTag, fmt.Sprintf("%s-%06d-d", idPrefix[dupTag], i), perturb(rng, ev))
		if err != nil {
			return Plan{}, err
		}
		plan.Records = append(plan.Records, dup)
		plan.Duplicates = append(plan.Duplicates, [2]string{rec.EventID, dup.EventID})
	}
	return plan, nil
}

func newSeed(rng *rand.Rand, i int, day time.Time) seedEvent {
	theme := titleThemes[rng.IntN(len(titleThemes))]
	v := venues[rng.IntN(len(venues))]
	loc, err := time.LoadLocation(v.zone)
	if err != nil {
		loc = time.UTC
	}
	local := day.AddDate(0, 0, 1+rng.IntN(60)).In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 17+rng.IntN(5), 30*rng.IntN(2), 0, 0, loc)

	ev := seedEvent{
		title:    fmt.Sprintf("%s %s Vol. %d", titleOpeners[rng.IntN(len(titleOpeners))], theme, i+1),
		theme:    theme,
		venue:    v,
		start:    start,
		duration: time.Duration(90+30*rng.IntN(4)) * time.Minute,
		updated:  day.Add(-time.Duration(rng.IntN(72)) * time.Hour),
	}
	if rng.IntN(5) == 0 {
		ev.free = true
		return ev
	}
	ev.priceMin = float64(15 + 5*rng.IntN(10))
	ev.priceMax = ev.priceMin + float64(10*rng.IntN(8))
	return ev
}

// perturb returns the same event the way another provider might list it.
func perturb(rng *rand.Rand, ev seedEvent) seedEvent {
	switch rng.IntN(4) {
	case 0:
		ev.title = strings.ToUpper(ev.title)
	case 1:
		ev.title += " (Live)"
	case 2:
		ev.title = "The " + ev.title
	}
	ev.start = ev.start.Add(time.Duration(rng.IntN(3)*5) * time.Minute)
	// about 20m of jitter on the venue pin
	ev.venue.lat += (rng.Float64() - 0.5) * 0.0004
	ev.venue.lon += (rng.Float64() - 0.5) * 0.0004
	ev.updated = ev.updated.Add(time.Hour)
	return ev
}

func render(tag model.SourceTag, id string, ev seedEvent) (Record, error) {
	var body map[string]any
	switch tag {
	case model.SourceTicketmaster:
		body = renderTicketmaster(id, ev)
	case model.SourceEventbrite:
		body = renderEventbrite(id, ev)
	case model.SourceYelp:
		body = renderYelp(id, ev)
	case model.SourceManual:
		body = renderManual(id, ev)
	default:
		return Record{}, fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, tag)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Record{}, fmt.Errorf("render %s: %w", id, err)
	}
	return Record{Tag: tag, EventID: model.EventID(tag, id), Raw: raw}, nil
}

func renderTicketmaster(id string, ev seedEvent) map[string]any {
	labels := themeLabels[ev.theme]
	end := ev.start.Add(ev.duration)
	out := map[string]any{
		"id":   id,
		"name": ev.title,
		"url":  "https://www.ticketmaster.com/event/" + id,
		"dates": map[string]any{
			"start":    map[string]any{"localDate": ev.start.Format(time.DateOnly), "localTime": ev.start.Format("15:04:05")},
			"end":      map[string]any{"localDate": end.Format(time.DateOnly), "localTime": end.Format("15:04:05")},
			"timezone": ev.venue.zone,
		},
		"classifications": []map[string]any{{
			"primary": true,
			"segment": map[string]any{"name": labels[0]},
			"genre":   map[string]any{"name": labels[1]},
		}},
		"_embedded": map[string]any{"venues": []map[string]any{{
			"name":     ev.venue.name,
			"address":  map[string]any{"line1": ev.venue.address},
			"city":     map[string]any{"name": ev.venue.city},
			"location": map[string]any{"latitude": coord(ev.venue.lat), "longitude": coord(ev.venue.lon)},
		}}},
	}
	if !ev.free {
		out["priceRanges"] = []map[string]any{{"min": ev.priceMin, "max": ev.priceMax, "currency": "CAD"}}
	}
	return out
}

func renderEventbrite(id string, ev seedEvent) map[string]any {
	out := map[string]any{
		"id":          id,
		"name":        map[string]any{"text": ev.title},
		"description": map[string]any{"html": "<p>" + ev.title + " at " + ev.venue.name + ".</p>"},
		"url":         "https://www.eventbrite.com/e/" + id,
		"start":       map[string]any{"utc": ev.start.UTC().Format(time.RFC3339), "timezone": ev.venue.zone},
		"end":         map[string]any{"utc": ev.start.Add(ev.duration).UTC().Format(time.RFC3339), "timezone": ev.venue.zone},
		"is_free":     ev.free,
		"changed":     ev.updated.UTC().Format(time.RFC3339),
		"category":    map[string]any{"name": themeLabels[ev.theme][1]},
		"venue": map[string]any{
			"name": ev.venue.name,
			"address": map[string]any{
				"address_1": ev.venue.address,
				"city":      ev.venue.city,
				"latitude":  coord(ev.venue.lat),
				"longitude": coord(ev.venue.lon),
			},
		},
	}
	if !ev.free {
		out["ticket_availability"] = map[string]any{
			"minimum_ticket_price": map[string]any{"major_value": fmt.Sprintf("%.2f", ev.priceMin), "currency": "CAD"},
			"maximum_ticket_price": map[string]any{"major_value": fmt.Sprintf("%.2f", ev.priceMax), "currency": "CAD"},
		}
	}
	return out
}

func renderYelp(id string, ev seedEvent) map[string]any {
	out := map[string]any{
		"id":             id,
		"name":           ev.title,
		"description":    ev.title + " at " + ev.venue.name,
		"event_site_url": "https://www.yelp.com/events/" + id,
		"time_start":     ev.start.Format(time.RFC3339),
		"time_end":       ev.start.Add(ev.duration).Format(time.RFC3339),
		"is_free":        ev.free,
		"category":       strings.ToLower(themeLabels[ev.theme][1]),
		"latitude":       ev.venue.lat,
		"longitude":      ev.venue.lon,
		"business_name":  ev.venue.name,
		"location":       map[string]any{"address1": ev.venue.address, "city": ev.venue.city},
	}
	if !ev.free {
		out["cost"] = ev.priceMin
		out["cost_max"] = ev.priceMax
	}
	return out
}

func renderManual(id string, ev seedEvent) map[string]any {
	end := ev.start.Add(ev.duration)
	out := map[string]any{
		"id":          id,
		"title":       ev.title,
		"description": ev.title + " at " + ev.venue.name,
		"start_date":  ev.start.Format(time.DateOnly),
		"start_time":  ev.start.Format("15:04"),
		"end_date":    end.Format(time.DateOnly),
		"end_time":    end.Format("15:04"),
		"timezone":    ev.venue.zone,
		"venue":       ev.venue.name,
		"address":     ev.venue.address,
		"city":        ev.venue.city,
		"latitude":    ev.venue.lat,
		"longitude":   ev.venue.lon,
		"category":    themeLabels[ev.theme][1],
		"is_free":     ev.free,
		"is_verified": true,
		"updated_at":  ev.updated.UTC().Format(time.RFC3339),
	}
	if !ev.free {
		out["price_min"] = ev.priceMin
		out["price_max"] = ev.priceMax
		out["currency"] = "CAD"
	}
	return out
}

// coord renders a coordinate the way string-typed providers do.
func coord(v float64) string {
	return fmt.Sprintf("%.6f", math.Round(v*1e6)/1e6)
}
