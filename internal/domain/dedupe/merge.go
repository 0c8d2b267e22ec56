package dedupe

import (
	"strconv"
	"strings"
	"time"

	"github.com/okian/gather/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Mergeable field names, as used in conflict configuration and resolutions.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldStart        = "start_utc"
	FieldEnd          = "end_utc"
	FieldVenueName    = "venue_name"
	FieldVenueAddress = "venue_address"
	FieldCity         = "city"
	FieldCoordinates  = "coordinates"
	FieldCategory     = "category"
	FieldPrice        = "price"
	FieldTicketURL    = "ticket_url"
	FieldImageURL     = "image_url"
)

// PriceRange is the resolved value of the price field.
type PriceRange struct {
	Min      decimal.NullDecimal `json:"min"`
	Max      decimal.NullDecimal `json:"max"`
	Currency string              `json:"currency,omitempty"`
}

type fieldRule struct {
	name string
	// key is the equality key of the field; empty means absent.
	key   func(*model.NormalizedEvent) string
	value func(*model.NormalizedEvent) any
	size  func(*model.NormalizedEvent) int
	copy  func(dst, src *model.NormalizedEvent)
	// merge combines present values. A nil merge, or one reporting false,
	// falls back to picking a single winner.
	merge func(dst *model.NormalizedEvent, present []member) (any, bool)
}

func stringField(name string, get func(*model.NormalizedEvent) *string) fieldRule {
	return fieldRule{
		name:  name,
		key:   func(e *model.NormalizedEvent) string { return strings.ToLower(strings.TrimSpace(*get(e))) },
		value: func(e *model.NormalizedEvent) any { return *get(e) },
		size:  func(e *model.NormalizedEvent) int { return len(*get(e)) },
		copy:  func(dst, src *model.NormalizedEvent) { *get(dst) = *get(src) },
	}
}

var fields = []fieldRule{
	stringField(FieldTitle, func(e *model.NormalizedEvent) *string { return &e.Title }),
	func() fieldRule {
		f := stringField(FieldDescription, func(e *model.NormalizedEvent) *string { return &e.Description })
		f.merge = mergeDescriptions
		return f
	}(),
	{
		name:  FieldStart,
		key:   func(e *model.NormalizedEvent) string { return timeKey(&e.StartUTC) },
		value: func(e *model.NormalizedEvent) any { return e.StartUTC },
		size:  func(*model.NormalizedEvent) int { return 1 },
		copy: func(dst, src *model.NormalizedEvent) {
			dst.StartUTC, dst.Timezone = src.StartUTC, src.Timezone
		},
	},
	{
		name: FieldEnd,
		key:  func(e *model.NormalizedEvent) string { return timeKey(e.EndUTC) },
		value: func(e *model.NormalizedEvent) any {
			if e.EndUTC == nil {
				return nil
			}
			return *e.EndUTC
		},
		size: func(*model.NormalizedEvent) int { return 1 },
		copy: func(dst, src *model.NormalizedEvent) {
			if src.EndUTC == nil {
				dst.EndUTC = nil
				return
			}
			end := *src.EndUTC
			dst.EndUTC = &end
		},
	},
	stringField(FieldVenueName, func(e *model.NormalizedEvent) *string { return &e.VenueName }),
	stringField(FieldVenueAddress, func(e *model.NormalizedEvent) *string { return &e.VenueAddress }),
	stringField(FieldCity, func(e *model.NormalizedEvent) *string { return &e.City }),
	{
		name: FieldCoordinates,
		key: func(e *model.NormalizedEvent) string {
			if e.Coordinates == nil {
				return ""
			}
			return strconv.FormatFloat(e.Coordinates.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(e.Coordinates.Lon, 'f', 5, 64)
		},
		value: func(e *model.NormalizedEvent) any {
			if e.Coordinates == nil {
				return nil
			}
			return *e.Coordinates
		},
		size: func(*model.NormalizedEvent) int { return 1 },
		copy: func(dst, src *model.NormalizedEvent) {
			if src.Coordinates == nil {
				dst.Coordinates = nil
				return
			}
			c := *src.Coordinates
			dst.Coordinates = &c
		},
		merge: mergeCoordinates,
	},
	{
		name: FieldCategory,
		key: func(e *model.NormalizedEvent) string {
			if e.Category == model.CategoryOther {
				return ""
			}
			return string(e.Category)
		},
		value: func(e *model.NormalizedEvent) any { return e.Category },
		size:  func(*model.NormalizedEvent) int { return 1 },
		copy:  func(dst, src *model.NormalizedEvent) { dst.Category = src.Category },
	},
	{
		name:  FieldPrice,
		key:   priceKey,
		value: func(e *model.NormalizedEvent) any { return PriceRange{Min: e.PriceMin, Max: e.PriceMax, Currency: e.Currency} },
		size: func(e *model.NormalizedEvent) int {
			n := 0
			for _, ok := range []bool{e.PriceMin.Valid, e.PriceMax.Valid, e.Currency != ""} {
				if ok {
					n++
				}
			}
			return n
		},
		copy: func(dst, src *model.NormalizedEvent) {
			dst.PriceMin, dst.PriceMax, dst.Currency, dst.IsFree = src.PriceMin, src.PriceMax, src.Currency, src.IsFree
		},
		merge: mergePrices,
	},
	stringField(FieldTicketURL, func(e *model.NormalizedEvent) *string { return &e.TicketURL }),
	stringField(FieldImageURL, func(e *model.NormalizedEvent) *string { return &e.ImageURL }),
}

func knownField(name string) bool {
	for _, f := range fields {
		if f.name == name {
			return true
		}
	}
	return false
}

// resolve builds the merged record from ranked members (primary first) and
// records one resolution per field whose values differ.
func (e *Engine) resolve(ms []member) (model.NormalizedEvent, []model.FieldResolution, bool) {
	primary := ms[0]
	merged := primary.ev.Clone()
	var (
		out    []model.FieldResolution
		manual bool
	)

	for i := range fields {
		f := &fields[i]
		var present []member
		distinct := make(map[string]struct{})
		for _, m := range ms {
			k := f.key(m.ev)
			distinct[k] = struct{}{}
			if k != "" {
				present = append(present, m)
			}
		}
		if len(distinct) < 2 || len(present) == 0 {
			continue
		}

		strategy := e.cfg.strategyFor(f.name)
		res := model.FieldResolution{Field: f.name}

		if strategy == model.StrategyMergeValues && f.merge != nil {
			if v, ok := f.merge(&merged, present); ok {
				res.Value = v
				res.SourceEventID = primary.ev.ID
				res.Reason = model.ReasonMerge
				res.Confidence = float64(len(present)) / float64(len(ms))
				out = append(out, res)
				continue
			}
		}

		winner, reason := pick(strategy, f, primary, present)
		if reason == model.ReasonManual {
			manual = true
		}
		f.copy(&merged, winner.ev)
		res.Value = f.value(winner.ev)
		res.SourceEventID = winner.ev.ID
		res.Reason = reason
		res.Confidence = agreement(f, winner, present)
		out = append(out, res)
	}
	return merged, out, manual
}

// pick chooses the winning member for one field. present is in rank order.
func pick(strategy model.ConflictStrategy, f *fieldRule, primary member, present []member) (member, model.ResolutionReason) {
	primaryHas := f.key(primary.ev) != ""
	switch strategy {
	case model.StrategyPrimaryWins:
		if primaryHas {
			return primary, model.ReasonPrimary
		}
	case model.StrategyManualReview:
		if primaryHas {
			return primary, model.ReasonManual
		}
		return present[0], model.ReasonManual
	case model.StrategyLatestWins:
		best := present[0]
		for _, m := range present[1:] {
			if m.ev.UpdatedAt.After(best.ev.UpdatedAt) {
				best = m
			}
		}
		return best, model.ReasonLatest
	case model.StrategyHighestQuality:
		best := present[0]
		for _, m := range present[1:] {
			if m.fp.Quality > best.fp.Quality {
				best = m
			}
		}
		return best, model.ReasonHighestQuality
	}
	best := present[0]
	for _, m := range present[1:] {
		if f.size(m.ev) > f.size(best.ev) {
			best = m
		}
	}
	return best, model.ReasonMostComplete
}

// agreement is the share of members with a value that agree with the winner.
func agreement(f *fieldRule, winner member, present []member) float64 {
	want := f.key(winner.ev)
	n := 0
	for _, m := range present {
		if f.key(m.ev) == want {
			n++
		}
	}
	return float64(n) / float64(len(present))
}

func mergeDescriptions(dst *model.NormalizedEvent, present []member) (any, bool) {
	seen := make(map[string]struct{}, len(present))
	parts := make([]string, 0, len(present))
	for _, m := range present {
		k := strings.ToLower(strings.TrimSpace(m.ev.Description))
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		parts = append(parts, m.ev.Description)
	}
	dst.Description = strings.Join(parts, "\n\n")
	return dst.Description, true
}

func mergeCoordinates(dst *model.NormalizedEvent, present []member) (any, bool) {
	var lat, lon float64
	for _, m := range present {
		lat += m.ev.Coordinates.Lat
		lon += m.ev.Coordinates.Lon
	}
	n := float64(len(present))
	dst.Coordinates = &model.Coordinates{Lat: lat / n, Lon: lon / n}
	return *dst.Coordinates, true
}

// mergePrices widens the range to cover every member's prices. Ranges in
// different currencies are not comparable and are left to a single winner.
func mergePrices(dst *model.NormalizedEvent, present []member) (any, bool) {
	currency := ""
	for _, m := range present {
		switch c := m.ev.Currency; {
		case c == "":
		case currency == "":
			currency = c
		case !strings.EqualFold(c, currency):
			return nil, false
		}
	}

	var lo, hi decimal.NullDecimal
	free := false
	for _, m := range present {
		ev := m.ev
		if ev.PriceMin.Valid && (!lo.Valid || ev.PriceMin.Decimal.LessThan(lo.Decimal)) {
			lo = ev.PriceMin
		}
		if ev.PriceMax.Valid && (!hi.Valid || ev.PriceMax.Decimal.GreaterThan(hi.Decimal)) {
			hi = ev.PriceMax
		}
		free = free || ev.IsFree
	}
	dst.PriceMin, dst.PriceMax, dst.Currency = lo, hi, currency
	dst.IsFree = free && (!hi.Valid || hi.Decimal.IsZero())
	return PriceRange{Min: lo, Max: hi, Currency: currency}, true
}

func priceKey(e *model.NormalizedEvent) string {
	if !e.PriceMin.Valid && !e.PriceMax.Valid && e.Currency == "" {
		return ""
	}
	return nullString(e.PriceMin) + "-" + nullString(e.PriceMax) + " " + e.Currency
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "?"
	}
	return d.Decimal.String()
}

func timeKey(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
