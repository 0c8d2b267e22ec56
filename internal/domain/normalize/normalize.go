// Package normalize maps provider payloads onto the canonical event schema.
// It performs no I/O and keeps no state beyond its configuration.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/textnorm"
	"github.com/shopspring/decimal"
)

// Normalizer converts payloads into NormalizedEvents.
type Normalizer struct {
	now      func() time.Time
	validate *validator.Validate
}

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithClock sets the clock used for IngestedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithValidator sets a shared validator instance.
func WithValidator(v *validator.Validate) Option {
	return func(n *Normalizer) {
		if v != nil {
			n.validate = v
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	if n.validate == nil {
		n.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return n
}

var defaultNormalizer = New() //nolint:gochecknoglobals // stateless default instance

// Normalize maps p using the default Normalizer.
func Normalize(p Payload, fallbackTZ string) (model.NormalizedEvent, error) {
	return defaultNormalizer.Normalize(p, fallbackTZ)
}

// NormalizeRaw decodes raw for tag and maps it using the default Normalizer.
func NormalizeRaw(raw []byte, tag model.SourceTag, fallbackTZ string) (model.NormalizedEvent, error) {
	return defaultNormalizer.NormalizeRaw(raw, tag, fallbackTZ)
}

// NormalizeRaw decodes raw for tag and maps it.
func (n *Normalizer) NormalizeRaw(raw []byte, tag model.SourceTag, fallbackTZ string) (model.NormalizedEvent, error) {
	p, err := Decode(raw, tag)
	if err != nil {
		return model.NormalizedEvent{}, err
	}
	return n.Normalize(p, fallbackTZ)
}

// Normalize maps one payload. Missing optional fields produce empty values;
// a missing id or title, or a start time that cannot be resolved, is an error.
func (n *Normalizer) Normalize(p Payload, fallbackTZ string) (model.NormalizedEvent, error) {
	var (
		ev  model.NormalizedEvent
		err error
	)
	switch v := p.(type) {
	case *TicketmasterPayload:
		ev, err = fromTicketmaster(v, fallbackTZ)
	case *EventbritePayload:
		ev, err = fromEventbrite(v, fallbackTZ)
	case *YelpPayload:
		ev, err = fromYelp(v, fallbackTZ)
	case *ManualPayload:
		ev, err = fromManual(v, fallbackTZ)
	default:
		return model.NormalizedEvent{}, fmt.Errorf("%w: payload %T", ErrUnknownSource, p)
	}
	if err != nil {
		return model.NormalizedEvent{}, err
	}

	ev.Title = textnorm.CleanSpace(textnorm.StripHTML(ev.Title))
	ev.Description = textnorm.StripHTML(ev.Description)
	ev.VenueName = textnorm.CleanSpace(ev.VenueName)
	ev.VenueAddress = textnorm.CleanSpace(ev.VenueAddress)
	ev.City = textnorm.CleanSpace(ev.City)
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)
	ev.TicketURL = sanitizeURL(ev.TicketURL)
	ev.ImageURL = sanitizeURL(ev.ImageURL)
	ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
	ev.PriceMin, ev.PriceMax = orderPrices(ev.PriceMin, ev.PriceMax)
	if ev.IsFree && !ev.PriceMin.Valid {
		ev.PriceMin = decimal.NewNullDecimal(decimal.Zero)
		ev.PriceMax = decimal.NewNullDecimal(decimal.Zero)
	}
	if ev.EndUTC != nil && ev.EndUTC.Before(ev.StartUTC) {
		ev.EndUTC = nil
	}

	if err := n.validate.Struct(&ev); err != nil {
		return model.NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev.ID = model.EventID(ev.Source, ev.ExternalID)
	ev.IngestedAt = n.now().UTC()
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = ev.IngestedAt
	}
	return ev, nil
}

func fromTicketmaster(p *TicketmasterPayload, fallbackTZ string) (model.NormalizedEvent, error) {
	ev := model.NormalizedEvent{
		Source:      model.SourceTicketmaster,
		ExternalID:  p.ID,
		Title:       p.Name,
		Description: firstNonEmpty(p.Info, p.Note),
		TicketURL:   p.URL,
		IsOfficial:  true,
	}

	zoneHint := p.Dates.Timezone
	if len(p.Embedded.Venues) > 0 {
		v := p.Embedded.Venues[0]
		ev.VenueName = v.Name
		ev.VenueAddress = v.Address.Line1
		ev.City = v.City.Name
		ev.Coordinates = coords(v.Location.Latitude, v.Location.Longitude)
		if zoneHint == "" {
			zoneHint = v.Timezone
		}
	}

	start, zone, err := resolveTime(timeInput{
		Instant:  p.Dates.Start.DateTime,
		Local:    p.Dates.Start.LocalDate,
		Clock:    p.Dates.Start.LocalTime,
		Timezone: zoneHint,
	}, fallbackTZ)
	if err != nil {
		return ev, err
	}
	ev.StartUTC, ev.Timezone = start, zone
	ev.EndUTC = optionalTime(timeInput{
		Instant:  p.Dates.End.DateTime,
		Local:    p.Dates.End.LocalDate,
		Clock:    p.Dates.End.LocalTime,
		Timezone: zoneHint,
	}, fallbackTZ)

	var labels []string
	for _, c := range p.Classifications {
		if c.Primary {
			labels = append([]string{c.Segment.Name, c.Genre.Name}, labels...)
			continue
		}
		labels = append(labels, c.Segment.Name, c.Genre.Name)
	}
	ev.Category = Categorize(labels...)

	if len(p.PriceRanges) > 0 {
		pr := p.PriceRanges[0]
		ev.PriceMin, ev.PriceMax, ev.Currency = pr.Min, pr.Max, pr.Currency
	}

	best := 0
	for _, img := range p.Images {
		if img.Width >= best && img.URL != "" {
			best, ev.ImageURL = img.Width, img.URL
		}
	}
	return ev, nil
}

func fromEventbrite(p *EventbritePayload, fallbackTZ string) (model.NormalizedEvent, error) {
	ev := model.NormalizedEvent{
		Source:      model.SourceEventbrite,
		ExternalID:  p.ID,
		Title:       p.Name.Text,
		Description: firstNonEmpty(p.Description.Text, p.Description.HTML),
		TicketURL:   p.URL,
		IsFree:      p.IsFree,
	}
	if p.Logo != nil {
		ev.ImageURL = p.Logo.URL
	}
	if p.Venue != nil {
		ev.VenueName = p.Venue.Name
		ev.VenueAddress = p.Venue.Address.Address1
		ev.City = p.Venue.Address.City
		ev.Coordinates = coords(p.Venue.Address.Latitude, p.Venue.Address.Longitude)
	}

	start, zone, err := resolveTime(timeInput{Instant: p.Start.UTC, Local: p.Start.Local, Timezone: p.Start.Timezone}, fallbackTZ)
	if err != nil {
		return ev, err
	}
	ev.StartUTC, ev.Timezone = start, zone
	ev.EndUTC = optionalTime(timeInput{Instant: p.End.UTC, Local: p.End.Local, Timezone: p.End.Timezone}, fallbackTZ)

	if p.Category != nil {
		ev.Category = Categorize(p.Category.Name)
	} else {
		ev.Category = model.CategoryOther
	}
	if ta := p.TicketAvailability; ta != nil {
		if ta.Minimum != nil {
			ev.PriceMin, ev.Currency = ta.Minimum.MajorValue, ta.Minimum.Currency
		}
		if ta.Maximum != nil {
			ev.PriceMax = ta.Maximum.MajorValue
			if ev.Currency == "" {
				ev.Currency = ta.Maximum.Currency
			}
		}
	}
	if t, err := time.Parse(time.RFC3339, p.Changed); err == nil {
		ev.UpdatedAt = t.UTC()
	}
	return ev, nil
}

func fromYelp(p *YelpPayload, fallbackTZ string) (model.NormalizedEvent, error) {
	ev := model.NormalizedEvent{
		Source:       model.SourceYelp,
		ExternalID:   p.ID,
		Title:        p.Name,
		Description:  p.Description,
		TicketURL:    firstNonEmpty(p.TicketsURL, p.EventSiteURL),
		ImageURL:     p.ImageURL,
		VenueName:    p.BusinessName,
		VenueAddress: p.Location.Address1,
		City:         p.Location.City,
		Coordinates:  coords(p.Latitude, p.Longitude),
		Category:     Categorize(p.Category),
		IsFree:       p.IsFree,
		IsOfficial:   p.IsOfficial,
		PriceMin:     p.Cost,
		PriceMax:     p.CostMax,
	}
	if ev.PriceMin.Valid {
		ev.Currency = "USD"
	}

	// Yelp reports offset-qualified instants or zone-less local times.
	start, zone, err := resolveTime(timeInput{Instant: p.TimeStart, Local: p.TimeStart}, fallbackTZ)
	if err != nil {
		return ev, err
	}
	ev.StartUTC, ev.Timezone = start, zone
	ev.EndUTC = optionalTime(timeInput{Instant: p.TimeEnd, Local: p.TimeEnd}, fallbackTZ)
	return ev, nil
}

func fromManual(p *ManualPayload, fallbackTZ string) (model.NormalizedEvent, error) {
	ev := model.NormalizedEvent{
		Source:       model.SourceManual,
		ExternalID:   p.ID,
		Title:        p.Title,
		Description:  p.Description,
		VenueName:    p.Venue,
		VenueAddress: p.Address,
		City:         p.City,
		Coordinates:  coords(p.Latitude, p.Longitude),
		Category:     Categorize(p.Category),
		PriceMin:     p.PriceMin,
		PriceMax:     p.PriceMax,
		Currency:     p.Currency,
		TicketURL:    p.URL,
		ImageURL:     p.ImageURL,
		IsFree:       p.IsFree,
		IsOfficial:   p.IsOfficial,
		IsVerified:   p.IsVerified,
	}

	start, zone, err := resolveTime(timeInput{
		Instant: p.StartUTC, Local: p.StartDate, Clock: p.StartTime, Timezone: p.Timezone,
	}, fallbackTZ)
	if err != nil {
		return ev, err
	}
	ev.StartUTC, ev.Timezone = start, zone
	ev.EndUTC = optionalTime(timeInput{Local: p.EndDate, Clock: p.EndTime, Timezone: p.Timezone}, fallbackTZ)
	if t, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil {
		ev.UpdatedAt = t.UTC()
	}
	return ev, nil
}

func optionalTime(in timeInput, fallbackTZ string) *time.Time {
	if in.empty() {
		return nil
	}
	t, _, err := resolveTime(in, fallbackTZ)
	if err != nil {
		return nil
	}
	return &t
}

func coords(lat, lon flexFloat) *model.Coordinates {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	if lat.Value < -90 || lat.Value > 90 || lon.Value < -180 || lon.Value > 180 {
		return nil
	}
	if lat.Value == 0 && lon.Value == 0 {
		return nil
	}
	return &model.Coordinates{Lat: lat.Value, Lon: lon.Value}
}

func sanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

func orderPrices(lo, hi decimal.NullDecimal) (decimal.NullDecimal, decimal.NullDecimal) {
	if lo.Valid && lo.Decimal.IsNegative() {
		lo = decimal.NullDecimal{}
	}
	if hi.Valid && hi.Decimal.IsNegative() {
		hi = decimal.NullDecimal{}
	}
	switch {
	case !lo.Valid && hi.Valid:
		lo = hi
	case lo.Valid && !hi.Valid:
		hi = lo
	case lo.Valid && hi.Valid && hi.Decimal.LessThan(lo.Decimal):
		lo, hi = hi, lo
	}
	return lo, hi
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
