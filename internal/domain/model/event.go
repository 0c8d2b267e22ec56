// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceTag identifies the provider a record came from.
type SourceTag string

// Known providers. The set is closed; the normalizer rejects anything else.
const (
	SourceTicketmaster SourceTag = "ticketmaster"
	SourceEventbrite   SourceTag = "eventbrite"
	SourceYelp         SourceTag = "yelp"
	SourceManual       SourceTag = "manual"
)

// SourceTags lists all known providers in a stable order.
func SourceTags() []SourceTag {
	return []SourceTag{SourceTicketmaster, SourceEventbrite, SourceYelp, SourceManual}
}

// Valid reports whether t is a known provider.
func (t SourceTag) Valid() bool {
	switch t {
	case SourceTicketmaster, SourceEventbrite, SourceYelp, SourceManual:
		return true
	}
	return false
}

// Category is the canonical event category tag.
type Category string

// Canonical categories.
const (
	CategoryMusic     Category = "music"
	CategoryComedy    Category = "comedy"
	CategoryTheater   Category = "theater"
	CategorySports    Category = "sports"
	CategoryArts      Category = "arts"
	CategoryFood      Category = "food"
	CategoryNightlife Category = "nightlife"
	CategoryFamily    Category = "family"
	CategoryBusiness  Category = "business"
	CategoryCommunity Category = "community"
	CategoryFilm      Category = "film"
	CategoryOther     Category = "other"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NormalizedEvent is the canonical representation of one listing.
// StartUTC is always a resolved UTC instant.
type NormalizedEvent struct {
	ID           string              `json:"id"` // "<source>:<external_id>"
	Title        string              `json:"title" validate:"required"`
	Description  string              `json:"description,omitempty"`
	StartUTC     time.Time           `json:"start_utc" validate:"required"`
	EndUTC       *time.Time          `json:"end_utc,omitempty"`
	Timezone     string              `json:"timezone"`
	VenueName    string              `json:"venue_name,omitempty"`
	VenueAddress string              `json:"venue_address,omitempty"`
	City         string              `json:"city,omitempty"`
	Coordinates  *Coordinates        `json:"coordinates,omitempty"`
	Category     Category            `json:"category"`
	PriceMin     decimal.NullDecimal `json:"price_min"`
	PriceMax     decimal.NullDecimal `json:"price_max"`
	Currency     string              `json:"currency,omitempty"`
	TicketURL    string              `json:"ticket_url,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	Source       SourceTag           `json:"source" validate:"required"`
	ExternalID   string              `json:"external_id" validate:"required"`
	IsFree       bool                `json:"is_free"`
	IsOfficial   bool                `json:"is_official"`
	IsVerified   bool                `json:"is_verified"`
	IngestedAt   time.Time           `json:"ingested_at"`
	UpdatedAt    time.Time           `json:"updated_at"` // source-updated-at, doubles as cache version
	// MergedAt is set on a merged primary. It is not part of Version, so the
	// row keeps its own source version.
	MergedAt     *time.Time          `json:"merged_at,omitempty"`
}

// EventID builds the stable id for a source record.
func EventID(source SourceTag, externalID string) string {
	return string(source) + ":" + externalID
}

// completenessFields is the number of optional fields counted by Completeness.
const completenessFields = 10

// Completeness returns the share of optional fields that carry a value, in [0,1].
func (e *NormalizedEvent) Completeness() float64 {
	n := 0
	for _, ok := range []bool{
		e.Description != "",
		e.EndUTC != nil,
		e.VenueName != "",
		e.VenueAddress != "",
		e.City != "",
		e.Coordinates != nil,
		e.Category != "" && e.Category != CategoryOther,
		e.PriceMin.Valid || e.IsFree,
		e.TicketURL != "",
		e.ImageURL != "",
	} {
		if ok {
			n++
		}
	}
	return float64(n) / completenessFields
}

// Version is the value cached artifacts are invalidated on.
func (e *NormalizedEvent) Version() int64 {
	if e.UpdatedAt.IsZero() {
		return e.IngestedAt.UnixNano()
	}
	return e.UpdatedAt.UnixNano()
}

// Clone returns a deep copy.
func (e *NormalizedEvent) Clone() NormalizedEvent {
	c := *e
	if e.EndUTC != nil {
		end := *e.EndUTC
		c.EndUTC = &end
	}
	if e.Coordinates != nil {
		coords := *e.Coordinates
		c.Coordinates = &coords
	}
	if e.MergedAt != nil {
		at := *e.MergedAt
		c.MergedAt = &at
	}
	return c
}
