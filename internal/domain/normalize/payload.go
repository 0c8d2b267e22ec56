package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Payload is a decoded provider record. The set of implementations is closed.
type Payload interface {
	Tag() model.SourceTag
	payload()
}

// flexFloat accepts a JSON number, a numeric string, or null. It only carries
// optional values, so anything unparseable decodes as absent.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// TicketmasterPayload mirrors a Discovery API event.
type TicketmasterPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Info   string `json:"info"`
	Note   string `json:"pleaseNote"`
	URL    string `json:"url"`
	Images []struct {
		URL   string `json:"url"`
		Width int    `json:"width"`
	} `json:"images"`
	Dates struct {
		Start    tmDate `json:"start"`
		End      tmDate `json:"end"`
		Timezone string `json:"timezone"`
	} `json:"dates"`
	Classifications []struct {
		Primary bool `json:"primary"`
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"classifications"`
	PriceRanges []struct {
		Min      decimal.NullDecimal `json:"min"`
		Max      decimal.NullDecimal `json:"max"`
		Currency string              `json:"currency"`
	} `json:"priceRanges"`
	Embedded struct {
		Venues []struct {
			Name    string `json:"name"`
			Address struct {
				Line1 string `json:"line1"`
			} `json:"address"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
			Location struct {
				Latitude  flexFloat `json:"latitude"`
				Longitude flexFloat `json:"longitude"`
			} `json:"location"`
			Timezone string `json:"timezone"`
		} `json:"venues"`
	} `json:"_embedded"`
}

type tmDate struct {
	LocalDate string `json:"localDate"`
	LocalTime string `json:"localTime"`
	DateTime  string `json:"dateTime"`
}

// EventbritePayload mirrors an Eventbrite event with expanded venue.
type EventbritePayload struct {
	ID   string `json:"id"`
	Name struct {
		Text string `json:"text"`
	} `json:"name"`
	Description struct {
		Text string `json:"text"`
		HTML string `json:"html"`
	} `json:"description"`
	URL   string  `json:"url"`
	Start ebTime  `json:"start"`
	End   ebTime  `json:"end"`
	Logo  *ebLogo `json:"logo"`

	IsFree   bool   `json:"is_free"`
	Changed  string `json:"changed"`
	Category *struct {
		Name string `json:"name"`
	} `json:"category"`
	Venue *struct {
		Name    string `json:"name"`
		Address struct {
			Address1  string    `json:"address_1"`
			City      string    `json:"city"`
			Latitude  flexFloat `json:"latitude"`
			Longitude flexFloat `json:"longitude"`
		} `json:"address"`
	} `json:"venue"`
	TicketAvailability *struct {
		Minimum *ebPrice `json:"minimum_ticket_price"`
		Maximum *ebPrice `json:"maximum_ticket_price"`
	} `json:"ticket_availability"`
}

type ebTime struct {
	Timezone string `json:"timezone"`
	Local    string `json:"local"`
	UTC      string `json:"utc"`
}

type ebLogo struct {
	URL string `json:"url"`
}

type ebPrice struct {
	MajorValue decimal.NullDecimal `json:"major_value"`
	Currency   string              `json:"currency"`
}

// YelpPayload mirrors a Yelp Fusion event.
type YelpPayload struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	EventSiteURL string              `json:"event_site_url"`
	TicketsURL   string              `json:"tickets_url"`
	ImageURL     string              `json:"image_url"`
	TimeStart    string              `json:"time_start"`
	TimeEnd      string              `json:"time_end"`
	IsFree       bool                `json:"is_free"`
	IsOfficial   bool                `json:"is_official"`
	Cost         decimal.NullDecimal `json:"cost"`
	CostMax      decimal.NullDecimal `json:"cost_max"`
	Category     string              `json:"category"`
	Latitude     flexFloat           `json:"latitude"`
	Longitude    flexFloat           `json:"longitude"`
	BusinessName string              `json:"business_name"`
	Location     struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
	} `json:"location"`
}

// ManualPayload is the flat shape used by curated sources and push ingestion.
type ManualPayload struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	StartUTC    string              `json:"start_utc"`
	StartDate   string              `json:"start_date"`
	StartTime   string              `json:"start_time"`
	EndDate     string              `json:"end_date"`
	EndTime     string              `json:"end_time"`
	Timezone    string              `json:"timezone"`
	Venue       string              `json:"venue"`
	Address     string              `json:"address"`
	City        string              `json:"city"`
	Latitude    flexFloat           `json:"latitude"`
	Longitude   flexFloat           `json:"longitude"`
	Category    string              `json:"category"`
	PriceMin    decimal.NullDecimal `json:"price_min"`
	PriceMax    decimal.NullDecimal `json:"price_max"`
	Currency    string              `json:"currency"`
	URL         string              `json:"url"`
	ImageURL    string              `json:"image_url"`
	IsFree      bool                `json:"is_free"`
	IsOfficial  bool                `json:"is_official"`
	IsVerified  bool                `json:"is_verified"`
	UpdatedAt   string              `json:"updated_at"`
}

func (*TicketmasterPayload) Tag() model.SourceTag { return model.SourceTicketmaster }
func (*EventbritePayload) Tag() model.SourceTag   { return model.SourceEventbrite }
func (*YelpPayload) Tag() model.SourceTag         { return model.SourceYelp }
func (*ManualPayload) Tag() model.SourceTag       { return model.SourceManual }

func (*TicketmasterPayload) payload() {}
func (*EventbritePayload) payload()   {}
func (*YelpPayload) payload()         {}
func (*ManualPayload) payload()       {}

// Decode parses raw JSON into the payload variant for tag.
func Decode(raw []byte, tag model.SourceTag) (Payload, error) {
	var p Payload
	switch tag {
	case model.SourceTicketmaster:
		p = &TicketmasterPayload{}
	case model.SourceEventbrite:
		p = &EventbritePayload{}
	case model.SourceYelp:
		p = &YelpPayload{}
	case model.SourceManual:
		p = &ManualPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, tag)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, tag, err)
	}
	return p, nil
}
