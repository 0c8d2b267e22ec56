package dedupe

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/textnorm"
)

// timeBucketWidth groups start times into coarse windows.
const timeBucketWidth = 3 * time.Hour

// Fingerprint is the derived comparison summary of one event.
type Fingerprint struct {
	EventID      string
	Source       model.SourceTag
	ExternalID   string
	Tokens       []string
	Title        string // folded title without stopwords
	Venue        string
	VenueSlug    string
	Address      string
	City         string
	LocationKey  string
	DateKey      string
	TimeBucket   int64
	ContentHash  uint64
	Category     model.Category
	Coordinates  *model.Coordinates
	Start        time.Time
	Embedding    []float32
	Version      int64
	Quality      float64
	Completeness float64
	Priority     bool // verified or official
	IngestedAt   time.Time
}

// computeFingerprint builds a Fingerprint without consulting caches.
func (e *Engine) computeFingerprint(ctx context.Context, ev *model.NormalizedEvent) (*Fingerprint, error) {
	if ev.ID == "" || ev.ExternalID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrNotFingerprintable)
	}
	if ev.StartUTC.IsZero() {
		return nil, fmt.Errorf("%w: %s has no start time", ErrNotFingerprintable, ev.ID)
	}
	tokens := textnorm.Tokens(ev.Title)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty title", ErrNotFingerprintable, ev.ID)
	}

	fp := &Fingerprint{
		EventID:      ev.ID,
		Source:       ev.Source,
		ExternalID:   ev.ExternalID,
		Tokens:       tokens,
		Title:        strings.Join(tokens, " "),
		Venue:        textnorm.Venue(ev.VenueName),
		VenueSlug:    textnorm.VenueSlug(ev.VenueName),
		Address:      textnorm.Address(ev.VenueAddress),
		City:         textnorm.Fold(ev.City),
		Category:     ev.Category,
		Start:        ev.StartUTC.UTC(),
		Version:      ev.Version(),
		Completeness: ev.Completeness(),
		Priority:     ev.IsVerified || ev.IsOfficial,
		IngestedAt:   ev.IngestedAt,
		TimeBucket:   ev.StartUTC.Unix() / int64(timeBucketWidth/time.Second),
	}
	if ev.Coordinates != nil {
		c := *ev.Coordinates
		fp.Coordinates = &c
	}
	fp.Quality = qualityScore(fp.Completeness, ev.IsVerified, ev.IsOfficial)
	fp.DateKey = dateKey(ev.StartUTC, ev.Timezone)
	fp.LocationKey = e.locationKey(fp)
	fp.ContentHash = xxhash.Sum64String(strings.Join([]string{fp.Title, fp.Venue, fp.DateKey, fp.City}, "|"))

	if e.cfg.Algorithms.SemanticEnabled && e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, ev.Title+" "+ev.Description)
		if err == nil && len(vec) > 0 {
			fp.Embedding = vec
		}
	}
	return fp, nil
}

// dateKey is the start date in the event's own zone, falling back to UTC.
func dateKey(start time.Time, zone string) string {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return start.In(loc).Format(time.DateOnly)
		}
	}
	return start.UTC().Format(time.DateOnly)
}

// locationKey is a rounded coordinate cell, else an address hash, else the city.
func (e *Engine) locationKey(fp *Fingerprint) string {
	switch {
	case fp.Coordinates != nil:
		return "geo:" + geoCell(*fp.Coordinates, e.cfg.Performance.LocationBucketPrecision)
	case fp.Address != "":
		return "addr:" + strconv.FormatUint(xxhash.Sum64String(fp.Address+"|"+fp.City), 16)
	case fp.City != "":
		return "city:" + fp.City
	default:
		return ""
	}
}

func geoCell(c model.Coordinates, precision int) string {
	y, x := cellIndex(c, precision)
	return cellKey(precision, y, x)
}

// cellIndex places c on a grid of 10^-precision degree cells.
func cellIndex(c model.Coordinates, precision int) (y, x int64) {
	size := math.Pow10(-precision)
	return int64(math.Floor(c.Lat / size)), int64(math.Floor(c.Lon / size))
}

func cellKey(precision int, y, x int64) string {
	return strconv.Itoa(precision) + ":" + strconv.FormatInt(y, 10) + "," + strconv.FormatInt(x, 10)
}

// geoNeighbourhood returns the cell of c and the eight cells around it, so
// points on either side of a cell edge share a key.
func geoNeighbourhood(c model.Coordinates, precision int) []string {
	y, x := cellIndex(c, precision)
	out := make([]string, 0, 9)
	for dy := int64(-1); dy <= 1; dy++ {
		for dx := int64(-1); dx <= 1; dx++ {
			out = append(out, "geo:"+cellKey(precision, y+dy, x+dx))
		}
	}
	return out
}

// blockingKeys returns the buckets a fingerprint is compared within.
func (e *Engine) blockingKeys(fp *Fingerprint) []string {
	return e.blockKeys(fp.Coordinates, fp.City, fp.VenueSlug, fp.DateKey)
}

// blockKeys takes already folded city and venue slug values. Events without
// any location share a bucket per local date.
func (e *Engine) blockKeys(coords *model.Coordinates, city, venueSlug, date string) []string {
	keys := make([]string, 0, 11)
	if coords != nil {
		keys = append(keys, geoNeighbourhood(*coords, e.cfg.Performance.LocationBucketPrecision)...)
	}
	if city != "" {
		keys = append(keys, "city:"+city)
	}
	if venueSlug != "" {
		keys = append(keys, "venue:"+venueSlug)
	}
	if len(keys) == 0 {
		keys = append(keys, "date:"+date)
	}
	return keys
}

// qualityScore rates how trustworthy a record is, in [0,1].
func qualityScore(completeness float64, verified, official bool) float64 {
	q := 0.6 * completeness
	if verified {
		q += 0.2
	}
	if official {
		q += 0.2
	}
	return q
}
