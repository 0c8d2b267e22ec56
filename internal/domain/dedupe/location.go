package dedupe

import (
	"math"

	"github.com/okian/gather/internal/domain/model"
)

const (
	earthRadiusKm = 6371.0
	// exactRadiusKm is the distance under which two same-named venues are one place.
	exactRadiusKm = 0.1
)

// Scores per location match type.
const (
	scoreExact          = 1.0
	scoreVenueName      = 0.9
	scoreCoordinatesMax = 0.8
	scoreCoordinatesMin = 0.6
	scoreAddress        = 0.7
	scoreCity           = 0.4
)

// locationScore returns the strongest applicable location match allowed by
// the configured variant.
func (e *Engine) locationScore(a, b *Fingerprint) (model.LocationMatch, float64) {
	variant := e.cfg.Algorithms.LocationMatching
	radius := e.cfg.Algorithms.CoordinateRadiusKm

	sameVenue := a.Venue != "" && a.Venue == b.Venue
	sameAddress := a.Address != "" && a.Address == b.Address
	dist := math.Inf(1)
	if a.Coordinates != nil && b.Coordinates != nil {
		dist = haversineKm(*a.Coordinates, *b.Coordinates)
	}

	if variant == LocationHierarchy {
		if sameVenue && (sameAddress || dist <= exactRadiusKm) {
			return model.LocationExact, scoreExact
		}
		if sameVenue {
			return model.LocationVenueName, scoreVenueName
		}
	}
	if variant != LocationAddress && dist <= radius {
		return model.LocationCoordinates, scoreCoordinatesMax - (scoreCoordinatesMax-scoreCoordinatesMin)*(dist/radius)
	}
	if variant != LocationCoordinates && sameAddress {
		return model.LocationAddress, scoreAddress
	}
	if a.City != "" && a.City == b.City {
		return model.LocationCity, scoreCity
	}
	return model.LocationNone, 0
}

// haversineKm is the great-circle distance between two points.
func haversineKm(a, b model.Coordinates) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
