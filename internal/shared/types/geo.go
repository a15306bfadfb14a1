package types

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that the point is a finite coordinate within range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("coordinates must be finite")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// DistanceKm returns the haversine distance between p and q in kilometres.
func (p Point) DistanceKm(q Point) float64 {
	lat1 := radians(p.Lat)
	lat2 := radians(q.Lat)
	dLat := radians(q.Lat - p.Lat)
	dLng := radians(q.Lng - p.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Location is a human-readable address with optional coordinates.
type Location struct {
	Address string `json:"address,omitempty"`
	Point   *Point `json:"point,omitempty"`
}

// HasPoint reports whether the location carries coordinates.
func (l *Location) HasPoint() bool {
	return l != nil && l.Point != nil
}

// Columns flattens the location into nullable storage columns.
func (l *Location) Columns() (address string, lat, lng *float64) {
	if l == nil {
		return "", nil, nil
	}
	if l.Point == nil {
		return l.Address, nil, nil
	}
	la, ln := l.Point.Lat, l.Point.Lng
	return l.Address, &la, &ln
}

// LocationFromColumns is the inverse of Columns. It returns nil when there
// is neither an address nor coordinates.
func LocationFromColumns(address string, lat, lng *float64) *Location {
	if address == "" && (lat == nil || lng == nil) {
		return nil
	}
	loc := &Location{Address: address}
	if lat != nil && lng != nil {
		loc.Point = &Point{Lat: *lat, Lng: *lng}
	}
	return loc
}
