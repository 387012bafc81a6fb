package geo

import (
	"fmt"
	"math"
)

// BoundingBox is a geodetic box in degrees.
// When East < West the box crosses the antimeridian.
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// String returns "N.. S.. E.. W..".
func (b BoundingBox) String() string {
	return fmt.Sprintf("N%.6f S%.6f E%.6f W%.6f", b.North, b.South, b.East, b.West)
}

// CrossesAntimeridian reports whether the box wraps past longitude ±180.
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.East < b.West
}

// Contains reports whether p lies inside the box, honouring antimeridian wrap.
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat < b.South || p.Lat > b.North {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Lon >= b.West || p.Lon <= b.East
	}
	return p.Lon >= b.West && p.Lon <= b.East
}

// Span returns the latitude and longitude extent in degrees.
func (b BoundingBox) Span() (lat, lon float64) {
	lon = b.East - b.West
	if lon < 0 {
		lon += 360
	}
	return b.North - b.South, lon
}

// BoundingBoxAround derives the box enclosing a circle of radius meters around
// center, using great-circle destination points at bearings 0, 90, 180 and 270.
func BoundingBoxAround(center Point, radius float64) (BoundingBox, error) {
	if err := center.Validate(); err != nil {
		return BoundingBox{}, err
	}
	if !(radius > 0) || math.IsInf(radius, 1) {
		return BoundingBox{}, fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}

	// Travelling north or south along a meridian moves latitude by exactly
	// the angular distance; reaching ±90 means the box would fold over a pole.
	angularDeg := radius / EarthRadiusMeters * 180 / math.Pi
	if center.Lat+angularDeg >= 90 || center.Lat-angularDeg <= -90 {
		return BoundingBox{}, fmt.Errorf("%w: center %v radius %.1fm", ErrPoleSingularity, center, radius)
	}

	box := BoundingBox{
		North: Destination(center, 0, radius).Lat,
		East:  Destination(center, 90, radius).Lon,
		South: Destination(center, 180, radius).Lat,
		West:  Destination(center, 270, radius).Lon,
	}
	if !(box.North > box.South) {
		return BoundingBox{}, fmt.Errorf("%w: degenerate box %v", ErrInvalidRadius, box)
	}
	return box, nil
}
