// Package geo provides geodetic points and bounding boxes on a spherical Earth.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"gopkg.in/yaml.v3"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

// Geo errors.
var (
	ErrInvalidRadius      = errors.New("radius must be positive")
	ErrPoleSingularity    = errors.New("bounding box crosses a pole")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Point is a WGS84 position in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// String returns "lat,lon" with six decimals.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Validate checks that latitude is in [-90, 90] and longitude in [-180, 180].
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidCoordinates, p)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of [-90, 90]", ErrInvalidCoordinates, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of [-180, 180]", ErrInvalidCoordinates, p.Lon)
	}
	return nil
}

// LatLng converts the point to an s2.LatLng.
func (p Point) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// MarshalJSON encodes the point as [lat, lon].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

// UnmarshalJSON accepts either [lat, lon] or {"lat": .., "lon": ..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		return p.fromPair(pair)
	}
	var obj struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinates, string(data))
	}
	if obj.Lat == nil || obj.Lon == nil {
		return fmt.Errorf("%w: lat and lon are required", ErrInvalidCoordinates)
	}
	p.Lat, p.Lon = *obj.Lat, *obj.Lon
	return nil
}

// MarshalYAML encodes the point as a [lat, lon] flow sequence.
func (p Point) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range []float64{p.Lat, p.Lon} {
		node.Content = append(node.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Value: fmt.Sprintf("%g", v),
		})
	}
	return node, nil
}

// UnmarshalYAML accepts either [lat, lon] or a mapping with lat/lon keys.
func (p *Point) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
		}
		return p.fromPair(pair)
	case yaml.MappingNode:
		var obj struct {
			Lat *float64 `yaml:"lat"`
			Lon *float64 `yaml:"lon"`
		}
		if err := node.Decode(&obj); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
		}
		if obj.Lat == nil || obj.Lon == nil {
			return fmt.Errorf("%w: lat and lon are required", ErrInvalidCoordinates)
		}
		p.Lat, p.Lon = *obj.Lat, *obj.Lon
		return nil
	default:
		return fmt.Errorf("%w: line %d", ErrInvalidCoordinates, node.Line)
	}
}

func (p *Point) fromPair(pair []float64) error {
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected [lat, lon], got %d values", ErrInvalidCoordinates, len(pair))
	}
	p.Lat, p.Lon = pair[0], pair[1]
	return nil
}

// Destination returns the point reached by travelling distance meters from
// origin along the initial bearing (degrees clockwise from north) on a great circle.
// Longitude of the result is wrapped into [-180, 180].
func Destination(origin Point, bearing, distance float64) Point {
	ll := origin.LatLng()
	bearingRad := bearing * math.Pi / 180
	angular := distance / EarthRadiusMeters

	lat1 := ll.Lat.Radians()
	lon1 := ll.Lng.Radians()

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearingRad))
	lon2 := lon1 + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2))

	dst := s2.LatLngFromDegrees(lat2*180/math.Pi, lon2*180/math.Pi).Normalized()
	return Point{Lat: dst.Lat.Degrees(), Lon: dst.Lng.Degrees()}
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	return a.LatLng().Distance(b.LatLng()).Radians() * EarthRadiusMeters
}
