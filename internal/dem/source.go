// Package dem obtains raw elevation rasters for sites and reprojects them
// into Web Mercator.
package dem

import (
	"context"
	"errors"
	"fmt"

	"github.com/Faultbox/heightmapgen/pkg/geo"
)

// DEM source errors.
var (
	ErrNotFound      = errors.New("DEM not found")
	ErrMissingAPIKey = errors.New("missing API key")
	ErrAntimeridian  = errors.New("bounding box crosses the antimeridian")
	ErrService       = errors.New("DEM service error")
)

// Request identifies the raster a site needs.
type Request struct {
	ID  string
	Box geo.BoundingBox
}

// Source returns a GeoTIFF-encoded DEM covering a request.
// Sources that do not hold the raster return an error wrapping ErrNotFound.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// ServiceError is a non-successful response from a remote DEM service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("DEM service: %s", e.Message)
	}
	return fmt.Sprintf("DEM service returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match ErrService.
func (e *ServiceError) Unwrap() error { return ErrService }

// isTIFF reports whether data starts with a classic or big TIFF header.
func isTIFF(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	h := string(data[:4])
	return h == "II*\x00" || h == "MM\x00*" || h == "II+\x00" || h == "MM\x00+"
}
