package pipeline

import (
	"path/filepath"

	"github.com/Faultbox/heightmapgen/internal/config"
	"github.com/Faultbox/heightmapgen/internal/dem"
	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
)

// Artifacts are the files produced for one site.
type Artifacts struct {
	RawDEM    string `json:"raw_dem,omitempty"`
	DEM       string `json:"dem,omitempty"`
	Heightmap string `json:"heightmap,omitempty"`
}

// Site is a location being processed. The JSON form is the record written
// to the aggregated data file.
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Coords    geo.Point `json:"coords"`
	Radius    float64   `json:"radius"`
	Elevation float64   `json:"elevation,omitempty"`
	Heightmap string    `json:"heightmap"` // base64 little-endian float32

	Box       geo.BoundingBox `json:"-"`
	Artifacts Artifacts       `json:"-"`
}

// FromSpec creates a site from a site list entry.
func FromSpec(spec config.SiteSpec) *Site {
	id := spec.ID
	if id == "" {
		id = spec.Name
	}
	return &Site{
		ID:        id,
		Name:      spec.Name,
		Coords:    spec.Coords,
		Radius:    spec.Radius,
		Elevation: spec.Elevation,
	}
}

// Request returns the DEM request covering the site.
func (s *Site) Request() dem.Request {
	return dem.Request{ID: s.ID, Box: s.Box}
}

// assignArtifacts fills in the artifact paths under the output directories.
func (s *Site) assignArtifacts(out config.OutputConfig, visual formats.VisualOptions) {
	stem := dem.FileStem(s.ID)
	s.Artifacts = Artifacts{
		RawDEM:    filepath.Join(out.RawDEMDir(), stem+".tif"),
		DEM:       filepath.Join(out.DEMDir(), stem+".tif"),
		Heightmap: filepath.Join(out.HeightmapDir(), stem+visual.Extension()),
	}
}
