package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/heightmapgen/pkg/geo"
)

// ErrInvalidSite is returned for malformed site list entries.
var ErrInvalidSite = errors.New("invalid site")

// SiteSpec is one entry of the site list.
type SiteSpec struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string    `json:"name" yaml:"name"`
	Coords    geo.Point `json:"coords" yaml:"coords"`
	Radius    float64   `json:"radius" yaml:"radius"`                           // Meters
	Elevation float64   `json:"elevation,omitempty" yaml:"elevation,omitempty"` // Summit elevation, passed through
}

// LoadSites reads a site list. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON. Entries are validated and ids filled in.
func LoadSites(path string) ([]SiteSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading site list: %w", err)
	}

	var sites []SiteSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &sites)
	default:
		err = json.Unmarshal(data, &sites)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing site list %s: %w", path, err)
	}

	if err := PrepareSites(sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// PrepareSites defaults missing ids to the site name and validates every
// entry. All problems are reported together.
func PrepareSites(sites []SiteSpec) error {
	var errs error
	seen := make(map[string]int, len(sites))

	for i := range sites {
		s := &sites[i]
		if s.ID == "" {
			s.ID = s.Name
		}
		if s.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: entry %d has neither id nor name", ErrInvalidSite, i))
			continue
		}
		if j, dup := seen[s.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: duplicate id %q (entries %d and %d)", ErrInvalidSite, s.ID, j, i))
		}
		seen[s.ID] = i

		if err := s.Coords.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidSite, s.ID, err))
		}
		if !(s.Radius > 0) || math.IsInf(s.Radius, 0) {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: radius %v: %w", ErrInvalidSite, s.ID, s.Radius, geo.ErrInvalidRadius))
		}
	}
	return errs
}
