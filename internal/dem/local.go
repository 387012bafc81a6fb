package dem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/geo"
)

// LocalSourceName is the name reported by LocalSource.
const LocalSourceName = "local"

// LocalSource serves previously downloaded rasters stored as <dir>/<stem>.tif,
// where stem is FileStem of the site id.
type LocalSource struct {
	dir string
}

// NewLocalSource creates a source reading from dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{dir: dir}
}

// Name implements Source.
func (l *LocalSource) Name() string { return LocalSourceName }

// Path returns the file a request maps to.
func (l *LocalSource) Path(id string) string {
	return filepath.Join(l.dir, FileStem(id)+".tif")
}

// FileStem turns a site id into a safe file name without extension.
// Path separators, spaces and other shell-unfriendly characters become '_'.
func FileStem(id string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case r > 127:
			return r
		default:
			return '_'
		}
	}, id)
	if stem == "" || strings.Trim(stem, ".") == "" {
		return "_"
	}
	return stem
}

// Fetch implements Source. A stored raster is only reused when it is a WGS84
// GeoTIFF spanning req.Box; anything else reports ErrNotFound so the next
// source downloads a fresh copy.
func (l *LocalSource) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path(req.ID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !isTIFF(data) {
		// A previous failed download left a non-raster file behind.
		return nil, fmt.Errorf("%w: %s is not a GeoTIFF", ErrNotFound, path)
	}
	img, err := formats.ParseGeoTIFF(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	if !spans(img, req.Box) {
		return nil, fmt.Errorf("%w: %s covers a different area than %s", ErrNotFound, path, req.Box)
	}
	return data, nil
}

// spans reports whether a geographic raster has the extent of box, allowing
// one pixel of slack on each edge for the service snapping the request to its
// own grid. A larger raster does not qualify since nothing downstream crops.
func spans(img *formats.GeoTIFF, box geo.BoundingBox) bool {
	if img.EPSG != 0 && img.EPSG != formats.EPSGWGS84 {
		return false
	}
	if box.CrossesAntimeridian() || box.North <= box.South || box.East <= box.West {
		return false
	}
	t := img.Transform
	slack := math.Max(math.Abs(t.PixelWidth), math.Abs(t.PixelHeight))
	west, south, east, north := t.Bounds(img.Width, img.Height)
	near := func(a, b float64) bool { return math.Abs(a-b) <= slack }
	return near(west, box.West) && near(east, box.East) &&
		near(south, box.South) && near(north, box.North)
}
