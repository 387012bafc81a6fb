package dem

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"
	"go.uber.org/zap"

	"github.com/Faultbox/heightmapgen/internal/logger"
	"github.com/Faultbox/heightmapgen/pkg/formats"
)

// ErrUnsupportedCRS is returned for EPSG codes without a known definition.
var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

// webMercatorProj is the spatial reference definition for web mapping.
const webMercatorProj = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

var knownCRS = map[int]string{
	formats.EPSGWGS84:       "+proj=longlat",
	formats.EPSGWebMercator: webMercatorProj,
	900913:                  webMercatorProj,
}

// edgeSamples is the number of points per source edge used to find the
// destination extent.
const edgeSamples = 20

// Transformer returns a coordinate transform between two EPSG codes.
// Geographic coordinates are in degrees (x = longitude).
func Transformer(srcEPSG, dstEPSG int) (proj.Transformer, error) {
	src, err := parseEPSG(srcEPSG)
	if err != nil {
		return nil, err
	}
	dst, err := parseEPSG(dstEPSG)
	if err != nil {
		return nil, err
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("creating transform %d -> %d: %w", srcEPSG, dstEPSG, err)
	}
	return t, nil
}

func parseEPSG(code int) (*proj.SR, error) {
	def, ok := knownCRS[code]
	if !ok {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parsing EPSG:%d: %w", code, err)
	}
	return sr, nil
}

// Warper reprojects rasters into a destination CRS with cubic resampling.
type Warper struct {
	dstEPSG int
	log     *zap.Logger
}

// NewWarper creates a warper targeting dstEPSG. A nil logger disables logging.
func NewWarper(dstEPSG int, log *zap.Logger) *Warper {
	return &Warper{dstEPSG: dstEPSG, log: logger.OrNop(log).Named("warp")}
}

// Reproject resamples src into the destination CRS. The output extent is the
// transformed source extent, and its square pixel size preserves the source
// pixel count along the diagonal. Pixels outside the source are NaN.
// A source without a CRS is treated as EPSG:4326.
func (w *Warper) Reproject(src *formats.GeoTIFF) (*formats.GeoTIFF, error) {
	srcEPSG := src.EPSG
	if srcEPSG == 0 {
		srcEPSG = formats.EPSGWGS84
	}
	grid, err := src.ToGrid()
	if err != nil {
		return nil, err
	}

	if srcEPSG == w.dstEPSG {
		out := *src
		out.Data = grid.Data
		out.NoData, out.HasNoData = math.NaN(), true
		return &out, nil
	}

	forward, err := Transformer(srcEPSG, w.dstEPSG)
	if err != nil {
		return nil, err
	}
	inverse, err := Transformer(w.dstEPSG, srcEPSG)
	if err != nil {
		return nil, err
	}

	minX, minY, maxX, maxY, err := transformedBounds(src, forward)
	if err != nil {
		return nil, err
	}

	diag := math.Hypot(maxX-minX, maxY-minY)
	res := diag / math.Hypot(float64(src.Width), float64(src.Height))
	width := max(1, int((maxX-minX)/res+0.5))
	height := max(1, int((maxY-minY)/res+0.5))

	out := &formats.GeoTIFF{
		Width:  width,
		Height: height,
		EPSG:   w.dstEPSG,
		Transform: formats.GeoTransform{
			OriginX:     minX,
			OriginY:     maxY,
			PixelWidth:  res,
			PixelHeight: -res,
		},
		NoData:    math.NaN(),
		HasNoData: true,
		Data:      make([]float32, width*height),
	}

	nan := float32(math.NaN())
	outside := 0
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := out.Transform.Model(float64(col), float64(row))
			sx, sy, err := inverse(x, y)
			if err != nil {
				out.Data[row*width+col] = nan
				outside++
				continue
			}
			fc, fr := src.Transform.Pixel(sx, sy)
			if fc < -0.5 || fr < -0.5 || fc > float64(src.Width)-0.5 || fr > float64(src.Height)-0.5 {
				out.Data[row*width+col] = nan
				outside++
				continue
			}
			out.Data[row*width+col] = float32(grid.SampleBicubic(fc, fr))
		}
	}

	w.log.Debug("reprojected",
		zap.Int("src_epsg", srcEPSG),
		zap.Int("dst_epsg", w.dstEPSG),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("resolution", res),
		zap.Int("outside", outside))
	return out, nil
}

// transformedBounds projects points along the source edges and returns their extent.
func transformedBounds(src *formats.GeoTIFF, forward proj.Transformer) (minX, minY, maxX, maxY float64, err error) {
	x0, y0, x1, y1 := src.Transform.Bounds(src.Width, src.Height)
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)

	add := func(x, y float64) {
		px, py, err := forward(x, y)
		if err != nil || math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
			return
		}
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}
	for i := 0; i <= edgeSamples; i++ {
		t := float64(i) / edgeSamples
		x := x0 + t*(x1-x0)
		y := y0 + t*(y1-y0)
		add(x, y0)
		add(x, y1)
		add(x0, y)
		add(x1, y)
	}

	if !(maxX > minX) || !(maxY > minY) {
		return 0, 0, 0, 0, fmt.Errorf("%w: source extent could not be transformed", ErrUnsupportedCRS)
	}
	return minX, minY, maxX, maxY, nil
}
