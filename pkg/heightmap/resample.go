package heightmap

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTargetSize is returned when a resize target is not positive.
var ErrInvalidTargetSize = errors.New("target size must be positive")

// cubicA is the Keys cubic convolution parameter used by common raster
// libraries for bicubic filtering.
const cubicA = -0.5

// cubicSupport is the kernel half-width in source pixels at scale 1.
const cubicSupport = 2.0

// CubicWeight evaluates the Keys cubic convolution kernel at x.
func CubicWeight(x float64) float64 {
	if x < 0 {
		x = -x
	}
	switch {
	case x < 1:
		return ((cubicA+2)*x-(cubicA+3))*x*x + 1
	case x < 2:
		return (((x-5)*x+8)*x - 4) * cubicA
	default:
		return 0
	}
}

// Resampler resizes grids with separable bicubic convolution. When
// downscaling, the kernel is widened by the scale factor so that every
// source sample contributes.
type Resampler struct {
	// ClampOvershoot limits interpolated values to the source range.
	// Without it, bicubic ringing may exceed the original min/max slightly.
	ClampOvershoot bool
}

// Resize resizes g to a size x size grid.
func Resize(g *Grid, size int) (*Grid, error) {
	return Resampler{}.Resize(g, size, size)
}

// Resize resamples g to width x height. The grid is normalized first and
// denormalized afterwards so that the source min/max anchor the result.
func (r Resampler) Resize(g *Grid, width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTargetSize, width, height)
	}

	norm, err := Normalize(g)
	if err != nil {
		return nil, err
	}

	out := &Grid{
		Width:            width,
		Height:           height,
		Data:             make([]float32, width*height),
		SourceResolution: scaledResolution(g, width),
		Footprint:        g.Footprint,
	}

	if !norm.Degenerate() {
		horiz := precomputeCoeffs(g.Width, width)
		vert := precomputeCoeffs(g.Height, height)

		// Horizontal pass: g.Height rows of the target width.
		tmp := make([]float64, width*g.Height)
		for y := 0; y < g.Height; y++ {
			row := norm.Grid.Data[y*g.Width : (y+1)*g.Width]
			for x := 0; x < width; x++ {
				var sum float64
				start := horiz.start[x]
				for k, w := range horiz.weights[x] {
					sum += w * float64(row[start+k])
				}
				tmp[y*width+x] = sum
			}
		}

		// Vertical pass.
		for y := 0; y < height; y++ {
			start := vert.start[y]
			ws := vert.weights[y]
			for x := 0; x < width; x++ {
				var sum float64
				for k, w := range ws {
					sum += w * tmp[(start+k)*width+x]
				}
				if r.ClampOvershoot {
					sum = clamp(sum, 0, 1)
				}
				out.Data[y*width+x] = float32(sum)
			}
		}
	}

	return Denormalize(out, norm.Min, norm.Max)
}

// coeffs holds per-output-pixel convolution windows.
type coeffs struct {
	start   []int
	weights [][]float64
}

// precomputeCoeffs builds normalized kernel windows mapping inSize samples
// onto outSize samples, with pixel centers aligned at (i + 0.5) * scale.
func precomputeCoeffs(inSize, outSize int) coeffs {
	scale := float64(inSize) / float64(outSize)
	filterScale := math.Max(scale, 1)
	support := cubicSupport * filterScale

	c := coeffs{
		start:   make([]int, outSize),
		weights: make([][]float64, outSize),
	}
	for xx := 0; xx < outSize; xx++ {
		center := (float64(xx) + 0.5) * scale
		xmin := int(center - support + 0.5)
		if xmin < 0 {
			xmin = 0
		}
		xmax := int(center + support + 0.5)
		if xmax > inSize {
			xmax = inSize
		}

		ws := make([]float64, xmax-xmin)
		var total float64
		for x := xmin; x < xmax; x++ {
			w := CubicWeight((float64(x) - center + 0.5) / filterScale)
			ws[x-xmin] = w
			total += w
		}
		if total != 0 {
			for i := range ws {
				ws[i] /= total
			}
		}
		c.start[xx] = xmin
		c.weights[xx] = ws
	}
	return c
}

func scaledResolution(g *Grid, width int) float64 {
	if g.SourceResolution == 0 {
		return 0
	}
	return g.SourceResolution * float64(g.Width) / float64(width)
}
