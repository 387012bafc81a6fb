package heightmap

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPhysicalSize is returned when a footprint is not a positive finite length
// or would amplify elevations beyond the float32 range.
var ErrInvalidPhysicalSize = errors.New("invalid physical size")

// Rescale converts g into elevation units tied to its pixel density over a
// physical footprint of physicalSize meters per edge:
//
//	out = (max - min) * (edgePixels / physicalSize) * normalize(g)
//
// Vertical exaggeration deliberately follows horizontal pixel density, so a
// smaller footprint at the same resolution yields taller terrain. The range is
// recomputed from g itself.
func Rescale(g *Grid, physicalSize float64) (*Grid, error) {
	if !(physicalSize > 0) || math.IsInf(physicalSize, 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhysicalSize, physicalSize)
	}

	norm, err := Normalize(g)
	if err != nil {
		return nil, err
	}

	pixelsPerMeter := float64(g.Height) / physicalSize
	factor := (norm.Max - norm.Min) * pixelsPerMeter
	if norm.Degenerate() {
		factor = 0
	}
	if math.IsInf(factor, 0) || math.IsNaN(factor) || factor > math.MaxFloat32 {
		return nil, fmt.Errorf("%w: %v m amplifies range %g beyond float32", ErrInvalidPhysicalSize, physicalSize, norm.Max-norm.Min)
	}

	out := norm.Grid.like()
	out.Footprint = physicalSize
	for i, n := range norm.Grid.Data {
		out.Data[i] = float32(factor * float64(n))
	}
	return out, nil
}
