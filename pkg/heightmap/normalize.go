package heightmap

import (
	"errors"
	"fmt"
)

// ErrDegenerateRange marks a grid whose finite samples are all equal.
// It is a warning: Normalize still succeeds and yields an all-zero grid.
var ErrDegenerateRange = errors.New("degenerate elevation range")

// Normalized is a grid remapped to [0, 1] together with the range it came from.
// Min and Max are required to reconstruct absolute elevations.
type Normalized struct {
	Grid *Grid
	Min  float64
	Max  float64
}

// Degenerate reports whether the source range was flat.
func (n Normalized) Degenerate() bool {
	return !(n.Max > n.Min)
}

// Warning returns ErrDegenerateRange for a flat source, nil otherwise.
func (n Normalized) Warning() error {
	if n.Degenerate() {
		return fmt.Errorf("%w: min = max = %g", ErrDegenerateRange, n.Min)
	}
	return nil
}

// Denormalize maps the normalized grid back to absolute elevations.
func (n Normalized) Denormalize() (*Grid, error) {
	return Denormalize(n.Grid, n.Min, n.Max)
}

// Normalize maps each sample v to (v - min) / (max - min), where min and max
// are taken over the finite samples. A flat grid yields all zeros.
func Normalize(g *Grid) (Normalized, error) {
	if err := g.validate(); err != nil {
		return Normalized{}, err
	}

	out := g.like()
	min, max, ok := g.Range()
	if !ok || !(max > min) {
		return Normalized{Grid: out, Min: min, Max: max}, nil
	}

	span := max - min
	for i, v := range g.Data {
		out.Data[i] = float32((float64(v) - min) / span)
	}
	return Normalized{Grid: out, Min: min, Max: max}, nil
}

// Denormalize is the inverse of Normalize: v = min + (max - min) * n.
func Denormalize(g *Grid, min, max float64) (*Grid, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	out := g.like()
	span := max - min
	for i, n := range g.Data {
		out.Data[i] = float32(min + span*float64(n))
	}
	return out, nil
}
