// Package heightmap transforms elevation grids into normalized, fixed-size
// heightmaps: normalization, bicubic resampling, elevation rescaling and
// radial edge dropoff.
//
// Every transformation returns a new Grid; inputs are never mutated.
package heightmap

import (
	"errors"
	"fmt"
	"math"
)

// Grid errors.
var (
	ErrEmptyGrid     = errors.New("empty grid")
	ErrShapeMismatch = errors.New("grid data does not match dimensions")
)

// Grid is a row-major matrix of elevation samples.
type Grid struct {
	Width  int
	Height int
	Data   []float32

	// SourceResolution is the ground size of one source pixel in meters (0 if unknown).
	SourceResolution float64
	// Footprint is the physical edge length in meters once the grid has been rescaled.
	Footprint float64
}

// New creates a zero-filled grid.
func New(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, width, height)
	}
	return &Grid{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}, nil
}

// FromData wraps data as a width x height grid. The slice is copied.
func FromData(width, height int, data []float32) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: %dx%d needs %d samples, got %d", ErrShapeMismatch, width, height, width*height, len(data))
	}
	g := &Grid{Width: width, Height: height, Data: make([]float32, len(data))}
	copy(g.Data, data)
	return g, nil
}

// FromRows builds a grid from a slice of equally long rows.
func FromRows(rows [][]float32) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyGrid
	}
	width := len(rows[0])
	g := &Grid{Width: width, Height: len(rows), Data: make([]float32, 0, width*len(rows))}
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d samples, want %d", ErrShapeMismatch, y, len(row), width)
		}
		g.Data = append(g.Data, row...)
	}
	return g, nil
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Data = make([]float32, len(g.Data))
	copy(c.Data, g.Data)
	return &c
}

// like returns a zero grid with the same shape and provenance.
func (g *Grid) like() *Grid {
	c := *g
	c.Data = make([]float32, len(g.Data))
	return &c
}

// validate checks that the grid is non-empty and consistent.
func (g *Grid) validate() error {
	if g == nil || g.Width <= 0 || g.Height <= 0 {
		return ErrEmptyGrid
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: %dx%d with %d samples", ErrShapeMismatch, g.Width, g.Height, len(g.Data))
	}
	return nil
}

// At returns the sample at column x, row y.
func (g *Grid) At(x, y int) float32 {
	return g.Data[y*g.Width+x]
}

// Set stores v at column x, row y.
func (g *Grid) Set(x, y int, v float32) {
	g.Data[y*g.Width+x] = v
}

// IsSquare reports whether width equals height.
func (g *Grid) IsSquare() bool {
	return g.Width == g.Height
}

// Range returns the minimum and maximum over all finite samples.
// ok is false when the grid holds no finite sample.
func (g *Grid) Range() (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return min, max, true
}

// FillNonFinite returns a copy where NaN and ±Inf samples are replaced by v.
// The second result is the number of replaced samples.
func (g *Grid) FillNonFinite(v float32) (*Grid, int) {
	out := g.Clone()
	filled := 0
	for i, s := range out.Data {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			out.Data[i] = v
			filled++
		}
	}
	return out, filled
}

// HasNonFinite reports whether any sample is NaN or infinite.
func (g *Grid) HasNonFinite() bool {
	for _, s := range g.Data {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
