package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/heightmapgen/pkg/formats"
	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// TransformOptions parameterize the transform stage.
type TransformOptions struct {
	Size           int     // Output edge length in pixels
	PhysicalSize   float64 // Footprint edge in meters
	ClampOvershoot bool
	Dropoff        heightmap.Dropoff
}

// TransformResult is the output of Transform.
type TransformResult struct {
	Grid     *heightmap.Grid
	Payload  string // Transport encoding of Grid
	Warnings []error
	Filled   int // No-data samples replaced before resizing
	Timings  map[Stage]time.Duration
}

// Transform turns an elevation grid into an encoded heightmap:
// fill no-data, resize (normalize, resample, denormalize), rescale, dropoff
// and encode. Each stage recomputes its own range. The input is not modified.
//
// A flat input is not an error: the result is all zeros and
// heightmap.ErrDegenerateRange is reported in Warnings.
func Transform(g *heightmap.Grid, opts TransformOptions) (*TransformResult, error) {
	if opts.Size <= 0 {
		return nil, stageError(StageResize, fmt.Errorf("%w: %d", heightmap.ErrInvalidTargetSize, opts.Size))
	}
	if !(opts.PhysicalSize > 0) {
		return nil, stageError(StageRescale, fmt.Errorf("%w: %v", heightmap.ErrInvalidPhysicalSize, opts.PhysicalSize))
	}
	if err := opts.Dropoff.Validate(); err != nil {
		return nil, stageError(StageDropoff, err)
	}

	res := &TransformResult{Timings: make(map[Stage]time.Duration)}
	timed := func(stage Stage, fn func() error) error {
		start := time.Now()
		err := fn()
		res.Timings[stage] = time.Since(start)
		return stageError(stage, err)
	}

	var (
		cur = g
		err error
	)

	err = timed(StagePrepare, func() error {
		if g == nil || g.Width <= 0 || g.Height <= 0 {
			return heightmap.ErrEmptyGrid
		}
		if len(g.Data) != g.Width*g.Height {
			return fmt.Errorf("%w: %dx%d with %d samples", heightmap.ErrShapeMismatch, g.Width, g.Height, len(g.Data))
		}
		if !g.HasNonFinite() {
			return nil
		}
		fill := float32(0)
		if min, _, ok := g.Range(); ok {
			fill = float32(min)
		}
		cur, res.Filled = g.FillNonFinite(fill)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if min, max, ok := cur.Range(); !ok || !(max > min) {
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: min = max = %g", heightmap.ErrDegenerateRange, min))
	}

	err = timed(StageResize, func() error {
		cur, err = heightmap.Resampler{ClampOvershoot: opts.ClampOvershoot}.Resize(cur, opts.Size, opts.Size)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = timed(StageRescale, func() error {
		cur, err = heightmap.Rescale(cur, opts.PhysicalSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	if mode := opts.Dropoff.Mode; mode != "" && mode != heightmap.DropoffNone {
		err = timed(StageDropoff, func() error {
			cur, err = opts.Dropoff.Apply(cur)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	_ = timed(StageEncode, func() error {
		res.Payload = formats.EncodeTransport(cur)
		return nil
	})

	res.Grid = cur
	return res, nil
}

// IsDegenerate reports whether a warning marks flat input.
func IsDegenerate(warn error) bool {
	return errors.Is(warn, heightmap.ErrDegenerateRange)
}
