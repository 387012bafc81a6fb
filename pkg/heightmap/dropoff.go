package heightmap

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDropoff is returned for out-of-range dropoff parameters.
var ErrInvalidDropoff = errors.New("invalid dropoff")

// DropoffMode selects the edge attenuation curve.
type DropoffMode string

// Dropoff modes.
const (
	DropoffNone   DropoffMode = "none"   // No attenuation
	DropoffEase   DropoffMode = "ease"   // Cubic ease-in-out between inner radius and edge
	DropoffLinear DropoffMode = "linear" // Linear ramp between fixed pixel distances
)

// Default linear thresholds in pixels.
const (
	DefaultLinearInner = 50
	DefaultLinearOuter = 100
)

// Dropoff attenuates samples by their distance from the grid center.
type Dropoff struct {
	Mode DropoffMode
	// Factor is the fraction of the radius, measured inwards from the edge,
	// over which the ease curve fades to zero. Must be in (0, 1].
	Factor float64
	// LinearInner and LinearOuter are the pixel distances where the linear
	// ramp starts and reaches zero.
	LinearInner float64
	LinearOuter float64
}

// Validate checks the parameters for the selected mode.
func (d Dropoff) Validate() error {
	switch d.Mode {
	case DropoffNone, "":
		return nil
	case DropoffEase:
		if !(d.Factor > 0 && d.Factor <= 1) {
			return fmt.Errorf("%w: factor %v not in (0, 1]", ErrInvalidDropoff, d.Factor)
		}
		return nil
	case DropoffLinear:
		if d.LinearInner < 0 || !(d.LinearOuter > d.LinearInner) {
			return fmt.Errorf("%w: linear thresholds %v..%v", ErrInvalidDropoff, d.LinearInner, d.LinearOuter)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidDropoff, d.Mode)
	}
}

// Weight returns the attenuation for a sample at distance dist from the
// center of a grid whose inscribed radius is radius.
func (d Dropoff) Weight(dist, radius float64) float64 {
	switch d.Mode {
	case DropoffEase:
		return EaseWeight(dist, radius, d.Factor)
	case DropoffLinear:
		return linearWeight(dist, d.LinearInner, d.LinearOuter)
	default:
		return 1
	}
}

// Apply returns a copy of g with every sample multiplied by its weight.
func (d Dropoff) Apply(g *Grid) (*Grid, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	cx := float64(g.Width-1) / 2
	cy := float64(g.Height-1) / 2
	radius := math.Min(cx, cy)

	out := g.like()
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)
			i := y*g.Width + x
			out.Data[i] = float32(float64(g.Data[i]) * d.Weight(dist, radius))
		}
	}
	return out, nil
}

// ApplyDropoff applies the cubic ease dropoff with the given factor.
func ApplyDropoff(g *Grid, factor float64) (*Grid, error) {
	return Dropoff{Mode: DropoffEase, Factor: factor}.Apply(g)
}

// EaseWeight is 1 inside radius - factor*radius, 0 at or beyond radius, and
// follows a cubic ease-in-out from 1 to 0 in between.
func EaseWeight(dist, radius, factor float64) float64 {
	inner := radius - factor*radius
	if dist <= inner {
		return 1
	}
	if dist >= radius {
		return 0
	}
	return easeInOutCubic(dist-inner, 1, -1, radius-inner)
}

// easeInOutCubic eases from start to start+change as t runs over [0, duration].
func easeInOutCubic(t, start, change, duration float64) float64 {
	t /= duration / 2
	if t < 1 {
		return change/2*t*t*t + start
	}
	t -= 2
	return change/2*(t*t*t+2) + start
}

func linearWeight(dist, inner, outer float64) float64 {
	if dist <= inner {
		return 1
	}
	if dist >= outer {
		return 0
	}
	return 1 - (dist-inner)/(outer-inner)
}
