package heightmap

import "math"

// SampleBicubic interpolates g at fractional pixel coordinates, where
// (i, j) is the center of sample column i, row j. Neighbours outside the grid
// are clamped to the edge. If any of the 16 neighbours is not finite the
// nearest sample is returned instead.
func (g *Grid) SampleBicubic(fx, fy float64) float64 {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := fx - float64(x0)
	ty := fy - float64(y0)

	var wx, wy [4]float64
	for k := 0; k < 4; k++ {
		wx[k] = CubicWeight(tx - float64(k-1))
		wy[k] = CubicWeight(ty - float64(k-1))
	}

	var sum float64
	for j := 0; j < 4; j++ {
		yy := clampInt(y0+j-1, 0, g.Height-1)
		var row float64
		for i := 0; i < 4; i++ {
			xx := clampInt(x0+i-1, 0, g.Width-1)
			v := float64(g.Data[yy*g.Width+xx])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return g.sampleNearest(fx, fy)
			}
			row += wx[i] * v
		}
		sum += wy[j] * row
	}
	return sum
}

func (g *Grid) sampleNearest(fx, fy float64) float64 {
	x := clampInt(int(math.Round(fx)), 0, g.Width-1)
	y := clampInt(int(math.Round(fy)), 0, g.Height-1)
	return float64(g.Data[y*g.Width+x])
}

// HeightAt returns the bilinearly interpolated height at x, z in [-1, 1]
// (x along columns, z along rows), scaled by 2/(size-1) so that a square
// heightmap maps onto a unit-width terrain patch.
func (g *Grid) HeightAt(x, z float64) float64 {
	col := (clamp(x, -1, 1) + 1) / 2 * float64(g.Width-1)
	row := (clamp(z, -1, 1) + 1) / 2 * float64(g.Height-1)

	left := int(math.Floor(col))
	right := int(math.Ceil(col))
	top := int(math.Floor(row))
	bottom := int(math.Ceil(row))

	fracX := col - float64(left)
	fracZ := row - float64(top)

	tl := float64(g.At(left, top))
	tr := float64(g.At(right, top))
	bl := float64(g.At(left, bottom))
	br := float64(g.At(right, bottom))

	t := tl*(1-fracX) + tr*fracX
	b := bl*(1-fracX) + br*fracX
	height := t*(1-fracZ) + b*fracZ

	if g.Width <= 1 {
		return height
	}
	return height * 2 / float64(g.Width-1)
}
