//go:build ignore

// This program generates a sample DEM for trying the transform command.
// Run with: go run generate_geotiff.go
package main

import (
	"math"

	"github.com/Faultbox/heightmapgen/pkg/formats"
)

func main() {
	// 120x120 WGS84 raster around the Matterhorn, 1 arc-second pixels
	const size = 120
	const step = 1.0 / 3600
	lat, lon := 45.9763, 7.6586

	img := &formats.GeoTIFF{
		Width:  size,
		Height: size,
		EPSG:   formats.EPSGWGS84,
		Transform: formats.GeoTransform{
			OriginX:     lon - step*size/2,
			OriginY:     lat + step*size/2,
			PixelWidth:  step,
			PixelHeight: -step,
		},
		NoData:    -32768,
		HasNoData: true,
		Data:      make([]float32, size*size),
	}

	// A cone with a ridge, plus one no-data corner
	c := float64(size-1) / 2
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			d := math.Hypot(float64(col)-c, float64(row)-c) / c
			h := 4478 - 2200*d + 150*math.Sin(float64(col)/7)
			img.Data[row*size+col] = float32(h)
		}
	}
	img.Data[0] = -32768

	if err := formats.WriteGeoTIFFFile("sample_dem.tif", img); err != nil {
		panic(err)
	}

	println("Generated sample_dem.tif:", size, "x", size, "float32")
	println("  - centered on", lat, lon)
	println("  - 1 no-data sample at the top-left corner")
}
