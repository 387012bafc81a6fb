package formats

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// Visual output errors.
var (
	ErrInvalidBitDepth        = errors.New("invalid bit depth")
	ErrUnsupportedImageFormat = errors.New("unsupported image format")
)

// Image formats for visual output.
const (
	ImagePNG = "png"
	ImageBMP = "bmp"
)

// VisualOptions selects the encoding of the visual heightmap.
type VisualOptions struct {
	Format   string // png or bmp
	BitDepth int    // 8 or 16; bmp supports 8 only
}

// DefaultVisualOptions returns 16-bit PNG output.
func DefaultVisualOptions() VisualOptions {
	return VisualOptions{Format: ImagePNG, BitDepth: 16}
}

// Validate checks the format and bit depth combination.
func (o VisualOptions) Validate() error {
	switch strings.ToLower(o.Format) {
	case ImagePNG, "":
		if o.BitDepth != 8 && o.BitDepth != 16 {
			return fmt.Errorf("%w: %d", ErrInvalidBitDepth, o.BitDepth)
		}
	case ImageBMP:
		if o.BitDepth != 8 {
			return fmt.Errorf("%w: bmp supports 8-bit only, got %d", ErrInvalidBitDepth, o.BitDepth)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedImageFormat, o.Format)
	}
	return nil
}

// Extension returns the file extension for the format, including the dot.
func (o VisualOptions) Extension() string {
	if strings.ToLower(o.Format) == ImageBMP {
		return ".bmp"
	}
	return ".png"
}

// VisualImage normalizes g to [0, 1] and quantizes it to a grayscale image.
// Non-finite samples are drawn black.
func VisualImage(g *heightmap.Grid, bitDepth int) (image.Image, error) {
	n, err := heightmap.Normalize(g)
	if err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, g.Width, g.Height)
	switch bitDepth {
	case 8:
		img := image.NewGray(rect)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(quantize(n.Grid.At(x, y), math.MaxUint8))})
			}
		}
		return img, nil
	case 16:
		img := image.NewGray16(rect)
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(quantize(n.Grid.At(x, y), math.MaxUint16))})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidBitDepth, bitDepth)
	}
}

// quantize maps a normalized sample onto [0, max], truncating toward zero so
// only an exact 1 reaches max.
func quantize(v float32, max float64) float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Floor(math.Max(0, math.Min(1, f)) * max)
}

// EncodeVisual writes the visual heightmap to w.
func EncodeVisual(w io.Writer, g *heightmap.Grid, opts VisualOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	img, err := VisualImage(g, opts.BitDepth)
	if err != nil {
		return err
	}
	if strings.ToLower(opts.Format) == ImageBMP {
		return bmp.Encode(w, img)
	}
	return png.Encode(w, img)
}

// WriteVisual writes the visual heightmap to path, creating parent directories.
func WriteVisual(g *heightmap.Grid, path string, opts VisualOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := EncodeVisual(file, g, opts); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", opts.Extension()[1:], err)
	}
	return file.Close()
}
