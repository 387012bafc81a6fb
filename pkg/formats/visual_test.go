package formats

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

func visualTestGrid(t *testing.T) *heightmap.Grid {
	t.Helper()
	g, err := heightmap.FromRows([][]float32{
		{100, 150},
		{200, 300},
	})
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	return g
}

func decodeImageFile(t *testing.T, path string, decode func(*os.File) (image.Image, error)) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	img, err := decode(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return img
}

func TestWriteVisual_PNG16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heightmaps", "site.png")
	if err := WriteVisual(visualTestGrid(t), path, DefaultVisualOptions()); err != nil {
		t.Fatalf("WriteVisual failed: %v", err)
	}

	img := decodeImageFile(t, path, func(f *os.File) (image.Image, error) { return png.Decode(f) })
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("expected 2x2 image, got %v", b)
	}

	expected := [][]uint16{{0, 16383}, {32767, 65535}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			got := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			want := expected[y][x]
			if int(got) < int(want)-1 || int(got) > int(want)+1 {
				t.Errorf("pixel (%d,%d): expected %d, got %d", x, y, want, got)
			}
		}
	}
}

func TestQuantizeTruncates(t *testing.T) {
	tests := []struct {
		v    float32
		max  float64
		want float64
	}{
		{0, math.MaxUint8, 0},
		{0.999, math.MaxUint8, 254},
		{0.5, math.MaxUint8, 127},
		{1, math.MaxUint8, 255},
		{0.5, math.MaxUint16, 32767},
		{1.5, math.MaxUint16, 65535},
		{-0.2, math.MaxUint16, 0},
		{float32(math.NaN()), math.MaxUint16, 0},
	}
	for _, tt := range tests {
		if got := quantize(tt.v, tt.max); got != tt.want {
			t.Errorf("quantize(%v, %v): expected %v, got %v", tt.v, tt.max, tt.want, got)
		}
	}
}

func TestWriteVisual_PNG8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.png")
	if err := WriteVisual(visualTestGrid(t), path, VisualOptions{Format: ImagePNG, BitDepth: 8}); err != nil {
		t.Fatalf("WriteVisual failed: %v", err)
	}

	img := decodeImageFile(t, path, func(f *os.File) (image.Image, error) { return png.Decode(f) })
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected 8-bit grayscale image, got %T", img)
	}
	if gray.GrayAt(0, 0).Y != 0 || gray.GrayAt(1, 1).Y != 255 {
		t.Errorf("expected 0 and 255 at the extremes, got %d and %d", gray.GrayAt(0, 0).Y, gray.GrayAt(1, 1).Y)
	}
}

func TestWriteVisual_BMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.bmp")
	opts := VisualOptions{Format: ImageBMP, BitDepth: 8}
	if opts.Extension() != ".bmp" {
		t.Errorf("expected .bmp extension, got %s", opts.Extension())
	}
	if err := WriteVisual(visualTestGrid(t), path, opts); err != nil {
		t.Fatalf("WriteVisual failed: %v", err)
	}

	img := decodeImageFile(t, path, func(f *os.File) (image.Image, error) { return bmp.Decode(f) })
	lo := color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y
	hi := color.GrayModel.Convert(img.At(1, 1)).(color.Gray).Y
	if lo != 0 || hi != 255 {
		t.Errorf("expected 0 and 255 at the extremes, got %d and %d", lo, hi)
	}
}

func TestVisualImage_FlatIsBlack(t *testing.T) {
	g, _ := heightmap.FromData(2, 2, []float32{7, 7, 7, 7})
	img, err := VisualImage(g, 16)
	if err != nil {
		t.Fatalf("VisualImage failed: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if v := img.(*image.Gray16).Gray16At(x, y).Y; v != 0 {
				t.Errorf("pixel (%d,%d): expected 0, got %d", x, y, v)
			}
		}
	}
}

func TestVisualOptions_Validate(t *testing.T) {
	tests := []struct {
		opts VisualOptions
		want error
	}{
		{VisualOptions{Format: ImagePNG, BitDepth: 8}, nil},
		{VisualOptions{Format: "PNG", BitDepth: 16}, nil},
		{VisualOptions{Format: ImagePNG, BitDepth: 12}, ErrInvalidBitDepth},
		{VisualOptions{Format: ImageBMP, BitDepth: 16}, ErrInvalidBitDepth},
		{VisualOptions{Format: "jpeg", BitDepth: 8}, ErrUnsupportedImageFormat},
	}

	for _, tt := range tests {
		err := tt.opts.Validate()
		if tt.want == nil && err != nil {
			t.Errorf("%+v: unexpected error %v", tt.opts, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%+v: expected %v, got %v", tt.opts, tt.want, err)
		}
	}
}

func TestWriteVisual_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	err := WriteVisual(visualTestGrid(t), filepath.Join(blocker, "site.png"), DefaultVisualOptions())
	if err == nil {
		t.Error("expected error writing below a regular file")
	}
}
