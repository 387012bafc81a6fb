package formats

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"

	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// GeoTIFF format errors.
var (
	ErrInvalidTIFF     = errors.New("invalid TIFF header")
	ErrUnsupportedTIFF = errors.New("unsupported TIFF layout")
	ErrTruncatedTIFF   = errors.New("truncated TIFF data")
)

// MaxSamples bounds the pixel count of a decoded raster and of a single tile.
const MaxSamples = 1 << 28

// TIFF tags used by single-band elevation rasters.
const (
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagStripOffsets      = 273
	tagSamplesPerPixel   = 277
	tagRowsPerStrip      = 278
	tagStripByteCounts   = 279
	tagPlanarConfig      = 284
	tagPredictor         = 317
	tagTileWidth         = 322
	tagTileLength        = 323
	tagTileOffsets       = 324
	tagTileByteCounts    = 325
	tagSampleFormat      = 339
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagGeoKeyDirectory   = 34735
	tagGeoDoubleParams   = 34736
	tagGeoASCIIParams    = 34737
	tagGDALNoData        = 42113
	tagModelTransform    = 34264
	compressionNone      = 1
	compressionLZW       = 5
	compressionDeflate   = 8
	compressionDeflateAd = 32946
	predictorNone        = 1
	predictorHorizontal  = 2
	predictorFloat       = 3
	sampleFormatUint     = 1
	sampleFormatInt      = 2
	sampleFormatFloat    = 3
)

// GeoKey identifiers.
const (
	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
	rasterPixelIsPoint   = 2
	modelTypeProjected   = 1
	modelTypeGeographic  = 2
)

// TIFF field types and their byte sizes.
var tiffTypeSize = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// GeoTransform maps pixel corners to model coordinates:
// X = OriginX + col*PixelWidth, Y = OriginY + row*PixelHeight.
// PixelHeight is negative for north-up rasters.
type GeoTransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// Bounds returns the model extent of a width x height raster.
func (t GeoTransform) Bounds(width, height int) (minX, minY, maxX, maxY float64) {
	x0, x1 := t.OriginX, t.OriginX+float64(width)*t.PixelWidth
	y0, y1 := t.OriginY, t.OriginY+float64(height)*t.PixelHeight
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// Pixel converts model coordinates to fractional pixel-center coordinates,
// where (0, 0) is the center of the top-left pixel.
func (t GeoTransform) Pixel(x, y float64) (col, row float64) {
	return (x-t.OriginX)/t.PixelWidth - 0.5, (y-t.OriginY)/t.PixelHeight - 0.5
}

// Model converts pixel-center coordinates to model coordinates.
func (t GeoTransform) Model(col, row float64) (x, y float64) {
	return t.OriginX + (col+0.5)*t.PixelWidth, t.OriginY + (row+0.5)*t.PixelHeight
}

// GeoTIFF is a single-band georeferenced raster.
type GeoTIFF struct {
	Width     int
	Height    int
	EPSG      int
	Transform GeoTransform
	NoData    float64
	HasNoData bool
	Data      []float32
}

// ToGrid converts the raster into a heightmap grid. No-data samples become NaN.
func (g *GeoTIFF) ToGrid() (*heightmap.Grid, error) {
	grid, err := heightmap.FromData(g.Width, g.Height, g.Data)
	if err != nil {
		return nil, err
	}
	if g.HasNoData {
		nodata := float32(g.NoData)
		nan := float32(math.NaN())
		for i, v := range grid.Data {
			if v == nodata {
				grid.Data[i] = nan
			}
		}
	}
	grid.SourceResolution = math.Abs(g.Transform.PixelWidth)
	return grid, nil
}

// ifdEntry is a raw IFD field.
type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

// tiffReader decodes field values with the file's byte order.
type tiffReader struct {
	data   []byte
	order  binary.ByteOrder
	fields map[uint16]ifdEntry
}

// ParseGeoTIFF parses a single-band GeoTIFF from raw bytes.
// Strips and tiles with no, LZW or Deflate compression and horizontal or
// floating point predictors are supported.
func ParseGeoTIFF(data []byte) (*GeoTIFF, error) {
	if len(data) < 8 {
		return nil, ErrTruncatedTIFF
	}

	r := &tiffReader{data: data, fields: make(map[uint16]ifdEntry)}
	switch string(data[0:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, ErrInvalidTIFF
	}
	magic := r.order.Uint16(data[2:4])
	if magic == 43 {
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupportedTIFF)
	}
	if magic != 42 {
		return nil, fmt.Errorf("%w: magic %d", ErrInvalidTIFF, magic)
	}

	if err := r.readIFD(r.order.Uint32(data[4:8])); err != nil {
		return nil, err
	}

	img, err := r.decodeLayout()
	if err != nil {
		return nil, err
	}
	if err := r.decodeGeo(img); err != nil {
		return nil, err
	}
	return img, nil
}

// ParseGeoTIFFFile parses a GeoTIFF file from disk.
func ParseGeoTIFFFile(path string) (*GeoTIFF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading GeoTIFF file: %w", err)
	}
	return ParseGeoTIFF(data)
}

// readIFD loads the first image file directory.
func (r *tiffReader) readIFD(offset uint32) error {
	off := int(offset)
	if off < 8 || off+2 > len(r.data) {
		return fmt.Errorf("%w: IFD offset %d", ErrTruncatedTIFF, offset)
	}
	count := int(r.order.Uint16(r.data[off:]))
	off += 2
	if off+count*12 > len(r.data) {
		return fmt.Errorf("%w: IFD with %d entries", ErrTruncatedTIFF, count)
	}

	for i := 0; i < count; i++ {
		e := r.data[off+i*12 : off+i*12+12]
		tag := r.order.Uint16(e[0:2])
		typ := r.order.Uint16(e[2:4])
		n := r.order.Uint32(e[4:8])

		size, ok := tiffTypeSize[typ]
		if !ok {
			continue // unknown field types are skipped
		}
		total := size * int(n)
		var value []byte
		if total <= 4 {
			value = e[8 : 8+total]
		} else {
			p := int(r.order.Uint32(e[8:12]))
			if p < 0 || p+total > len(r.data) {
				return fmt.Errorf("%w: tag %d", ErrTruncatedTIFF, tag)
			}
			value = r.data[p : p+total]
		}
		r.fields[tag] = ifdEntry{typ: typ, count: n, data: value}
	}
	return nil
}

// ints returns an integer field as a slice.
func (r *tiffReader) ints(tag uint16) ([]int, bool) {
	f, ok := r.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]int, f.count)
	for i := range out {
		switch f.typ {
		case 1, 7:
			out[i] = int(f.data[i])
		case 3:
			out[i] = int(r.order.Uint16(f.data[i*2:]))
		case 4:
			out[i] = int(r.order.Uint32(f.data[i*4:]))
		default:
			return nil, false
		}
	}
	return out, true
}

// scalar returns the first value of an integer field or def.
func (r *tiffReader) scalar(tag uint16, def int) int {
	v, ok := r.ints(tag)
	if !ok || len(v) == 0 {
		return def
	}
	return v[0]
}

// float64s returns a DOUBLE field as a slice.
func (r *tiffReader) float64s(tag uint16) []float64 {
	f, ok := r.fields[tag]
	if !ok || f.typ != 12 {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(r.order.Uint64(f.data[i*8:]))
	}
	return out
}

// ascii returns an ASCII field without its trailing NUL.
func (r *tiffReader) ascii(tag uint16) string {
	f, ok := r.fields[tag]
	if !ok || f.typ != 2 {
		return ""
	}
	return strings.TrimRight(string(f.data), "\x00")
}

// decodeLayout reads dimensions, sample layout and pixel data.
func (r *tiffReader) decodeLayout() (*GeoTIFF, error) {
	width := r.scalar(tagImageWidth, 0)
	height := r.scalar(tagImageLength, 0)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidTIFF, width, height)
	}
	if width > MaxSamples/height {
		return nil, fmt.Errorf("%w: dimensions %dx%d exceed %d samples", ErrUnsupportedTIFF, width, height, MaxSamples)
	}
	if spp := r.scalar(tagSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedTIFF, spp)
	}

	bits := r.scalar(tagBitsPerSample, 1)
	format := r.scalar(tagSampleFormat, sampleFormatUint)
	if err := checkSampleType(bits, format); err != nil {
		return nil, err
	}

	compression := r.scalar(tagCompression, compressionNone)
	predictor := r.scalar(tagPredictor, predictorNone)

	dec := blockDecoder{
		order:       r.order,
		bytesPer:    bits / 8,
		format:      format,
		compression: compression,
		predictor:   predictor,
	}

	_, tiled := r.fields[tagTileOffsets]
	var l layout
	var err error
	if tiled {
		l, err = r.tileLayout(width, height)
	} else {
		l, err = r.stripLayout(width, height)
	}
	if err != nil {
		return nil, err
	}
	if compression == compressionNone && l.stored < int64(l.coverage)*int64(dec.bytesPer) {
		return nil, fmt.Errorf("%w: %d data bytes, need %d", ErrTruncatedTIFF, l.stored, int64(l.coverage)*int64(dec.bytesPer))
	}

	img := &GeoTIFF{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
	if tiled {
		return img, r.decodeTiles(img, dec, l)
	}
	return img, r.decodeStrips(img, dec, l)
}

// layout is the validated block table of an image.
type layout struct {
	offsets, counts []int
	// rows per strip, or tile width and height
	rows, tw, th int
	// samples the blocks must hold to cover the image
	coverage int
	// bytes the tables claim to store
	stored int64
}

func (r *tiffReader) stripLayout(width, height int) (layout, error) {
	offsets, ok1 := r.ints(tagStripOffsets)
	counts, ok2 := r.ints(tagStripByteCounts)
	if !ok1 || !ok2 || len(offsets) != len(counts) {
		return layout{}, fmt.Errorf("%w: missing strip tables", ErrInvalidTIFF)
	}
	rows := r.scalar(tagRowsPerStrip, height)
	if rows <= 0 || rows > height {
		rows = height
	}
	return layout{
		offsets:  offsets,
		counts:   counts,
		rows:     rows,
		coverage: width * height,
		stored:   sumCounts(counts),
	}, nil
}

func (r *tiffReader) tileLayout(width, height int) (layout, error) {
	tw := r.scalar(tagTileWidth, 0)
	th := r.scalar(tagTileLength, 0)
	offsets, ok1 := r.ints(tagTileOffsets)
	counts, ok2 := r.ints(tagTileByteCounts)
	if tw <= 0 || th <= 0 || !ok1 || !ok2 || len(offsets) != len(counts) {
		return layout{}, fmt.Errorf("%w: missing tile tables", ErrInvalidTIFF)
	}
	if tw > MaxSamples/th {
		return layout{}, fmt.Errorf("%w: tile %dx%d exceeds %d samples", ErrUnsupportedTIFF, tw, th, MaxSamples)
	}

	across := (width + tw - 1) / tw
	down := (height + th - 1) / th
	if len(offsets) < across*down {
		return layout{}, fmt.Errorf("%w: %d tiles, need %d", ErrTruncatedTIFF, len(offsets), across*down)
	}
	return layout{
		offsets:  offsets,
		counts:   counts,
		tw:       tw,
		th:       th,
		coverage: across * down * tw * th,
		stored:   sumCounts(counts[:across*down]),
	}, nil
}

func sumCounts(counts []int) int64 {
	var n int64
	for _, c := range counts {
		if c > 0 {
			n += int64(c)
		}
	}
	return n
}

func checkSampleType(bits, format int) error {
	switch format {
	case sampleFormatUint, sampleFormatInt:
		if bits == 8 || bits == 16 || bits == 32 {
			return nil
		}
	case sampleFormatFloat:
		if bits == 32 || bits == 64 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d-bit sample format %d", ErrUnsupportedTIFF, bits, format)
}

func (r *tiffReader) decodeStrips(img *GeoTIFF, dec blockDecoder, l layout) error {
	for i := range l.offsets {
		y0 := i * l.rows
		if y0 >= img.Height {
			break
		}
		rows := min(l.rows, img.Height-y0)
		block, err := r.block(l.offsets[i], l.counts[i])
		if err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}
		samples, err := dec.decode(block, img.Width, rows)
		if err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}
		copy(img.Data[y0*img.Width:], samples)
	}
	return nil
}

func (r *tiffReader) decodeTiles(img *GeoTIFF, dec blockDecoder, l layout) error {
	tw, th := l.tw, l.th
	across := (img.Width + tw - 1) / tw
	down := (img.Height + th - 1) / th

	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			i := ty*across + tx
			block, err := r.block(l.offsets[i], l.counts[i])
			if err != nil {
				return fmt.Errorf("tile %d: %w", i, err)
			}
			samples, err := dec.decode(block, tw, th)
			if err != nil {
				return fmt.Errorf("tile %d: %w", i, err)
			}
			for y := 0; y < th; y++ {
				iy := ty*th + y
				if iy >= img.Height {
					break
				}
				x0 := tx * tw
				n := min(tw, img.Width-x0)
				copy(img.Data[iy*img.Width+x0:iy*img.Width+x0+n], samples[y*tw:y*tw+n])
			}
		}
	}
	return nil
}

func (r *tiffReader) block(offset, count int) ([]byte, error) {
	if offset < 0 || count < 0 || offset > len(r.data) || count > len(r.data)-offset {
		return nil, ErrTruncatedTIFF
	}
	return r.data[offset : offset+count], nil
}

// decodeGeo reads the georeferencing tags.
func (r *tiffReader) decodeGeo(img *GeoTIFF) error {
	if nd := strings.TrimSpace(r.ascii(tagGDALNoData)); nd != "" {
		v, err := strconv.ParseFloat(nd, 64)
		if err == nil {
			img.NoData = v
			img.HasNoData = true
		}
	}

	keys := r.geoKeys()
	switch {
	case keys[geoKeyProjectedType] != 0:
		img.EPSG = keys[geoKeyProjectedType]
	case keys[geoKeyGeographicType] != 0:
		img.EPSG = keys[geoKeyGeographicType]
	}

	if m := r.float64s(tagModelTransform); len(m) == 16 {
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("%w: rotated model transformation", ErrUnsupportedTIFF)
		}
		img.Transform = GeoTransform{OriginX: m[3], OriginY: m[7], PixelWidth: m[0], PixelHeight: m[5]}
	} else {
		scale := r.float64s(tagModelPixelScale)
		tie := r.float64s(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			// Not georeferenced: unit pixels, origin at 0,0.
			img.Transform = GeoTransform{PixelWidth: 1, PixelHeight: -1}
			return nil
		}
		img.Transform = GeoTransform{
			OriginX:     tie[3] - tie[0]*scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelWidth:  scale[0],
			PixelHeight: -scale[1],
		}
	}

	if keys[geoKeyRasterType] == rasterPixelIsPoint {
		img.Transform.OriginX -= img.Transform.PixelWidth / 2
		img.Transform.OriginY -= img.Transform.PixelHeight / 2
	}
	return nil
}

// geoKeys returns SHORT-valued GeoKeys stored inline in the key directory.
func (r *tiffReader) geoKeys() map[int]int {
	keys := make(map[int]int)
	dir, ok := r.ints(tagGeoKeyDirectory)
	if !ok || len(dir) < 4 {
		return keys
	}
	n := dir[3]
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		e := dir[4+i*4 : 4+i*4+4]
		if e[1] == 0 {
			keys[e[0]] = e[3]
		}
	}
	return keys
}

// blockDecoder turns a compressed strip or tile into float32 samples.
type blockDecoder struct {
	order       binary.ByteOrder
	bytesPer    int
	format      int
	compression int
	predictor   int
}

func (d blockDecoder) decode(block []byte, width, rows int) ([]float32, error) {
	need := width * rows * d.bytesPer
	raw, err := d.decompress(block, need)
	if err != nil {
		return nil, err
	}
	if len(raw) < need {
		return nil, fmt.Errorf("%w: block has %d bytes, need %d", ErrTruncatedTIFF, len(raw), need)
	}
	raw = raw[:need]

	switch d.predictor {
	case predictorNone:
	case predictorHorizontal:
		d.undoHorizontal(raw, width, rows)
	case predictorFloat:
		raw = d.undoFloat(raw, width, rows)
	default:
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedTIFF, d.predictor)
	}

	out := make([]float32, width*rows)
	for i := range out {
		out[i] = d.sample(raw[i*d.bytesPer:])
	}
	return out, nil
}

// decompress inflates block, reading at most limit bytes.
func (d blockDecoder) decompress(block []byte, limit int) ([]byte, error) {
	switch d.compression {
	case compressionNone:
		return block, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(block), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, int64(limit)))
	case compressionDeflate, compressionDeflateAd:
		zr, err := zlib.NewReader(bytes.NewReader(block))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, int64(limit)))
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedTIFF, d.compression)
	}
}

// undoHorizontal reverses integer horizontal differencing in place.
func (d blockDecoder) undoHorizontal(raw []byte, width, rows int) {
	n := d.bytesPer
	for y := 0; y < rows; y++ {
		row := raw[y*width*n : (y+1)*width*n]
		for x := 1; x < width; x++ {
			cur := row[x*n:]
			prev := row[(x-1)*n:]
			switch n {
			case 1:
				cur[0] += prev[0]
			case 2:
				d.order.PutUint16(cur, d.order.Uint16(cur)+d.order.Uint16(prev))
			case 4:
				d.order.PutUint32(cur, d.order.Uint32(cur)+d.order.Uint32(prev))
			case 8:
				d.order.PutUint64(cur, d.order.Uint64(cur)+d.order.Uint64(prev))
			}
		}
	}
}

// undoFloat reverses the floating point predictor: bytes are differenced
// across the row and grouped by significance, most significant first.
func (d blockDecoder) undoFloat(raw []byte, width, rows int) []byte {
	n := d.bytesPer
	out := make([]byte, len(raw))
	rowLen := width * n
	for y := 0; y < rows; y++ {
		row := raw[y*rowLen : (y+1)*rowLen]
		for i := 1; i < rowLen; i++ {
			row[i] += row[i-1]
		}
		dst := out[y*rowLen : (y+1)*rowLen]
		for x := 0; x < width; x++ {
			for b := 0; b < n; b++ {
				// row holds byte b (MSB first) of every sample contiguously.
				v := row[b*width+x]
				if d.order == binary.LittleEndian {
					dst[x*n+(n-1-b)] = v
				} else {
					dst[x*n+b] = v
				}
			}
		}
	}
	return out
}

func (d blockDecoder) sample(b []byte) float32 {
	switch d.bytesPer {
	case 1:
		if d.format == sampleFormatInt {
			return float32(int8(b[0]))
		}
		return float32(b[0])
	case 2:
		v := d.order.Uint16(b)
		if d.format == sampleFormatInt {
			return float32(int16(v))
		}
		return float32(v)
	case 4:
		v := d.order.Uint32(b)
		switch d.format {
		case sampleFormatFloat:
			return math.Float32frombits(v)
		case sampleFormatInt:
			return float32(int32(v))
		default:
			return float32(v)
		}
	default:
		return float32(math.Float64frombits(d.order.Uint64(b)))
	}
}
