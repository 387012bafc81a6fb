package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// EPSG codes the writer tags specially.
const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857
)

type tiffField struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// WriteGeoTIFF encodes img as an uncompressed little-endian float32 GeoTIFF
// stored in a single strip.
func WriteGeoTIFF(w io.Writer, img *GeoTIFF) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("%w: %dx%d with %d samples", ErrInvalidTIFF, img.Width, img.Height, len(img.Data))
	}

	le := binary.LittleEndian
	short := func(tag uint16, vals ...uint16) tiffField {
		b := make([]byte, 2*len(vals))
		for i, v := range vals {
			le.PutUint16(b[i*2:], v)
		}
		return tiffField{tag: tag, typ: 3, count: uint32(len(vals)), value: b}
	}
	long := func(tag uint16, v uint32) tiffField {
		b := make([]byte, 4)
		le.PutUint32(b, v)
		return tiffField{tag: tag, typ: 4, count: 1, value: b}
	}
	double := func(tag uint16, vals ...float64) tiffField {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			le.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return tiffField{tag: tag, typ: 12, count: uint32(len(vals)), value: b}
	}

	pixelBytes := uint32(len(img.Data) * 4)
	t := img.Transform

	fields := []tiffField{
		long(tagImageWidth, uint32(img.Width)),
		long(tagImageLength, uint32(img.Height)),
		short(tagBitsPerSample, 32),
		short(tagCompression, compressionNone),
		short(tagPhotometric, 1),
		long(tagStripOffsets, 0), // patched below
		short(tagSamplesPerPixel, 1),
		long(tagRowsPerStrip, uint32(img.Height)),
		long(tagStripByteCounts, pixelBytes),
		short(tagPlanarConfig, 1),
		short(tagSampleFormat, sampleFormatFloat),
		double(tagModelPixelScale, math.Abs(t.PixelWidth), math.Abs(t.PixelHeight), 0),
		double(tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0),
		short(tagGeoKeyDirectory, geoKeyDirectory(img.EPSG)...),
	}
	if img.HasNoData {
		s := strconv.FormatFloat(img.NoData, 'g', -1, 64) + "\x00"
		fields = append(fields, tiffField{tag: tagGDALNoData, typ: 2, count: uint32(len(s)), value: []byte(s)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	// Layout: header, IFD, out-of-line values, pixel strip.
	ifdSize := uint32(2 + 12*len(fields) + 4)
	next := 8 + ifdSize
	offsets := make([]uint32, len(fields))
	for i, f := range fields {
		if len(f.value) > 4 {
			next += next & 1
			offsets[i] = next
			next += uint32(len(f.value))
		}
	}
	next += next & 1
	stripOffset := next

	for i := range fields {
		if fields[i].tag == tagStripOffsets {
			le.PutUint32(fields[i].value, stripOffset)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(8))

	binary.Write(&buf, le, uint16(len(fields)))
	for i, f := range fields {
		binary.Write(&buf, le, f.tag)
		binary.Write(&buf, le, f.typ)
		binary.Write(&buf, le, f.count)
		if len(f.value) > 4 {
			binary.Write(&buf, le, offsets[i])
		} else {
			var inline [4]byte
			copy(inline[:], f.value)
			buf.Write(inline[:])
		}
	}
	binary.Write(&buf, le, uint32(0)) // no next IFD

	for i, f := range fields {
		if len(f.value) > 4 {
			for uint32(buf.Len()) < offsets[i] {
				buf.WriteByte(0)
			}
			buf.Write(f.value)
		}
	}
	for uint32(buf.Len()) < stripOffset {
		buf.WriteByte(0)
	}
	binary.Write(&buf, le, img.Data)

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteGeoTIFFFile writes img to path, creating parent directories.
func WriteGeoTIFFFile(path string, img *GeoTIFF) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := WriteGeoTIFF(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding GeoTIFF: %w", err)
	}
	return f.Close()
}

// geoKeyDirectory builds a GeoKeyDirectory for a geographic or projected EPSG code.
func geoKeyDirectory(epsg int) []uint16 {
	if epsg <= 0 {
		return []uint16{1, 1, 0, 1, geoKeyRasterType, 0, 1, 1}
	}
	if epsg == EPSGWGS84 || (epsg >= 4000 && epsg < 5000) {
		return []uint16{
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, modelTypeGeographic,
			geoKeyRasterType, 0, 1, 1,
			geoKeyGeographicType, 0, 1, uint16(epsg),
		}
	}
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelTypeProjected,
		geoKeyRasterType, 0, 1, 1,
		geoKeyProjectedType, 0, 1, uint16(epsg),
	}
}
