package formats

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/heightmapgen/pkg/heightmap"
)

// ErrInvalidPayload is returned when a transport payload cannot be decoded.
var ErrInvalidPayload = errors.New("invalid heightmap payload")

// EncodeTransportBytes serializes the samples as row-major little-endian
// float32 with no header.
func EncodeTransportBytes(g *heightmap.Grid) []byte {
	buf := make([]byte, 4*len(g.Data))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// EncodeTransport returns the standard base64 encoding of EncodeTransportBytes.
func EncodeTransport(g *heightmap.Grid) string {
	return base64.StdEncoding.EncodeToString(EncodeTransportBytes(g))
}

// DecodeTransport reverses EncodeTransport. The result is bit-identical to
// the encoded samples.
func DecodeTransport(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrInvalidPayload, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// DecodeSquare decodes a payload into a square grid whose edge is the
// integer square root of the sample count, the way terrain consumers read it.
func DecodeSquare(payload string) (*heightmap.Grid, error) {
	samples, err := DecodeTransport(payload)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	edge := int(math.Sqrt(float64(len(samples))))
	for edge*edge > len(samples) {
		edge--
	}
	for (edge+1)*(edge+1) <= len(samples) {
		edge++
	}
	if edge*edge != len(samples) {
		return nil, fmt.Errorf("%w: %d samples do not form a square", ErrInvalidPayload, len(samples))
	}
	return heightmap.FromData(edge, edge, samples)
}
