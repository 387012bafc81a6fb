// Package formats reads and writes the file formats used around heightmaps:
// single-band GeoTIFF elevation rasters, the base64 float32 transport payload
// and grayscale visual images.
package formats

// Note: GeoTIFF reading is in geotiff.go, writing in geotiff_write.go
// Note: the transport payload codec is in transport.go
