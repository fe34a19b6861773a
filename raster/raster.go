// Package raster reads single band rasters window by window.
package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdok/rastertile/errs"
)

// Window is a block of pixels, offset from the top-left of the raster.
type Window struct {
	Col, Row, Width, Height int
}

func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Band holds the values of a window, row-major.
type Band struct {
	Window
	Data []float64
}

// At returns the value at col, row relative to the window.
func (b *Band) At(col, row int) float64 {
	return b.Data[row*b.Width+col]
}

// Source is an open, read-only raster. A Source is used by one goroutine at a time.
type Source interface {
	Size() (width, height int)
	NoData() (float64, bool)
	// GeoTransform maps pixel corners to the native CRS, in GDAL order.
	GeoTransform() [6]float64
	// Projection of the native CRS as WKT or proj4, empty when unknown.
	Projection() string
	ReadWindow(w Window) (*Band, error)
	Close() error
}

// Opener opens a new, independent handle on the same raster.
type Opener func() (Source, error)

// Valid returns a predicate rejecting NaN and the no data value of src.
func Valid(src Source) func(float64) bool {
	noData, ok := src.NoData()
	return func(v float64) bool {
		if math.IsNaN(v) {
			return false
		}
		return !ok || v != noData
	}
}

func checkWindow(w Window, width, height int) error {
	if w.Empty() || w.Col < 0 || w.Row < 0 || w.Col+w.Width > width || w.Row+w.Height > height {
		return fmt.Errorf("%w: window %+v outside raster %dx%d", errs.ErrIO, w, width, height)
	}
	return nil
}

// NewOpener returns an Opener for the raster at path, picked by file extension.
// ESRI float grids (.flt/.hdr) get a file handle per Open and are read window by window.
// TIFFs are decoded into memory once and shared. Only 8 and 16 bit grayscale samples
// decode, and georeferencing comes from a world file, not from GeoTIFF tags. Convert
// float DEMs to a float grid first.
func NewOpener(path string) (Opener, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flt", ".hdr":
		hdr, err := readHeader(path)
		if err != nil {
			return nil, err
		}
		return func() (Source, error) {
			return openFloatGrid(hdr)
		}, nil
	case ".tif", ".tiff":
		grid, err := ReadTIFF(path)
		if err != nil {
			return nil, err
		}
		return grid.Opener(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported raster format %q", errs.ErrIO, path)
	}
}

// readProjection reads the .prj sidecar of path, if any.
func readProjection(path string) (string, error) {
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	data, err := os.ReadFile(prj)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return strings.TrimSpace(string(data)), nil
}
