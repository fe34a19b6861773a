// Package mercator maps raster pixel coordinates to Web Mercator.
package mercator

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/geom/proj"

	"github.com/pdok/rastertile/errs"
)

// WebMercatorSRID is the EPSG code of Web Mercator.
const WebMercatorSRID = 3857

// WebMercatorProj4 is the spherical Web Mercator definition (EPSG:3857).
const WebMercatorProj4 = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// alignTolerance is the relative tolerance for the rotation terms of a geo transform.
const alignTolerance = 1e-5

// GeoTransform is an affine pixel to native CRS transform in GDAL order:
// x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
type GeoTransform [6]float64

func (gt GeoTransform) Apply(col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// NorthAligned reports whether the rotation terms are negligible and rows run north to south.
func (gt GeoTransform) NorthAligned() bool {
	if gt[1] <= 0 || gt[5] >= 0 {
		return false
	}
	return math.Abs(gt[2]) <= alignTolerance*math.Abs(gt[1]) &&
		math.Abs(gt[4]) <= alignTolerance*math.Abs(gt[5])
}

// Projector converts raster pixel coordinates to Web Mercator.
type Projector struct {
	gt        GeoTransform
	transform proj.Transformer
}

// NewProjector builds a Projector for a raster with the given geo transform and projection.
// The projection may be WKT or a proj4 string. An empty projection or one that already
// is Web Mercator skips reprojection.
func NewProjector(gt GeoTransform, projection string) (*Projector, error) {
	if !gt.NorthAligned() {
		return nil, fmt.Errorf("%w: transform is not north aligned: %v", errs.ErrGeometry, gt)
	}
	p := &Projector{gt: gt}
	if IsWebMercator(projection) {
		return p, nil
	}
	src, err := proj.Parse(projection)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse projection: %v", errs.ErrGeometry, err)
	}
	dst, err := proj.Parse(WebMercatorProj4)
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse web mercator: %v", errs.ErrGeometry, err)
	}
	p.transform, err = src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: no transform to web mercator: %v", errs.ErrGeometry, err)
	}
	return p, nil
}

// IsWebMercator recognizes the common spellings of EPSG:3857.
func IsWebMercator(projection string) bool {
	p := strings.TrimSpace(projection)
	if p == "" {
		return true
	}
	for _, marker := range []string{`"EPSG","3857"`, "EPSG:3857", "Pseudo-Mercator", "+proj=merc +a=6378137 +b=6378137"} {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

// Pixel returns the Web Mercator position of the pixel corner (col, row).
func (p *Projector) Pixel(col, row float64) (float64, float64, error) {
	x, y := p.gt.Apply(col, row)
	if p.transform == nil {
		return x, y, nil
	}
	wx, wy, err := p.transform(x, y)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: reprojecting (%v, %v): %v", errs.ErrGeometry, x, y, err)
	}
	return wx, wy, nil
}
