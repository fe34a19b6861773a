// Package tiling lays a raster out on a quad tree tile grid: which tiles cover it,
// which zooms are worth building and which source pixels feed a tile row.
package tiling

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mathhelp"
	"github.com/pdok/rastertile/mercator"
	"github.com/pdok/rastertile/resample"
	"github.com/pdok/rastertile/tms20"
)

const (
	// tileEpsilon is how far (in tiles) an edge may stick into a neighbouring tile
	// before that tile counts as covered.
	tileEpsilon = 1e-9
	// cornerTolerance is the allowed mismatch of the raster corners, relative to the raster extent.
	cornerTolerance = 1e-5
	// maxAnisotropy is the allowed relative difference between pixel width and height.
	maxAnisotropy = 0.25
)

// Rect is a range of tiles at one zoom. Left and Top are inclusive, Right and Bottom exclusive.
type Rect struct {
	Left, Top, Right, Bottom uint
}

func (r Rect) Width() uint {
	return r.Right - r.Left
}

func (r Rect) Height() uint {
	return r.Bottom - r.Top
}

// Parent is the rect covering the parents of all tiles in r.
func (r Rect) Parent() Rect {
	return Rect{
		Left:   r.Left / 2,
		Top:    r.Top / 2,
		Right:  (r.Right-1)/2 + 1,
		Bottom: (r.Bottom-1)/2 + 1,
	}
}

// Affine is an axis aligned affine transform: x' = X0 + x*DX, y' = Y0 + y*DY.
type Affine struct {
	X0, DX, Y0, DY float64
}

func (a Affine) Apply(x, y float64) (float64, float64) {
	return a.X0 + x*a.DX, a.Y0 + y*a.DY
}

func (a Affine) Inverse() Affine {
	return Affine{X0: -a.X0 / a.DX, DX: 1 / a.DX, Y0: -a.Y0 / a.DY, DY: 1 / a.DY}
}

// Config is the tiling of one raster. It is immutable and safe for concurrent use.
type Config struct {
	tileSize int
	tms      tms20.TileMatrixSet
	// wmBounds is the raster extent in web mercator
	wmBounds geom.Extent
	// pixelToWM maps raster pixel corners to web mercator
	pixelToWM Affine
}

// ForRaster derives the tiling of a width x height raster whose pixels p projects to web mercator.
func ForRaster(p *mercator.Projector, width, height, tileSize int, tms tms20.TileMatrixSet) (*Config, error) {
	if tileSize < 2 || tileSize%2 != 0 {
		return nil, fmt.Errorf("%w: tile size must be even, got %d", errs.ErrGeometry, tileSize)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty raster %dx%d", errs.ErrGeometry, width, height)
	}
	if srid, ok := tms.SRID(); !ok || srid != mercator.WebMercatorSRID {
		return nil, fmt.Errorf("%w: tile matrix set %s is not in web mercator but %s", errs.ErrGeometry, tms.ID, tms.CRS.URI)
	}
	if err := tms.ValidateQuadTree(); err != nil {
		return nil, err
	}

	w, h := float64(width), float64(height)
	corners := [4][2]float64{{0, 0}, {w, h}, {w, 0}, {0, h}}
	var wm [4][2]float64
	for i, c := range corners {
		x, y, err := p.Pixel(c[0], c[1])
		if err != nil {
			return nil, err
		}
		wm[i] = [2]float64{x, y}
	}
	left, top := wm[0][0], wm[0][1]
	right, bottom := wm[1][0], wm[1][1]
	xSpan, ySpan := math.Abs(right-left), math.Abs(top-bottom)
	rt, lb := wm[2], wm[3]
	if math.Abs(rt[0]-right) > cornerTolerance*xSpan || math.Abs(rt[1]-top) > cornerTolerance*ySpan ||
		math.Abs(lb[0]-left) > cornerTolerance*xSpan || math.Abs(lb[1]-bottom) > cornerTolerance*ySpan {
		return nil, fmt.Errorf("%w: transform is not north aligned in web mercator", errs.ErrGeometry)
	}
	if right <= left || bottom >= top {
		return nil, fmt.Errorf("%w: raster is flipped in web mercator", errs.ErrGeometry)
	}

	xRes := (right - left) / w
	yRes := (bottom - top) / h
	if math.Abs(math.Abs(xRes)-math.Abs(yRes))/math.Min(math.Abs(xRes), math.Abs(yRes)) > maxAnisotropy {
		return nil, fmt.Errorf("%w: pixels are not square in web mercator (%g x %g)", errs.ErrGeometry, xRes, -yRes)
	}

	return &Config{
		tileSize:  tileSize,
		tms:       tms,
		wmBounds:  geom.Extent{left, bottom, right, top},
		pixelToWM: Affine{X0: left, DX: xRes, Y0: top, DY: yRes},
	}, nil
}

func (c *Config) TileSize() int {
	return c.tileSize
}

// Bounds is the raster extent in web mercator.
func (c *Config) Bounds() geom.Extent {
	return c.wmBounds
}

// PixelSize is the raster pixel width in web mercator units.
func (c *Config) PixelSize() float64 {
	return c.pixelToWM.DX
}

// tileSpan is the width of one tile at zoom in web mercator units.
func (c *Config) tileSpan(zoom uint) float64 {
	return c.tms.Root().TileSpan() / float64(mathhelp.Pow2(zoom))
}

// PixelToTile maps raster pixel corners to fractional tile coordinates at zoom.
func (c *Config) PixelToTile(zoom uint) Affine {
	span := c.tileSpan(zoom)
	origin := c.tms.Root().PointOfOrigin.XY()
	return Affine{
		X0: (c.pixelToWM.X0 - origin[0]) / span,
		DX: c.pixelToWM.DX / span,
		Y0: (origin[1] - c.pixelToWM.Y0) / span,
		DY: -c.pixelToWM.DY / span,
	}
}

// TileIndexBounds returns the tiles covering the raster at zoom.
func (c *Config) TileIndexBounds(zoom uint) Rect {
	size, ok := c.tms.Size(zoom)
	if !ok {
		panic(fmt.Sprintf("zoom %d outside tile matrix set %s", zoom, c.tms.ID))
	}
	x0, y0, _ := c.tms.FractionalTile(zoom, geom.Point{c.wmBounds.MinX(), c.wmBounds.MaxY()})
	x1, y1, _ := c.tms.FractionalTile(zoom, geom.Point{c.wmBounds.MaxX(), c.wmBounds.MinY()})
	left, right := edges(x0, x1, size.X)
	top, bottom := edges(y0, y1, size.Y)
	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}

func edges(lo, hi float64, n uint) (uint, uint) {
	first := mathhelp.Clamp(mathhelp.FloorEps(lo, tileEpsilon), 0, float64(n-1))
	last := mathhelp.Clamp(mathhelp.CeilEps(hi, tileEpsilon), first+1, float64(n))
	return uint(first), uint(last)
}

// MinZoom is the deepest zoom at which a single tile covers the whole raster.
func (c *Config) MinZoom() uint {
	var zoom uint
	for zoom < c.tms.MaxZoom() {
		r := c.TileIndexBounds(zoom + 1)
		if r.Width() > 1 || r.Height() > 1 {
			break
		}
		zoom++
	}
	return zoom
}

// MaxZoom is the first zoom whose tile pixels are at least as fine as the raster pixels.
func (c *Config) MaxZoom() uint {
	zoom0PixelSize := c.tms.Root().TileSpan() / float64(c.tileSize)
	z := math.Ceil(math.Log2(zoom0PixelSize / math.Abs(c.pixelToWM.DX)))
	zoom := uint(mathhelp.Clamp(z, 0, float64(c.tms.MaxZoom())))
	if minZoom := c.MinZoom(); zoom < minZoom {
		return minZoom
	}
	return zoom
}

// MatrixMaxZoom is the deepest zoom the tile matrix set defines.
func (c *Config) MatrixMaxZoom() uint {
	return c.tms.MaxZoom()
}

// RowPixelBounds is the extent in raster pixel coordinates of the tiles left..right (exclusive) in row y.
func (c *Config) RowPixelBounds(zoom, y, left, right uint) geom.Extent {
	inv := c.PixelToTile(zoom).Inverse()
	x0, y0 := inv.Apply(float64(left), float64(y))
	x1, y1 := inv.Apply(float64(right), float64(y+1))
	return geom.Extent{x0, y0, x1, y1}
}

// Band returns the resampler for tile row y at zoom, spanning the raster's tile columns.
func (c *Config) Band(zoom, y uint) resample.Band {
	r := c.TileIndexBounds(zoom)
	return resample.NewBand(c.RowPixelBounds(zoom, y, r.Left, r.Right), int(r.Width()), c.tileSize)
}
