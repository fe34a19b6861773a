// Package resample spreads raster pixels over the tile pixels of one tile row,
// weighting every pixel by the exact area it shares with each tile pixel.
package resample

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/rastertile/raster"
)

// weightTolerance bounds the rounding error on a single overlap weight.
const weightTolerance = 1e-9

// Overlap is one source pixel landing on one tile pixel.
type Overlap struct {
	// Tile is the index of the tile within the row, counted from the row's first tile.
	Tile int
	// Col and Row address the pixel within the tile.
	Col, Row int
	// SrcCol and SrcRow address the source pixel in the raster.
	SrcCol, SrcRow int
	// Weight is the shared area as a fraction of the source pixel's area, in (0, 1].
	Weight float64
}

// Band is a row of tiles expressed in source pixel coordinates.
type Band struct {
	extent   geom.Extent
	tiles    int
	tileSize int
	// tile pixels per source pixel
	scaleX, scaleY float64
}

// NewBand covers extent (in raster pixel coordinates, min y on top) with tiles tiles of tileSize pixels.
func NewBand(extent geom.Extent, tiles, tileSize int) Band {
	return Band{
		extent:   extent,
		tiles:    tiles,
		tileSize: tileSize,
		scaleX:   float64(tiles*tileSize) / extent.XSpan(),
		scaleY:   float64(tileSize) / extent.YSpan(),
	}
}

func (b Band) Extent() geom.Extent {
	return b.extent
}

func (b Band) Tiles() int {
	return b.tiles
}

func (b Band) TileSize() int {
	return b.tileSize
}

// Window returns the raster pixels touching the band, clipped to a width x height raster.
// It returns false when the band lies outside the raster.
func (b Band) Window(width, height int) (raster.Window, bool) {
	col0 := int(math.Max(0, math.Floor(b.extent.MinX())))
	row0 := int(math.Max(0, math.Floor(b.extent.MinY())))
	col1 := int(math.Min(float64(width), math.Ceil(b.extent.MaxX())))
	row1 := int(math.Min(float64(height), math.Ceil(b.extent.MaxY())))
	w := raster.Window{Col: col0, Row: row0, Width: col1 - col0, Height: row1 - row0}
	return w, !w.Empty()
}

// Process calls visit for every (source pixel, tile pixel) pair of data that overlap,
// skipping source pixels that valid rejects.
func (b Band) Process(data *raster.Band, valid func(float64) bool, visit func(o Overlap, value float64)) {
	rowPixels := b.tiles * b.tileSize
	for r := 0; r < data.Height; r++ {
		srcRow := data.Row + r
		top := (float64(srcRow) - b.extent.MinY()) * b.scaleY
		bottom := top + b.scaleY
		rowFirst, rowLast := span(top, bottom, b.tileSize)
		if rowFirst >= rowLast {
			continue
		}
		for c := 0; c < data.Width; c++ {
			value := data.At(c, r)
			if !valid(value) {
				continue
			}
			srcCol := data.Col + c
			left := (float64(srcCol) - b.extent.MinX()) * b.scaleX
			footprint := geom.Extent{left, top, left + b.scaleX, bottom}
			area := footprint.XSpan() * footprint.YSpan()
			colFirst, colLast := span(footprint.MinX(), footprint.MaxX(), rowPixels)
			for row := rowFirst; row < rowLast; row++ {
				for col := colFirst; col < colLast; col++ {
					cell := geom.Extent{float64(col), float64(row), float64(col + 1), float64(row + 1)}
					shared, ok := footprint.Intersect(&cell)
					if !ok {
						continue
					}
					weight := shared.XSpan() * shared.YSpan() / area
					if weight <= 0 {
						continue
					}
					if weight > 1+weightTolerance {
						panic(fmt.Sprintf("overlap weight %v exceeds source pixel", weight))
					}
					visit(Overlap{
						Tile:   col / b.tileSize,
						Col:    col % b.tileSize,
						Row:    row,
						SrcCol: srcCol,
						SrcRow: srcRow,
						Weight: weight,
					}, value)
				}
			}
		}
	}
}

// span returns the integer cells [first, last) that [lo, hi) touches, clipped to [0, n).
func span(lo, hi float64, n int) (int, int) {
	first := int(math.Max(0, math.Floor(lo)))
	last := int(math.Min(float64(n), math.Ceil(hi)))
	return first, last
}
