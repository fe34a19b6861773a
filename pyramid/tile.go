// Package pyramid builds coarser zooms out of finished tile rows as soon as
// both rows of a pair are known, keeping at most one unpaired row per zoom.
package pyramid

import (
	"fmt"
	"math"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mathhelp"
)

// Cell is a tile pixel under construction. Weight is NaN until the first contribution.
type Cell struct {
	Sum, Weight float64
}

func EmptyCell() Cell {
	return Cell{Weight: math.NaN()}
}

func (c *Cell) Add(value, weight float64) {
	if math.IsNaN(c.Weight) {
		c.Sum, c.Weight = value*weight, weight
		return
	}
	c.Sum += value * weight
	c.Weight += weight
}

// Value is the weighted average, NaN when nothing contributed.
func (c Cell) Value() float64 {
	if math.IsNaN(c.Weight) {
		return math.NaN()
	}
	return c.Sum / c.Weight
}

// Tile is a finished square tile. NaN marks pixels without data.
type Tile struct {
	X, Y, Zoom uint
	Size       int
	// Data is row-major, Size*Size values
	Data []float64
	// Min and Max of the non-NaN values, NaN for an empty tile
	Min, Max float64
}

func (t *Tile) At(col, row int) float64 {
	return t.Data[row*t.Size+col]
}

// Empty reports whether the tile holds no data at all.
func (t *Tile) Empty() bool {
	return math.IsNaN(t.Min)
}

func (t *Tile) String() string {
	return fmt.Sprintf("tile %d/%d/%d", t.Zoom, t.Y, t.X)
}

func newTile(x, y, zoom uint, size int, data []float64) *Tile {
	t := &Tile{X: x, Y: y, Zoom: zoom, Size: size, Data: data, Min: math.NaN(), Max: math.NaN()}
	for _, v := range data {
		t.Min, t.Max = mathhelp.NaNMinMax(t.Min, t.Max, v)
	}
	return t
}

// TileSet is a run of adjacent tiles in one row of one zoom, Left inclusive, Right exclusive.
type TileSet struct {
	Tiles       []*Tile
	Left, Right uint
	Y, Zoom     uint
}

// Tile returns the tile at column x, nil when x is outside the set.
func (ts *TileSet) Tile(x uint) *Tile {
	if ts == nil || x < ts.Left || x >= ts.Right {
		return nil
	}
	return ts.Tiles[x-ts.Left]
}

func (ts *TileSet) String() string {
	return fmt.Sprintf("row %d/%d [%d, %d)", ts.Zoom, ts.Y, ts.Left, ts.Right)
}

func (ts *TileSet) validate() error {
	if ts.Right <= ts.Left || len(ts.Tiles) != int(ts.Right-ts.Left) {
		return fmt.Errorf("%w: %v holds %d tiles", errs.ErrDataInvariant, ts, len(ts.Tiles))
	}
	return nil
}

// RowBuilder accumulates weighted contributions for one row of tiles.
type RowBuilder struct {
	cells       [][]Cell
	left, right uint
	y, zoom     uint
	size        int
}

func NewRowBuilder(left, right, y, zoom uint, size int) *RowBuilder {
	cells := make([][]Cell, right-left)
	for i := range cells {
		cells[i] = make([]Cell, size*size)
		for j := range cells[i] {
			cells[i][j] = EmptyCell()
		}
	}
	return &RowBuilder{cells: cells, left: left, right: right, y: y, zoom: zoom, size: size}
}

// Add adds value with weight to pixel col, row of the tile-th tile in the row.
func (b *RowBuilder) Add(tile, col, row int, value, weight float64) {
	b.cells[tile][row*b.size+col].Add(value, weight)
}

// Finish turns the accumulated cells into tiles.
func (b *RowBuilder) Finish() *TileSet {
	ts := &TileSet{Left: b.left, Right: b.right, Y: b.y, Zoom: b.zoom}
	for i, cells := range b.cells {
		data := make([]float64, len(cells))
		for j, c := range cells {
			data[j] = c.Value()
		}
		ts.Tiles = append(ts.Tiles, newTile(b.left+uint(i), b.y, b.zoom, b.size, data))
	}
	return ts
}
