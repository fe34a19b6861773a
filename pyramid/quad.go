package pyramid

import (
	"fmt"
	"math"

	"github.com/pdok/rastertile/errs"
)

// Quadrants of a 2x2 block of tiles.
const (
	TopLeft = iota
	TopRight
	BottomLeft
	BottomRight
)

// QuadMerge averages a 2x2 block of tiles into their parent. Absent tiles count as no data.
// Every parent pixel is the mean of the non-NaN pixels of its 2x2 source block.
func QuadMerge(quad [4]*Tile) (*Tile, error) {
	var ref *Tile
	for i, t := range quad {
		if t == nil {
			continue
		}
		x, y := quadPosition(i)
		if ref != nil && (t.X/2 != ref.X/2 || t.Y/2 != ref.Y/2 || t.Zoom != ref.Zoom || t.Size != ref.Size) {
			return nil, fmt.Errorf("%w: %v and %v are not siblings", errs.ErrDataInvariant, ref, t)
		}
		if t.X%2 != x || t.Y%2 != y {
			return nil, fmt.Errorf("%w: %v in quadrant %d", errs.ErrDataInvariant, t, i)
		}
		ref = t
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: quad merge without tiles", errs.ErrDataInvariant)
	}
	if ref.Zoom == 0 {
		return nil, fmt.Errorf("%w: quad merge of %v", errs.ErrDataInvariant, ref)
	}
	size := ref.Size
	if size%2 != 0 {
		return nil, fmt.Errorf("%w: odd tile size %d", errs.ErrDataInvariant, size)
	}

	data := make([]float64, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			sr, sc := 2*row, 2*col
			idx := 0
			if sr >= size {
				idx += 2
			}
			if sc >= size {
				idx++
			}
			src := quad[idx]
			if src == nil {
				data[row*size+col] = math.NaN()
				continue
			}
			sr, sc = sr%size, sc%size
			var sum float64
			var n int
			for _, v := range [4]float64{src.At(sc, sr), src.At(sc+1, sr), src.At(sc, sr+1), src.At(sc+1, sr+1)} {
				if !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				data[row*size+col] = math.NaN()
			} else {
				data[row*size+col] = sum / float64(n)
			}
		}
	}
	return newTile(ref.X/2, ref.Y/2, ref.Zoom-1, size, data), nil
}

func quadPosition(i int) (uint, uint) {
	return uint(i % 2), uint(i / 2)
}

// ScaleDown merges a pair of rows into their parent row. top must be an even row and
// bottom the odd row below it; either may be nil when the raster has no such row.
func ScaleDown(top, bottom *TileSet) (*TileSet, error) {
	ref := top
	if ref == nil {
		ref = bottom
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: scale down without rows", errs.ErrDataInvariant)
	}
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if top != nil && top.Y%2 != 0 {
		return nil, fmt.Errorf("%w: %v is not a top row", errs.ErrDataInvariant, top)
	}
	if bottom != nil && bottom.Y%2 != 1 {
		return nil, fmt.Errorf("%w: %v is not a bottom row", errs.ErrDataInvariant, bottom)
	}
	if top != nil && bottom != nil {
		if err := bottom.validate(); err != nil {
			return nil, err
		}
		if top.Zoom != bottom.Zoom || top.Y+1 != bottom.Y || top.Left != bottom.Left || top.Right != bottom.Right {
			return nil, fmt.Errorf("%w: %v and %v do not pair", errs.ErrDataInvariant, top, bottom)
		}
	}

	parent := &TileSet{
		Left:  ref.Left / 2,
		Right: (ref.Right-1)/2 + 1,
		Y:     ref.Y / 2,
		Zoom:  ref.Zoom - 1,
	}
	for x := parent.Left; x < parent.Right; x++ {
		t, err := QuadMerge([4]*Tile{
			TopLeft:     top.Tile(2 * x),
			TopRight:    top.Tile(2*x + 1),
			BottomLeft:  bottom.Tile(2 * x),
			BottomRight: bottom.Tile(2*x + 1),
		})
		if err != nil {
			return nil, err
		}
		parent.Tiles = append(parent.Tiles, t)
	}
	return parent, nil
}
