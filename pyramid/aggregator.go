package pyramid

import (
	"fmt"

	"github.com/pdok/rastertile/errs"
)

// Sink receives every row once it is final: base rows when pushed, coarser rows when merged.
type Sink func(ts *TileSet) error

// Aggregator folds rows of base zoom tiles, pushed top to bottom, into all zooms down to
// the minimum zoom. Per zoom it holds at most one even row waiting for the odd row below it.
//
// An aggregator fed only part of the rows (a worker's share) may also hold, per zoom, one
// leading odd row whose top belongs to the preceding part. Combine resolves those.
type Aggregator struct {
	minZoom, baseZoom uint
	// firstRow is the first base row of the whole raster
	firstRow uint
	sink     Sink

	// indexed by zoom
	pending []*TileSet
	leading []*TileSet
	lastRow []int64
}

// NewAggregator folds rows from baseZoom down to minZoom. firstRow is the top base row of the
// raster; an odd row that is the raster's first row at its zoom is merged without a top.
func NewAggregator(minZoom, baseZoom, firstRow uint, sink Sink) *Aggregator {
	if minZoom > baseZoom {
		panic(fmt.Sprintf("min zoom %d above base zoom %d", minZoom, baseZoom))
	}
	a := &Aggregator{
		minZoom:  minZoom,
		baseZoom: baseZoom,
		firstRow: firstRow,
		sink:     sink,
		pending:  make([]*TileSet, baseZoom+1),
		leading:  make([]*TileSet, baseZoom+1),
		lastRow:  make([]int64, baseZoom+1),
	}
	for z := range a.lastRow {
		a.lastRow[z] = -1
	}
	return a
}

// firstRowAt is the raster's first row at zoom.
func (a *Aggregator) firstRowAt(zoom uint) uint {
	return a.firstRow >> (a.baseZoom - zoom)
}

// Push hands a finished row to the sink and folds it into the coarser zooms.
// Rows of one zoom must arrive with strictly increasing y.
func (a *Aggregator) Push(ts *TileSet) error {
	if ts.Zoom < a.minZoom || ts.Zoom > a.baseZoom {
		return fmt.Errorf("%w: %v outside zooms %d..%d", errs.ErrDataInvariant, ts, a.minZoom, a.baseZoom)
	}
	if err := ts.validate(); err != nil {
		return err
	}
	if err := a.checkOrder(ts); err != nil {
		return err
	}
	if err := a.sink(ts); err != nil {
		return err
	}
	return a.fold(ts)
}

func (a *Aggregator) checkOrder(ts *TileSet) error {
	if int64(ts.Y) <= a.lastRow[ts.Zoom] {
		return fmt.Errorf("%w: %v after row %d", errs.ErrDataInvariant, ts, a.lastRow[ts.Zoom])
	}
	return nil
}

func (a *Aggregator) fold(ts *TileSet) error {
	if err := a.checkOrder(ts); err != nil {
		return err
	}
	z := ts.Zoom
	a.lastRow[z] = int64(ts.Y)
	if z == a.minZoom {
		return nil
	}

	if ts.Y%2 == 0 {
		if a.pending[z] != nil {
			return fmt.Errorf("%w: %v arrived while %v misses its bottom", errs.ErrDataInvariant, ts, a.pending[z])
		}
		a.pending[z] = ts
		return nil
	}

	top := a.pending[z]
	switch {
	case top != nil:
		if top.Y+1 != ts.Y {
			return fmt.Errorf("%w: %v does not pair with %v", errs.ErrDataInvariant, ts, top)
		}
		a.pending[z] = nil
	case ts.Y == a.firstRowAt(z):
		// the raster starts halfway a parent row, there is no top
	default:
		if a.leading[z] != nil {
			return fmt.Errorf("%w: %v and %v both lack a top", errs.ErrDataInvariant, a.leading[z], ts)
		}
		a.leading[z] = ts
		return nil
	}
	parent, err := ScaleDown(top, ts)
	if err != nil {
		return err
	}
	return a.Push(parent)
}

// Combine appends next, an aggregator fed the rows directly below the rows fed to a,
// as if all of next's rows had been pushed into a. Rows next already emitted are not
// emitted again; rows produced by the join go to a's sink. next must not be used afterwards.
func (a *Aggregator) Combine(next *Aggregator) error {
	if a.minZoom != next.minZoom || a.baseZoom != next.baseZoom || a.firstRow != next.firstRow {
		return fmt.Errorf("%w: combining aggregators of different pyramids", errs.ErrDataInvariant)
	}
	for z := int(a.baseZoom); z > int(a.minZoom); z-- {
		if l := next.leading[z]; l != nil {
			if err := a.fold(l); err != nil {
				return err
			}
		}
	}
	for z := int(a.minZoom); z <= int(a.baseZoom); z++ {
		if p := next.pending[z]; p != nil {
			if a.pending[z] != nil {
				return fmt.Errorf("%w: %v and %v both wait for a bottom", errs.ErrDataInvariant, a.pending[z], p)
			}
			a.pending[z] = p
		}
		if next.lastRow[z] < 0 {
			continue
		}
		switch l := next.leading[z]; {
		case next.lastRow[z] > a.lastRow[z]:
			a.lastRow[z] = next.lastRow[z]
		case l == nil || next.lastRow[z] != int64(l.Y):
			// only a leading row, already folded above, may equal a's last row
			return fmt.Errorf("%w: combined rows overlap at zoom %d", errs.ErrDataInvariant, z)
		}
	}
	return nil
}

// Flush merges every row still waiting for a bottom against an absent one, finest zoom
// first, so that all rows reach the minimum zoom.
func (a *Aggregator) Flush() error {
	for z := a.baseZoom; z > a.minZoom; z-- {
		if l := a.leading[z]; l != nil {
			return fmt.Errorf("%w: %v never got its top", errs.ErrDataInvariant, l)
		}
		top := a.pending[z]
		if top == nil {
			continue
		}
		a.pending[z] = nil
		parent, err := ScaleDown(top, nil)
		if err != nil {
			return err
		}
		if err = a.Push(parent); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of rows still held.
func (a *Aggregator) Pending() int {
	n := 0
	for z := range a.pending {
		if a.pending[z] != nil {
			n++
		}
		if a.leading[z] != nil {
			n++
		}
	}
	return n
}
