package codec

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/maps"

	"github.com/pdok/rastertile/errs"
)

// Index maps zoom, y and x to the stats of the tile written there.
type Index struct {
	zooms map[uint]map[uint]map[uint]TileStats
}

func NewIndex() *Index {
	return &Index{zooms: make(map[uint]map[uint]map[uint]TileStats)}
}

// Add records the stats of one tile. Every tile is added once.
func (ix *Index) Add(zoom, y, x uint, stats TileStats) error {
	rows, ok := ix.zooms[zoom]
	if !ok {
		rows = make(map[uint]map[uint]TileStats)
		ix.zooms[zoom] = rows
	}
	cols, ok := rows[y]
	if !ok {
		cols = make(map[uint]TileStats)
		rows[y] = cols
	}
	if _, ok := cols[x]; ok {
		return fmt.Errorf("%w: tile %d/%d/%d indexed twice", errs.ErrDataInvariant, zoom, y, x)
	}
	cols[x] = stats
	return nil
}

// Get returns the stats of a tile, if indexed.
func (ix *Index) Get(zoom, y, x uint) (TileStats, bool) {
	stats, ok := ix.zooms[zoom][y][x]
	return stats, ok
}

// Len is the number of tiles indexed.
func (ix *Index) Len() int {
	n := 0
	for _, rows := range ix.zooms {
		for _, cols := range rows {
			n += len(cols)
		}
	}
	return n
}

// Zooms returns the indexed zooms in increasing order.
func (ix *Index) Zooms() []uint {
	return sortedKeys(ix.zooms)
}

// Merge adds every tile of other to ix.
func (ix *Index) Merge(other *Index) error {
	for zoom, rows := range other.zooms {
		for y, cols := range rows {
			for x, stats := range cols {
				if err := ix.Add(zoom, y, x, stats); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[uint]V) []uint {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func key(k uint) string {
	return strconv.FormatUint(uint64(k), 10)
}

// MarshalJSON writes zoom -> y -> x -> stats with keys in numeric order.
func (ix *Index) MarshalJSON() ([]byte, error) {
	doc := orderedmap.New[string, *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, TileStats]]]()
	for _, zoom := range sortedKeys(ix.zooms) {
		rows := ix.zooms[zoom]
		rowsDoc := orderedmap.New[string, *orderedmap.OrderedMap[string, TileStats]]()
		for _, y := range sortedKeys(rows) {
			cols := rows[y]
			colsDoc := orderedmap.New[string, TileStats]()
			for _, x := range sortedKeys(cols) {
				colsDoc.Set(key(x), cols[x])
			}
			rowsDoc.Set(key(y), colsDoc)
		}
		doc.Set(key(zoom), rowsDoc)
	}
	return json.Marshal(doc)
}

func (ix *Index) UnmarshalJSON(data []byte) error {
	var doc map[string]map[string]map[string]TileStats
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	ix.zooms = make(map[uint]map[uint]map[uint]TileStats)
	for zoomKey, rows := range doc {
		zoom, err := strconv.ParseUint(zoomKey, 10, 64)
		if err != nil {
			return fmt.Errorf("zoom key %q: %w", zoomKey, err)
		}
		for yKey, cols := range rows {
			y, err := strconv.ParseUint(yKey, 10, 64)
			if err != nil {
				return fmt.Errorf("row key %q: %w", yKey, err)
			}
			for xKey, stats := range cols {
				x, err := strconv.ParseUint(xKey, 10, 64)
				if err != nil {
					return fmt.Errorf("column key %q: %w", xKey, err)
				}
				if err = ix.Add(uint(zoom), uint(y), uint(x), stats); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// WriteFile stores the index as JSON at path.
func (ix *Index) WriteFile(path string) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// ReadIndex loads an index written by WriteFile.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	ix := NewIndex()
	if err = json.Unmarshal(data, ix); err != nil {
		return nil, err
	}
	return ix, nil
}
