package codec

import (
	"path/filepath"

	"github.com/go-spatial/geom/slippy"

	"github.com/pdok/rastertile/pyramid"
	"github.com/pdok/rastertile/xyz"
)

// IndexFile is the name of the index in the output directory.
const IndexFile = "index.json"

// Writer encodes tiles into an output directory and indexes them.
// A Writer belongs to one goroutine; give every worker its own and merge their indexes.
type Writer struct {
	tiles *xyz.Writer
	index *Index
}

func NewWriter(outputDir string) (*Writer, error) {
	tiles, err := xyz.NewWriter(xyz.DefaultPattern(outputDir))
	if err != nil {
		return nil, err
	}
	return &Writer{tiles: tiles, index: NewIndex()}, nil
}

// Write encodes t to <output>/<zoom>/<y>/<x>.bin and records its stats.
func (w *Writer) Write(t *pyramid.Tile) (TileStats, error) {
	body, stats := Encode(t)
	if err := w.tiles.WriteTile(slippy.NewTile(t.Zoom, t.X, t.Y), body); err != nil {
		return stats, err
	}
	return stats, w.index.Add(t.Zoom, t.Y, t.X, stats)
}

// WriteRow writes every tile of ts. It fits pyramid.Sink.
func (w *Writer) WriteRow(ts *pyramid.TileSet) error {
	for _, t := range ts.Tiles {
		if _, err := w.Write(t); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Index() *Index {
	return w.index
}

// IndexPath is where the index of outputDir lives.
func IndexPath(outputDir string) string {
	return filepath.Join(outputDir, IndexFile)
}
