// Package processing takes care of the logistics of a pyramid build: planning zooms,
// spreading base rows over workers, joining their partial pyramids and writing the index.
// Not the tiling operations themselves.
package processing

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/pdok/rastertile/codec"
	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mercator"
	"github.com/pdok/rastertile/progress"
	"github.com/pdok/rastertile/pyramid"
	"github.com/pdok/rastertile/raster"
	"github.com/pdok/rastertile/resample"
	"github.com/pdok/rastertile/tiling"
)

// Plan is what a build of a raster will produce.
type Plan struct {
	Width, Height int
	Projection    string
	Tiling        *tiling.Config
	MinZoom       uint
	BaseZoom      uint
	// Base is the range of base zoom tiles, it fixes the rows to resample
	Base tiling.Rect
}

// Rect returns the tiles built at zoom.
func (p *Plan) Rect(zoom uint) tiling.Rect {
	return p.Tiling.TileIndexBounds(zoom)
}

// NewPlan derives the tiling and zoom range of src.
func NewPlan(src raster.Source, opts *Options) (*Plan, error) {
	if err := opts.prepare(); err != nil {
		return nil, err
	}
	tms, err := opts.tileMatrixSet()
	if err != nil {
		return nil, err
	}
	projector, err := mercator.NewProjector(mercator.GeoTransform(src.GeoTransform()), src.Projection())
	if err != nil {
		return nil, err
	}
	width, height := src.Size()
	cfg, err := tiling.ForRaster(projector, width, height, opts.TileSize, tms)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Width: width, Height: height, Projection: src.Projection(), Tiling: cfg}
	plan.MinZoom, plan.BaseZoom = cfg.MinZoom(), cfg.MaxZoom()
	if opts.MinZoom != nil {
		plan.MinZoom = *opts.MinZoom
	}
	if opts.MaxZoom != nil {
		plan.BaseZoom = *opts.MaxZoom
		if opts.MinZoom == nil && plan.MinZoom > plan.BaseZoom {
			plan.MinZoom = plan.BaseZoom
		}
	}
	if plan.BaseZoom > cfg.MatrixMaxZoom() {
		return nil, fmt.Errorf("%w: zoom %d beyond tile matrix set", errs.ErrGeometry, plan.BaseZoom)
	}
	if plan.MinZoom > plan.BaseZoom {
		return nil, fmt.Errorf("%w: min zoom %d above base zoom %d", errs.ErrGeometry, plan.MinZoom, plan.BaseZoom)
	}
	plan.Base = cfg.TileIndexBounds(plan.BaseZoom)
	return plan, nil
}

// Result summarizes a finished build.
type Result struct {
	Plan  *Plan
	Index *codec.Index
}

// chunk is a range of base rows [top, bottom) handled by one worker.
type chunk struct {
	top, bottom uint
}

// part is the partial pyramid of a chunk.
type part struct {
	aggregator *pyramid.Aggregator
	writer     *codec.Writer
}

func splitRows(top, bottom uint, n int) []chunk {
	rows := int(bottom - top)
	if n > rows {
		n = rows
	}
	chunks := make([]chunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, chunk{
			top:    top + uint(i*rows/n),
			bottom: top + uint((i+1)*rows/n),
		})
	}
	return chunks
}

// Build writes the tile pyramid of the raster opened by open to opts.Output.
// Every worker opens its own handle on the raster. On error the output may hold
// tiles, but no index.
func Build(ctx context.Context, open raster.Opener, opts Options) (*Result, error) {
	src, err := open()
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(src, &opts)
	closeErr := src.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, closeErr)
	}
	if err = os.MkdirAll(opts.Output, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	chunks := splitRows(plan.Base.Top, plan.Base.Bottom, opts.Concurrency*opts.ChunksPerWorker)
	log.Printf("  zooms %d..%d, %d x %d base tiles in %d chunks",
		plan.MinZoom, plan.BaseZoom, plan.Base.Width(), plan.Base.Height(), len(chunks))
	tracker := progress.NewTracker(int64(plan.Base.Height()), opts.Reporter)

	parts := make([]*part, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			p, err := buildChunk(gctx, open, plan, c, opts.Output, tracker)
			if err != nil {
				return err
			}
			parts[i] = p
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	log.Printf("  resampled %d of %d base rows", tracker.Done(), tracker.Total())

	// join the partial pyramids top to bottom, then close the pyramid
	root := parts[0]
	for _, p := range parts[1:] {
		if err = root.aggregator.Combine(p.aggregator); err != nil {
			return nil, err
		}
	}
	if err = root.aggregator.Flush(); err != nil {
		return nil, err
	}
	if n := root.aggregator.Pending(); n != 0 {
		return nil, fmt.Errorf("%w: %d rows left after flush", errs.ErrDataInvariant, n)
	}

	index := codec.NewIndex()
	for _, p := range parts {
		if err = index.Merge(p.writer.Index()); err != nil {
			return nil, err
		}
	}
	if err = index.WriteFile(codec.IndexPath(opts.Output)); err != nil {
		return nil, err
	}
	log.Printf("  wrote %d tiles", index.Len())
	return &Result{Plan: plan, Index: index}, nil
}

func buildChunk(ctx context.Context, open raster.Opener, plan *Plan, c chunk, output string, tracker *progress.Tracker) (*part, error) {
	src, err := open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	writer, err := codec.NewWriter(output)
	if err != nil {
		return nil, err
	}
	aggregator := pyramid.NewAggregator(plan.MinZoom, plan.BaseZoom, plan.Base.Top, writer.WriteRow)
	valid := raster.Valid(src)
	for y := c.top; y < c.bottom; y++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		ts, err := resampleRow(src, valid, plan, y)
		if err != nil {
			return nil, err
		}
		if err = aggregator.Push(ts); err != nil {
			return nil, err
		}
		tracker.Add(1)
	}
	return &part{aggregator: aggregator, writer: writer}, nil
}

// resampleRow builds base row y out of the raster pixels below it.
func resampleRow(src raster.Source, valid func(float64) bool, plan *Plan, y uint) (*pyramid.TileSet, error) {
	band := plan.Tiling.Band(plan.BaseZoom, y)
	builder := pyramid.NewRowBuilder(plan.Base.Left, plan.Base.Right, y, plan.BaseZoom, plan.Tiling.TileSize())
	if window, ok := band.Window(plan.Width, plan.Height); ok {
		data, err := src.ReadWindow(window)
		if err != nil {
			return nil, err
		}
		band.Process(data, valid, func(o resample.Overlap, value float64) {
			builder.Add(o.Tile, o.Col, o.Row, value, o.Weight)
		})
	}
	return builder.Finish(), nil
}
