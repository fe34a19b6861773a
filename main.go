package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom/slippy"
	"github.com/iancoleman/strcase"
	"github.com/muesli/reflow/truncate"
	"github.com/urfave/cli/v2"

	"github.com/pdok/rastertile/codec"
	"github.com/pdok/rastertile/processing"
	"github.com/pdok/rastertile/progress"
	"github.com/pdok/rastertile/raster"
	"github.com/pdok/rastertile/xyz"
)

const INPUT string = `input`
const OUTPUT string = `output`
const OVERWRITE string = `overwrite`
const TILEMATRIXSET string = `tilematrixset`
const TILEMATRIXSETFILE string = `tilematrixsetFile`
const TILESIZE string = `tileSize`
const MINZOOM string = `minZoom`
const MAXZOOM string = `maxZoom`
const CONCURRENCY string = `concurrency`
const PROGRESS string = `progress`
const ZOOM string = `zoom`
const TILEX string = `x`
const TILEY string = `y`
const WIDTH string = `width`
const HEIGHT string = `height`

const projectionWidth = 72

func envVars(name string) []string {
	return []string{strcase.ToScreamingSnake(name)}
}

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "rastertile"
	app.Usage = "A Golang raster to Web Mercator tile pyramid application"
	app.Version = versioninfo.Short()

	inputFlag := &cli.StringFlag{
		Name:     INPUT,
		Aliases:  []string{"i"},
		Usage:    "Source raster, an ESRI float grid (.flt/.hdr) or a TIFF with world file",
		Required: true,
		EnvVars:  envVars(INPUT),
	}
	outputFlag := &cli.StringFlag{
		Name:     OUTPUT,
		Aliases:  []string{"o"},
		Usage:    "Output directory for <zoom>/<y>/<x>.bin tiles and index.json",
		Required: true,
		EnvVars:  envVars(OUTPUT),
	}
	tileSizeFlag := &cli.IntFlag{
		Name:    TILESIZE,
		Usage:   "Pixels per tile edge, must be even",
		Value:   256,
		EnvVars: envVars(TILESIZE),
	}
	tmsFlag := &cli.StringFlag{
		Name:    TILEMATRIXSET,
		Aliases: []string{"tms"},
		Usage:   `ID of a (built-in) tile matrix set. E.g.: WebMercatorQuad`,
		Value:   "WebMercatorQuad",
		EnvVars: envVars(TILEMATRIXSET),
	}
	tmsFileFlag := &cli.StringFlag{
		Name:    TILEMATRIXSETFILE,
		Usage:   "Path to a tile matrix set JSON file, overrides --tilematrixset",
		EnvVars: envVars(TILEMATRIXSETFILE),
	}
	buildFlags := []cli.Flag{
		inputFlag,
		outputFlag,
		tileSizeFlag,
		tmsFlag,
		tmsFileFlag,
		&cli.BoolFlag{
			Name:    OVERWRITE,
			Usage:   "Remove the output directory first if it exists",
			EnvVars: envVars(OVERWRITE),
		},
		&cli.UintFlag{
			Name:    MINZOOM,
			Usage:   "Coarsest zoom to build, by default the deepest zoom with a single tile covering the raster",
			EnvVars: envVars(MINZOOM),
		},
		&cli.UintFlag{
			Name:    MAXZOOM,
			Usage:   "Base zoom to resample the raster at, by default the first zoom at least as fine as the raster",
			EnvVars: envVars(MAXZOOM),
		},
		&cli.IntFlag{
			Name:    CONCURRENCY,
			Aliases: []string{"c"},
			Usage:   "Number of workers, defaults to the number of CPUs",
			EnvVars: envVars(CONCURRENCY),
		},
		&cli.BoolFlag{
			Name:    PROGRESS,
			Aliases: []string{"p"},
			Usage:   "Show a progress bar on stderr",
			EnvVars: envVars(PROGRESS),
		},
	}

	app.DefaultCommand = "build"
	app.Commands = []*cli.Command{
		{
			Name:   "build",
			Usage:  "Build the tile pyramid of a raster (default)",
			Flags:  buildFlags,
			Action: build,
		},
		{
			Name:   "info",
			Usage:  "Show the tiling of a raster without building it",
			Flags:  []cli.Flag{inputFlag, tileSizeFlag, tmsFlag, tmsFileFlag},
			Action: info,
		},
		{
			Name:  "inspect",
			Usage: "Check the tiles of an output directory against its index, or decode one tile",
			Flags: []cli.Flag{
				outputFlag,
				&cli.UintFlag{Name: ZOOM, Aliases: []string{"z"}, EnvVars: envVars(ZOOM)},
				&cli.UintFlag{Name: TILEX, EnvVars: envVars("tile_" + TILEX)},
				&cli.UintFlag{Name: TILEY, EnvVars: envVars("tile_" + TILEY)},
			},
			Action: inspect,
		},
		{
			Name:  "synth",
			Usage: "Write a synthetic ESRI float grid in Web Mercator",
			Flags: []cli.Flag{
				outputFlag,
				&cli.IntFlag{Name: WIDTH, Value: 2048, EnvVars: envVars(WIDTH)},
				&cli.IntFlag{Name: HEIGHT, Value: 1536, EnvVars: envVars(HEIGHT)},
			},
			Action: synth,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func options(c *cli.Context) processing.Options {
	opts := processing.Options{
		Output:            c.String(OUTPUT),
		TileSize:          c.Int(TILESIZE),
		TileMatrixSet:     c.String(TILEMATRIXSET),
		TileMatrixSetPath: c.String(TILEMATRIXSETFILE),
		Concurrency:       c.Int(CONCURRENCY),
	}
	if c.IsSet(MINZOOM) {
		minZoom := c.Uint(MINZOOM)
		opts.MinZoom = &minZoom
	}
	if c.IsSet(MAXZOOM) {
		maxZoom := c.Uint(MAXZOOM)
		opts.MaxZoom = &maxZoom
	}
	return opts
}

func plan(open raster.Opener, opts *processing.Options) (*processing.Plan, error) {
	src, err := open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return processing.NewPlan(src, opts)
}

func build(c *cli.Context) error {
	open, err := raster.NewOpener(c.String(INPUT))
	if err != nil {
		return err
	}
	opts := options(c)
	if c.Bool(OVERWRITE) {
		if err = os.RemoveAll(opts.Output); err != nil {
			return err
		}
	} else if _, err = os.Stat(codec.IndexPath(opts.Output)); err == nil {
		return fmt.Errorf("output %s already holds a pyramid, use --%s", opts.Output, OVERWRITE)
	}
	if c.Bool(PROGRESS) {
		p, err := plan(open, &opts)
		if err != nil {
			return err
		}
		opts.Reporter = progress.NewBar(os.Stderr, int64(p.Base.Height()), "resampling")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("=== start tiling ===")
	log.Printf("  tiling %s", c.String(INPUT))
	result, err := processing.Build(ctx, open, opts)
	if err != nil {
		return err
	}
	log.Printf("  finished %s, zooms %d..%d", opts.Output, result.Plan.MinZoom, result.Plan.BaseZoom)
	log.Println("=== done tiling ===")
	return nil
}

func info(c *cli.Context) error {
	open, err := raster.NewOpener(c.String(INPUT))
	if err != nil {
		return err
	}
	opts := options(c)
	// NewPlan wants somewhere to write to, nothing is written
	opts.Output = os.TempDir()
	p, err := plan(open, &opts)
	if err != nil {
		return err
	}

	projection := p.Projection
	if projection == "" {
		projection = "(none, taken as Web Mercator)"
	}
	bounds := p.Tiling.Bounds()
	fmt.Printf("size:        %d x %d\n", p.Width, p.Height)
	fmt.Printf("projection:  %s\n", truncate.StringWithTail(projection, projectionWidth, "..."))
	fmt.Printf("bounds:      %.3f %.3f %.3f %.3f\n", bounds.MinX(), bounds.MinY(), bounds.MaxX(), bounds.MaxY())
	fmt.Printf("pixel size:  %.6g\n", p.Tiling.PixelSize())
	fmt.Printf("zooms:       %d..%d\n", p.MinZoom, p.BaseZoom)
	for zoom := p.MinZoom; zoom <= p.BaseZoom; zoom++ {
		r := p.Rect(zoom)
		fmt.Printf("  %2d: x %d..%d, y %d..%d, %d tiles\n",
			zoom, r.Left, r.Right-1, r.Top, r.Bottom-1, r.Width()*r.Height())
	}
	return nil
}

func inspect(c *cli.Context) error {
	dir := c.String(OUTPUT)
	index, err := codec.ReadIndex(codec.IndexPath(dir))
	if err != nil {
		return err
	}
	reader, err := xyz.NewReader(xyz.DefaultPattern(dir))
	if err != nil {
		return err
	}

	if c.IsSet(ZOOM) {
		tile := slippy.NewTile(c.Uint(ZOOM), c.Uint(TILEX), c.Uint(TILEY))
		stats, ok := index.Get(tile.Z, tile.Y, tile.X)
		if !ok {
			return fmt.Errorf("tile %d/%d/%d not in index", tile.Z, tile.Y, tile.X)
		}
		body, err := reader.ReadTile(tile)
		if err != nil {
			return err
		}
		values, err := codec.Decode(body, stats)
		if err != nil {
			return err
		}
		valid := 0
		for _, v := range values {
			if !math.IsNaN(v) {
				valid++
			}
		}
		fmt.Printf("tile %d/%d/%d: min %v, max %v, err %v, %d of %d pixels hold data\n",
			tile.Z, tile.Y, tile.X, stats.Min, stats.Max, stats.Err, valid, len(values))
		return nil
	}

	log.Println("=== start inspecting ===")
	counts := make(map[uint]int)
	maxErr := make(map[uint]float64)
	err = reader.VisitTiles(func(tile *slippy.Tile, body []byte) error {
		stats, ok := index.Get(tile.Z, tile.Y, tile.X)
		if !ok {
			return fmt.Errorf("tile %d/%d/%d not in index", tile.Z, tile.Y, tile.X)
		}
		if _, err := codec.Decode(body, stats); err != nil {
			return err
		}
		counts[tile.Z]++
		maxErr[tile.Z] = math.Max(maxErr[tile.Z], stats.Err)
		return nil
	})
	if err != nil {
		return err
	}
	total := 0
	for _, zoom := range index.Zooms() {
		log.Printf("  zoom %2d: %d tiles, max error %g", zoom, counts[zoom], maxErr[zoom])
		total += counts[zoom]
	}
	if total != index.Len() {
		return fmt.Errorf("index lists %d tiles, found %d", index.Len(), total)
	}
	log.Println("=== done inspecting ===")
	return nil
}

// synth writes a smooth surface with a ridge, in Web Mercator around the origin.
func synth(c *cli.Context) error {
	width, height := c.Int(WIDTH), c.Int(HEIGHT)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("raster size %d x %d", width, height)
	}
	const pixel = 30.0
	gt := [6]float64{0, pixel, 0, float64(height) * pixel, 0, -pixel}
	grid := raster.Fill(width, height, gt, "", func(col, row int) float64 {
		x, y := float64(col)/float64(width), float64(row)/float64(height)
		return 100*math.Sin(3*math.Pi*x)*math.Cos(2*math.Pi*y) + 400*math.Exp(-40*(x-y)*(x-y))
	})
	if err := raster.WriteFloatGrid(c.String(OUTPUT), grid); err != nil {
		return err
	}
	log.Printf("  wrote %s, %d x %d", c.String(OUTPUT), width, height)
	return nil
}
