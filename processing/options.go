package processing

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/progress"
	"github.com/pdok/rastertile/tms20"
)

// Options configure a pyramid build.
type Options struct {
	// Output directory for tiles and index.json
	Output string `validate:"required"`
	// Pixels per tile edge
	TileSize int `default:"256" validate:"gte=2,even"`
	// Coarsest and finest zoom to build, derived from the raster when nil
	MinZoom *uint
	MaxZoom *uint
	// Number of rows of base tiles read and resampled at the same time
	Concurrency int `validate:"gte=1"`
	// Chunks of base rows per worker, more chunks even out uneven rows
	ChunksPerWorker int `default:"4" validate:"gte=1"`
	// ID of an embedded tile matrix set, ignored when TileMatrixSetPath is set
	TileMatrixSet string `default:"WebMercatorQuad"`
	// Path to a tile matrix set JSON file
	TileMatrixSetPath string `validate:"omitempty,file"`
	// Receives a unit per finished base row
	Reporter progress.Reporter `validate:"-"`
}

func (o *Options) SetDefaults() {
	if defaults.CanUpdate(o.Concurrency) {
		o.Concurrency = runtime.NumCPU()
	}
}

func validateEven(fl validator.FieldLevel) bool {
	return fl.Field().Int()%2 == 0
}

// prepare fills defaults and validates. An odd tile size is a geometry error.
func (o *Options) prepare() error {
	if err := defaults.Set(o); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("even", validateEven); err != nil {
		return err
	}
	err := validate.Struct(o)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Field() == "TileSize" {
				return fmt.Errorf("%w: tile size must be even and at least 2, got %d", errs.ErrGeometry, o.TileSize)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if o.MinZoom != nil && o.MaxZoom != nil && *o.MinZoom > *o.MaxZoom {
		return fmt.Errorf("invalid options: min zoom %d above max zoom %d", *o.MinZoom, *o.MaxZoom)
	}
	return nil
}

func (o *Options) tileMatrixSet() (tms20.TileMatrixSet, error) {
	if o.TileMatrixSetPath != "" {
		return tms20.LoadJSONTileMatrixSet(o.TileMatrixSetPath)
	}
	return tms20.LoadEmbeddedTileMatrixSet(o.TileMatrixSet)
}
