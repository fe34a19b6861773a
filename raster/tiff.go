package raster

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/pdok/rastertile/errs"
)

// ReadTIFF decodes a single band TIFF into memory. The geo transform comes from
// the .tfw world file next to it, the projection from an optional .prj.
func ReadTIFF(path string) (*Grid, error) {
	gt, err := readWorldFile(path)
	if err != nil {
		return nil, err
	}
	projection, err := readProjection(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", errs.ErrIO, path, err)
	}

	bounds := img.Bounds()
	var value func(x, y int) float64
	switch typed := img.(type) {
	case *image.Gray16:
		value = func(x, y int) float64 { return float64(typed.Gray16At(x, y).Y) }
	case *image.Gray:
		value = func(x, y int) float64 { return float64(typed.GrayAt(x, y).Y) }
	default:
		value = func(x, y int) float64 {
			return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
		}
	}
	return Fill(bounds.Dx(), bounds.Dy(), gt, projection, func(col, row int) float64 {
		return value(bounds.Min.X+col, bounds.Min.Y+row)
	}), nil
}

// readWorldFile parses the six lines of a TIFF world file into a geo transform.
// A world file references pixel centers, the geo transform pixel corners.
func readWorldFile(path string) ([6]float64, error) {
	var gt [6]float64
	var data []byte
	var err error
	for _, ext := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld"} {
		data, err = os.ReadFile(siblingPath(path, ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		return gt, fmt.Errorf("%w: no world file for %s", errs.ErrIO, path)
	}

	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return gt, fmt.Errorf("%w: world file for %s: expected 6 values, got %d", errs.ErrIO, path, len(lines))
	}
	var v [6]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(lines[i], 64); err != nil {
			return gt, fmt.Errorf("%w: world file for %s line %d: %v", errs.ErrIO, path, i+1, err)
		}
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	return [6]float64{c - a/2 - b/2, a, b, f - d/2 - e/2, d, e}, nil
}
