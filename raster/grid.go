package raster

import "math"

// Grid is a raster held in memory.
type Grid struct {
	width, height int
	data          []float64
	gt            [6]float64
	projection    string
	noData        float64
	hasNoData     bool
}

// NewGrid wraps row-major data of width x height pixels.
func NewGrid(width, height int, data []float64, gt [6]float64, projection string) *Grid {
	if len(data) != width*height {
		panic("grid data does not match its size")
	}
	return &Grid{width: width, height: height, data: data, gt: gt, projection: projection, noData: math.NaN()}
}

// Fill creates a grid with f(col, row) for every pixel.
func Fill(width, height int, gt [6]float64, projection string, f func(col, row int) float64) *Grid {
	data := make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			data[row*width+col] = f(col, row)
		}
	}
	return NewGrid(width, height, data, gt, projection)
}

// WithNoData marks v as no data.
func (g *Grid) WithNoData(v float64) *Grid {
	g.noData, g.hasNoData = v, true
	return g
}

// Opener hands out the grid itself, it is never written to.
func (g *Grid) Opener() Opener {
	return func() (Source, error) {
		return g, nil
	}
}

func (g *Grid) Size() (int, int) {
	return g.width, g.height
}

func (g *Grid) NoData() (float64, bool) {
	return g.noData, g.hasNoData
}

func (g *Grid) GeoTransform() [6]float64 {
	return g.gt
}

func (g *Grid) Projection() string {
	return g.projection
}

func (g *Grid) ReadWindow(w Window) (*Band, error) {
	if err := checkWindow(w, g.width, g.height); err != nil {
		return nil, err
	}
	band := &Band{Window: w, Data: make([]float64, 0, w.Width*w.Height)}
	for row := w.Row; row < w.Row+w.Height; row++ {
		offset := row*g.width + w.Col
		band.Data = append(band.Data, g.data[offset:offset+w.Width]...)
	}
	return band, nil
}

func (g *Grid) Close() error {
	return nil
}
