package tiling

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mercator"
	"github.com/pdok/rastertile/raster"
	"github.com/pdok/rastertile/tms20"
)

func unitQuad(t *testing.T) tms20.TileMatrixSet {
	tms, err := tms20.LoadJSONTileMatrixSet("../tms20/testdata/UnitQuad.json")
	require.NoError(t, err)
	return tms
}

func forRaster(t *testing.T, gt mercator.GeoTransform, projection string, width, height int, tms tms20.TileMatrixSet) (*Config, error) {
	t.Helper()
	p, err := mercator.NewProjector(gt, projection)
	require.NoError(t, err)
	return ForRaster(p, width, height, 256, tms)
}

func TestForRaster(t *testing.T) {
	c, err := forRaster(t, mercator.GeoTransform{0, 1, 0, 512, 0, -1}, "", 512, 512, unitQuad(t))
	require.NoError(t, err)
	assert.Equal(t, geom.Extent{0, 0, 512, 512}, c.Bounds())
	assert.Equal(t, 1.0, c.PixelSize())
	assert.Equal(t, uint(11), c.MinZoom())
	assert.Equal(t, uint(12), c.MaxZoom())
	assert.Equal(t, uint(16), c.MatrixMaxZoom())
	assert.Equal(t, Rect{Left: 0, Top: 4094, Right: 2, Bottom: 4096}, c.TileIndexBounds(12))
	assert.Equal(t, Rect{Left: 0, Top: 2047, Right: 1, Bottom: 2048}, c.TileIndexBounds(11))
	assert.Equal(t, Rect{Left: 0, Top: 0, Right: 1, Bottom: 1}, c.TileIndexBounds(0))

	x, y := c.PixelToTile(12).Apply(0, 0)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 4094.0, y)
	x, y = c.PixelToTile(11).Apply(512, 512)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 2048.0, y)

	assert.Equal(t, geom.Extent{0, 256, 512, 512}, c.RowPixelBounds(12, 4095, 0, 2))
	assert.Equal(t, geom.Extent{0, -512, 1024, 512}, c.RowPixelBounds(10, 1023, 0, 1))
}

func TestForRaster_Invalid(t *testing.T) {
	northUp := mercator.GeoTransform{0, 1, 0, 512, 0, -1}
	tests := []struct {
		name     string
		gt       mercator.GeoTransform
		width    int
		tileSize int
		tms      string
	}{
		{name: "odd tile size", gt: northUp, width: 512, tileSize: 255},
		{name: "tile size zero", gt: northUp, width: 512, tileSize: 0},
		{name: "empty raster", gt: northUp, width: 0, tileSize: 256},
		{name: "tall pixels", gt: mercator.GeoTransform{0, 1, 0, 512, 0, -2}, width: 512, tileSize: 256},
		{name: "wide pixels", gt: mercator.GeoTransform{0, 1.3, 0, 512, 0, -1}, width: 512, tileSize: 256},
		{name: "tile matrix set in another crs", gt: northUp, width: 512, tileSize: 256, tms: "testdata/UnitQuadRD.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tms := unitQuad(t)
			if tt.tms != "" {
				var err error
				tms, err = tms20.LoadJSONTileMatrixSet(tt.tms)
				require.NoError(t, err)
				require.NoError(t, tms.ValidateQuadTree())
			}
			p, err := mercator.NewProjector(tt.gt, "")
			require.NoError(t, err)
			_, err = ForRaster(p, tt.width, 256, tt.tileSize, tms)
			assert.ErrorIs(t, err, errs.ErrGeometry)
		})
	}
}

func TestForRaster_LongLat(t *testing.T) {
	tms, err := tms20.LoadEmbeddedTileMatrixSet("WebMercatorQuad")
	require.NoError(t, err)
	longLat := "+proj=longlat +datum=WGS84 +no_defs"

	// at 52 degrees north a square degree is far taller than wide in web mercator
	_, err = forRaster(t, mercator.GeoTransform{5, 0.001, 0, 53, 0, -0.001}, longLat, 1000, 1000, tms)
	assert.ErrorIs(t, err, errs.ErrGeometry)

	c, err := forRaster(t, mercator.GeoTransform{5, 0.001, 0, 53, 0, -0.0006}, longLat, 1000, 1000, tms)
	require.NoError(t, err)
	assert.InDelta(t, 556597.45, c.Bounds().MinX(), 0.01)
	assert.InDelta(t, 667916.94, c.Bounds().MaxX(), 0.01)
	assert.Greater(t, c.MaxZoom(), c.MinZoom())
	r := c.TileIndexBounds(c.MinZoom())
	assert.Equal(t, uint(1), r.Width())
	assert.Equal(t, uint(1), r.Height())
}

func TestConfig_NestedRects(t *testing.T) {
	// offset from the grid so that the edges are ragged at every zoom
	c, err := forRaster(t, mercator.GeoTransform{100, 1, 0, 1600, 0, -1}, "", 1000, 1400, unitQuad(t))
	require.NoError(t, err)
	assert.Equal(t, uint(9), c.MinZoom())
	assert.Equal(t, uint(12), c.MaxZoom())
	assert.Equal(t, Rect{Left: 0, Top: 4089, Right: 5, Bottom: 4096}, c.TileIndexBounds(12))
	for zoom := c.MinZoom(); zoom < c.MatrixMaxZoom(); zoom++ {
		child := c.TileIndexBounds(zoom + 1)
		assert.Equal(t, c.TileIndexBounds(zoom), child.Parent(), "zoom %d", zoom)
	}
}

func TestConfig_Band(t *testing.T) {
	c, err := forRaster(t, mercator.GeoTransform{100, 1, 0, 1600, 0, -1}, "", 1000, 1400, unitQuad(t))
	require.NoError(t, err)

	band := c.Band(12, 4089)
	assert.Equal(t, 5, band.Tiles())
	assert.Equal(t, geom.Extent{-100, -192, 1180, 64}, band.Extent())
	window, ok := band.Window(1000, 1400)
	require.True(t, ok)
	assert.Equal(t, raster.Window{Col: 0, Row: 0, Width: 1000, Height: 64}, window)

	band = c.Band(11, 2047)
	window, ok = band.Window(1000, 1400)
	require.True(t, ok)
	assert.Equal(t, raster.Window{Col: 0, Row: 1088, Width: 1000, Height: 312}, window)
}

func TestRect(t *testing.T) {
	r := Rect{Left: 3, Top: 5, Right: 8, Bottom: 6}
	assert.Equal(t, uint(5), r.Width())
	assert.Equal(t, uint(1), r.Height())
	assert.Equal(t, Rect{Left: 1, Top: 2, Right: 4, Bottom: 3}, r.Parent())
	assert.Equal(t, Rect{Left: 0, Top: 1, Right: 2, Bottom: 2}, r.Parent().Parent())
}

func TestAffine_Inverse(t *testing.T) {
	a := Affine{X0: 4, DX: 0.5, Y0: -2, DY: -0.25}
	x, y := a.Inverse().Apply(a.Apply(3, 7))
	assert.InDelta(t, 3, x, 1e-12)
	assert.InDelta(t, 7, y, 1e-12)
}
