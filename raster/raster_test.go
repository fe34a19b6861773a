package raster

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/pdok/rastertile/errs"
)

func ramp(width, height int) *Grid {
	return Fill(width, height, [6]float64{10, 2, 0, 100, 0, -2}, "", func(col, row int) float64 {
		return float64(row*width + col)
	})
}

func TestGrid_ReadWindow(t *testing.T) {
	g := ramp(4, 3)
	band, err := g.ReadWindow(Window{Col: 1, Row: 1, Width: 2, Height: 2})
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{5, 6, 9, 10}, band.Data); diff != "" {
		t.Errorf("ReadWindow() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 10.0, band.At(1, 1))

	for _, w := range []Window{
		{Col: -1, Row: 0, Width: 1, Height: 1},
		{Col: 3, Row: 0, Width: 2, Height: 1},
		{Col: 0, Row: 2, Width: 1, Height: 2},
		{Col: 0, Row: 0, Width: 0, Height: 1},
	} {
		_, err := g.ReadWindow(w)
		require.ErrorIsf(t, err, errs.ErrIO, "window %+v", w)
	}
}

func TestValid(t *testing.T) {
	g := ramp(2, 2)
	valid := Valid(g)
	assert.True(t, valid(0))
	assert.False(t, valid(math.NaN()))

	valid = Valid(ramp(2, 2).WithNoData(-9999))
	assert.True(t, valid(0))
	assert.False(t, valid(-9999))
	assert.False(t, valid(math.NaN()))
}

func TestFloatGrid_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dem.flt")
	src := ramp(5, 4).WithNoData(-9999)
	src.data[3] = -9999
	src.projection = "+proj=longlat +datum=WGS84 +no_defs"
	require.NoError(t, WriteFloatGrid(path, src))

	opener, err := NewOpener(filepath.Join(dir, "dem.hdr"))
	require.NoError(t, err)
	got, err := opener()
	require.NoError(t, err)
	defer got.Close()

	width, height := got.Size()
	assert.Equal(t, 5, width)
	assert.Equal(t, 4, height)
	assert.Equal(t, src.GeoTransform(), got.GeoTransform())
	assert.Equal(t, src.Projection(), got.Projection())
	noData, ok := got.NoData()
	assert.True(t, ok)
	assert.Equal(t, -9999.0, noData)

	want, err := src.ReadWindow(Window{Col: 1, Row: 0, Width: 3, Height: 3})
	require.NoError(t, err)
	band, err := got.ReadWindow(Window{Col: 1, Row: 0, Width: 3, Height: 3})
	require.NoError(t, err)
	if diff := cmp.Diff(want, band); diff != "" {
		t.Errorf("ReadWindow() mismatch (-want +got):\n%s", diff)
	}

	_, err = got.ReadWindow(Window{Col: 4, Row: 0, Width: 2, Height: 1})
	require.ErrorIs(t, err, errs.ErrIO)
}

func TestReadHeader_CenterAndMSB(t *testing.T) {
	dir := t.TempDir()
	hdr := "NCOLS 3\nNROWS 2\nXLLCENTER 0.5\nYLLCENTER 0.5\nCELLSIZE 1\nBYTEORDER MSBFIRST\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g.hdr"), []byte(hdr), 0644))
	got, err := readHeader(filepath.Join(dir, "g.flt"))
	require.NoError(t, err)
	assert.Equal(t, [6]float64{0, 1, 0, 2, 0, -1}, got.gt)
	assert.False(t, got.hasNoData)
	assert.Equal(t, "BigEndian", got.order.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.hdr"), []byte("ncols 3\n"), 0644))
	_, err = readHeader(filepath.Join(dir, "bad.hdr"))
	require.ErrorIs(t, err, errs.ErrIO)
}

func TestReadTIFF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.tif")
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())

	_, err = NewOpener(path)
	require.ErrorIs(t, err, errs.ErrIO, "missing world file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "img.tfw"), []byte("2\n0\n0\n-2\n101\n199\n"), 0644))
	opener, err := NewOpener(path)
	require.NoError(t, err)
	src, err := opener()
	require.NoError(t, err)

	assert.Equal(t, [6]float64{100, 2, 0, 200, 0, -2}, src.GeoTransform())
	band, err := src.ReadWindow(Window{Width: 3, Height: 2})
	require.NoError(t, err)
	want := make([]float64, 6)
	for i := range want {
		want[i] = float64(uint16(2*i)<<8 | uint16(2*i+1))
	}
	if diff := cmp.Diff(want, band.Data); diff != "" {
		t.Errorf("ReadWindow() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewOpener_Unsupported(t *testing.T) {
	_, err := NewOpener("raster.png")
	require.ErrorIs(t, err, errs.ErrIO)
}
