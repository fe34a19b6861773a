package codec

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mathhelp"
	"github.com/pdok/rastertile/pyramid"
)

func newTile(x, y, zoom uint, data []float64) *pyramid.Tile {
	t := &pyramid.Tile{X: x, Y: y, Zoom: zoom, Size: int(math.Sqrt(float64(len(data)))), Data: data,
		Min: math.NaN(), Max: math.NaN()}
	for _, v := range data {
		t.Min, t.Max = mathhelp.NaNMinMax(t.Min, t.Max, v)
	}
	return t
}

func TestEncodeDecode_Bound(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, scale := range []float64{1e-6, 1, 1234.5, 1e9} {
		data := make([]float64, 64*64)
		for i := range data {
			if i%17 == 0 {
				data[i] = math.NaN()
			} else {
				data[i] = (r.Float64() - 0.3) * scale
			}
		}
		tile := newTile(0, 0, 1, data)
		body, stats := Encode(tile)
		require.Len(t, body, 2*len(data))
		assert.Equal(t, uint32(Bins), stats.Bins)

		decoded, err := Decode(body, stats)
		require.NoError(t, err)
		bound := (stats.Max - stats.Min) / Bins
		var maxErr float64
		for i, v := range data {
			if math.IsNaN(v) {
				require.Truef(t, math.IsNaN(decoded[i]), "cell %d", i)
				continue
			}
			diff := math.Abs(v - decoded[i])
			require.LessOrEqualf(t, diff, bound*(1+1e-9), "cell %d", i)
			maxErr = math.Max(maxErr, diff)
		}
		assert.Equal(t, maxErr, stats.Err, "reported error is the observed maximum")
	}
}

func TestQuantize(t *testing.T) {
	stats := TileStats{Min: 10, Max: 20, Bins: Bins}
	assert.Equal(t, uint16(0), stats.Quantize(math.NaN()))
	assert.Equal(t, uint16(1), stats.Quantize(10))
	assert.Equal(t, uint16(1), stats.Quantize(-5), "clamped to min")
	assert.Equal(t, uint16(math.MaxUint16), stats.Quantize(20))
	assert.Equal(t, uint16(math.MaxUint16), stats.Quantize(25), "clamped to max")
	assert.Equal(t, 10.0, stats.Dequantize(1))
	assert.True(t, math.IsNaN(stats.Dequantize(0)))
}

func TestEncode_Degenerate(t *testing.T) {
	body, stats := Encode(newTile(0, 0, 1, []float64{5, 5, math.NaN(), 5}))
	assert.Equal(t, []byte{0, 1, 0, 1, 0, 0, 0, 1}, body)
	assert.Equal(t, 0.0, stats.Err)
	decoded, err := Decode(body, stats)
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{5, 5, math.NaN(), 5}, decoded, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}

	body, stats = Encode(newTile(0, 0, 1, []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}))
	assert.Equal(t, make([]byte, 8), body)
	assert.True(t, stats.Empty())
	js, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"min": null, "max": null, "bins": 65535, "err": 0}`, string(js))

	var back TileStats
	require.NoError(t, json.Unmarshal(js, &back))
	assert.True(t, back.Empty())

	_, err = Decode([]byte{1, 2, 3}, stats)
	require.ErrorIs(t, err, errs.ErrIO)
}

func TestIndex_JSON(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Add(10, 2, 1, TileStats{Min: 0, Max: 1, Bins: Bins, Err: 0.5}))
	require.NoError(t, ix.Add(10, 2, 0, TileStats{Min: -1, Max: 1, Bins: Bins}))
	require.NoError(t, ix.Add(2, 10, 7, TileStats{Min: 3, Max: 4, Bins: Bins}))
	require.NoError(t, ix.Add(10, 11, 9, TileStats{Min: 3, Max: 4, Bins: Bins}))

	got, err := json.Marshal(ix)
	require.NoError(t, err)
	want := `{"2":{"10":{"7":{"min":3,"max":4,"bins":65535,"err":0}}},` +
		`"10":{"2":{"0":{"min":-1,"max":1,"bins":65535,"err":0},"1":{"min":0,"max":1,"bins":65535,"err":0.5}},` +
		`"11":{"9":{"min":3,"max":4,"bins":65535,"err":0}}}}`
	assert.Equal(t, want, string(got), "keys ordered numerically")

	back := NewIndex()
	require.NoError(t, json.Unmarshal(got, back))
	assert.Equal(t, 4, back.Len())
	stats, ok := back.Get(10, 2, 1)
	require.True(t, ok)
	assert.Equal(t, 0.5, stats.Err)
	assert.Equal(t, []uint{2, 10}, back.Zooms())
}

func TestIndex_Merge(t *testing.T) {
	a, b := NewIndex(), NewIndex()
	require.NoError(t, a.Add(3, 1, 1, TileStats{Bins: Bins}))
	require.NoError(t, b.Add(3, 1, 2, TileStats{Bins: Bins}))
	require.NoError(t, b.Add(2, 0, 0, TileStats{Bins: Bins}))
	require.NoError(t, a.Merge(b))
	assert.Equal(t, 3, a.Len())

	require.ErrorIs(t, a.Merge(b), errs.ErrDataInvariant, "key collision")
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	row := &pyramid.TileSet{Left: 4, Right: 6, Y: 9, Zoom: 5, Tiles: []*pyramid.Tile{
		newTile(4, 9, 5, []float64{0, 1, 2, 3}),
		newTile(5, 9, 5, []float64{math.NaN(), 1, 1, 1}),
	}}
	require.NoError(t, w.WriteRow(row))

	body, err := os.ReadFile(filepath.Join(dir, "5", "9", "4.bin"))
	require.NoError(t, err)
	stats, ok := w.Index().Get(5, 9, 4)
	require.True(t, ok)
	decoded, err := Decode(body, stats)
	require.NoError(t, err)
	for i, v := range []float64{0, 1, 2, 3} {
		assert.InDelta(t, v, decoded[i], 3.0/Bins)
	}
	require.FileExists(t, filepath.Join(dir, "5", "9", "5.bin"))

	require.NoError(t, w.Index().WriteFile(IndexPath(dir)))
	ix, err := ReadIndex(IndexPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	_, err = w.Write(row.Tiles[0])
	require.ErrorIs(t, err, errs.ErrDataInvariant, "tile written twice")
}

func TestWriter_IOErrors(t *testing.T) {
	// the output "directory" is a regular file
	output := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(output, []byte("not a directory"), 0644))

	w, err := NewWriter(output)
	require.NoError(t, err)
	tile := newTile(4, 9, 5, []float64{0, 1, 2, 3})
	_, err = w.Write(tile)
	require.ErrorIs(t, err, errs.ErrIO)
	err = w.WriteRow(&pyramid.TileSet{Left: 4, Right: 5, Y: 9, Zoom: 5, Tiles: []*pyramid.Tile{tile}})
	require.ErrorIs(t, err, errs.ErrIO)
	_, ok := w.Index().Get(5, 9, 4)
	assert.False(t, ok, "failed tiles are not indexed")

	ix := NewIndex()
	require.NoError(t, ix.Add(5, 9, 4, TileStats{Min: 0, Max: 3, Bins: Bins}))
	require.ErrorIs(t, ix.WriteFile(IndexPath(output)), errs.ErrIO)
	require.ErrorIs(t, ix.WriteFile(t.TempDir()), errs.ErrIO, "index path is a directory")
}
