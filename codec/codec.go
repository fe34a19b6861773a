// Package codec quantizes tiles to 16 bit codes and keeps the stats needed to decode them.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pdok/rastertile/errs"
	"github.com/pdok/rastertile/mathhelp"
	"github.com/pdok/rastertile/pyramid"
)

// Bins is the number of quantization steps. Code 0 is no data, codes 1..Bins are values.
const Bins = math.MaxUint16

// TileStats holds what is needed to decode a tile: value range, step count and the
// largest error the quantization introduced. Min and Max are NaN for a tile without data.
type TileStats struct {
	Min  float64
	Max  float64
	Bins uint32
	Err  float64
}

type tileStatsJSON struct {
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
	Bins uint32   `json:"bins"`
	Err  float64  `json:"err"`
}

func nullable(f float64) *float64 {
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func (s TileStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(tileStatsJSON{Min: nullable(s.Min), Max: nullable(s.Max), Bins: s.Bins, Err: s.Err})
}

func (s *TileStats) UnmarshalJSON(data []byte) error {
	var raw tileStatsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Min, s.Max = math.NaN(), math.NaN()
	if raw.Min != nil {
		s.Min = *raw.Min
	}
	if raw.Max != nil {
		s.Max = *raw.Max
	}
	s.Bins, s.Err = raw.Bins, raw.Err
	return nil
}

// Empty reports whether the tile had no data at all.
func (s TileStats) Empty() bool {
	return math.IsNaN(s.Min)
}

// Quantize returns the code of v. NaN maps to 0.
func (s TileStats) Quantize(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	if s.Max <= s.Min {
		return 1
	}
	coeff := float64(s.Bins) / (s.Max - s.Min)
	disc := math.Floor((mathhelp.Clamp(v, s.Min, s.Max) - s.Min) * coeff)
	return uint16(mathhelp.Clamp(disc+1, 1, math.MaxUint16))
}

// Dequantize returns the value code stands for. Code 0 maps to NaN.
func (s TileStats) Dequantize(code uint16) float64 {
	if code == 0 || s.Empty() {
		return math.NaN()
	}
	if s.Max <= s.Min {
		return s.Min
	}
	return s.Min + float64(code-1)*(s.Max-s.Min)/float64(s.Bins)
}

// Encode quantizes t into big-endian, row-major 16 bit codes.
func Encode(t *pyramid.Tile) ([]byte, TileStats) {
	stats := TileStats{Min: t.Min, Max: t.Max, Bins: Bins}
	body := make([]byte, 2*len(t.Data))
	for i, v := range t.Data {
		code := stats.Quantize(v)
		binary.BigEndian.PutUint16(body[2*i:], code)
		if code != 0 {
			stats.Err = math.Max(stats.Err, math.Abs(v-stats.Dequantize(code)))
		}
	}
	return body, stats
}

// Decode turns an encoded tile body back into values.
func Decode(body []byte, stats TileStats) ([]float64, error) {
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: tile body of %d bytes", errs.ErrIO, len(body))
	}
	values := make([]float64, len(body)/2)
	for i := range values {
		values[i] = stats.Dequantize(binary.BigEndian.Uint16(body[2*i:]))
	}
	return values, nil
}
