package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdok/rastertile/errs"
)

// header is the parsed .hdr of an ESRI float grid.
type header struct {
	path       string // of the .flt
	cols, rows int
	gt         [6]float64
	noData     float64
	hasNoData  bool
	order      binary.ByteOrder
	projection string
}

func siblingPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func readHeader(path string) (*header, error) {
	f, err := os.Open(siblingPath(path, ".hdr"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		values[strings.ToLower(fields[0])] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}

	number := func(key string) (float64, bool, error) {
		raw, ok := values[key]
		if !ok {
			return 0, false, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: header %s: %v", errs.ErrIO, key, err)
		}
		return v, true, nil
	}
	required := func(keys ...string) (float64, string, error) {
		for _, key := range keys {
			v, ok, err := number(key)
			if err != nil || ok {
				return v, key, err
			}
		}
		return 0, "", fmt.Errorf("%w: header misses %s", errs.ErrIO, strings.Join(keys, " or "))
	}

	hdr := &header{path: siblingPath(path, ".flt"), order: binary.LittleEndian}
	cols, _, err := required("ncols")
	if err != nil {
		return nil, err
	}
	rows, _, err := required("nrows")
	if err != nil {
		return nil, err
	}
	cell, _, err := required("cellsize")
	if err != nil {
		return nil, err
	}
	x, xKey, err := required("xllcorner", "xllcenter")
	if err != nil {
		return nil, err
	}
	y, yKey, err := required("yllcorner", "yllcenter")
	if err != nil {
		return nil, err
	}
	if xKey == "xllcenter" {
		x -= cell / 2
	}
	if yKey == "yllcenter" {
		y -= cell / 2
	}
	hdr.cols, hdr.rows = int(cols), int(rows)
	hdr.gt = [6]float64{x, cell, 0, y + rows*cell, 0, -cell}
	if hdr.noData, hdr.hasNoData, err = number("nodata_value"); err != nil {
		return nil, err
	}
	if strings.EqualFold(values["byteorder"], "msbfirst") {
		hdr.order = binary.BigEndian
	}
	if hdr.projection, err = readProjection(path); err != nil {
		return nil, err
	}
	return hdr, nil
}

// FloatGrid is an ESRI float grid (.hdr + .flt) read from disk on demand.
type FloatGrid struct {
	hdr  *header
	file *os.File
}

// OpenFloatGrid opens the float grid at path, which may name either the .hdr or the .flt.
func OpenFloatGrid(path string) (*FloatGrid, error) {
	hdr, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	return openFloatGrid(hdr)
}

func openFloatGrid(hdr *header) (*FloatGrid, error) {
	f, err := os.Open(hdr.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return &FloatGrid{hdr: hdr, file: f}, nil
}

func (g *FloatGrid) Size() (int, int) {
	return g.hdr.cols, g.hdr.rows
}

func (g *FloatGrid) NoData() (float64, bool) {
	return g.hdr.noData, g.hdr.hasNoData
}

func (g *FloatGrid) GeoTransform() [6]float64 {
	return g.hdr.gt
}

func (g *FloatGrid) Projection() string {
	return g.hdr.projection
}

func (g *FloatGrid) ReadWindow(w Window) (*Band, error) {
	if err := checkWindow(w, g.hdr.cols, g.hdr.rows); err != nil {
		return nil, err
	}
	band := &Band{Window: w, Data: make([]float64, 0, w.Width*w.Height)}
	buf := make([]byte, 4*w.Width)
	for row := w.Row; row < w.Row+w.Height; row++ {
		offset := 4 * (int64(row)*int64(g.hdr.cols) + int64(w.Col))
		if _, err := g.file.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("%w: reading row %d of %s: %v", errs.ErrIO, row, g.hdr.path, err)
		}
		for i := 0; i < w.Width; i++ {
			band.Data = append(band.Data, float64(math.Float32frombits(g.hdr.order.Uint32(buf[4*i:]))))
		}
	}
	return band, nil
}

func (g *FloatGrid) Close() error {
	return g.file.Close()
}

// WriteFloatGrid stores src as an ESRI float grid at path (.flt, with .hdr and optional .prj next to it).
func WriteFloatGrid(path string, src Source) error {
	width, height := src.Size()
	gt := src.GeoTransform()
	if gt[2] != 0 || gt[4] != 0 || gt[1] != -gt[5] {
		return fmt.Errorf("%w: float grids need square, north up pixels", errs.ErrGeometry)
	}
	var hdr strings.Builder
	fmt.Fprintf(&hdr, "ncols %d\nnrows %d\n", width, height)
	fmt.Fprintf(&hdr, "xllcorner %s\nyllcorner %s\n", formatFloat(gt[0]), formatFloat(gt[3]+float64(height)*gt[5]))
	fmt.Fprintf(&hdr, "cellsize %s\n", formatFloat(gt[1]))
	if noData, ok := src.NoData(); ok {
		fmt.Fprintf(&hdr, "nodata_value %s\n", formatFloat(noData))
	}
	hdr.WriteString("byteorder LSBFIRST\n")
	if err := os.WriteFile(siblingPath(path, ".hdr"), []byte(hdr.String()), 0644); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if projection := src.Projection(); projection != "" {
		if err := os.WriteFile(siblingPath(path, ".prj"), []byte(projection), 0644); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
	}

	f, err := os.Create(siblingPath(path, ".flt"))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for row := 0; row < height; row++ {
		band, err := src.ReadWindow(Window{Row: row, Width: width, Height: 1})
		if err != nil {
			f.Close()
			return err
		}
		for _, v := range band.Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := w.Write(buf); err != nil {
				f.Close()
				return fmt.Errorf("%w: %v", errs.ErrIO, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
