// Package xyz stores tiles as individual files with paths like "/z/y/x.bin".
package xyz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-spatial/geom/slippy"

	"github.com/pdok/rastertile/errs"
)

var ErrInvalidPattern = errors.New("rastertile: invalid file pattern")

// DefaultPattern places tiles under root by zoom, then row, then column.
func DefaultPattern(root string) string {
	return filepath.Join(root, "{z}", "{y}", "{x}.bin")
}

func validatePattern(pattern string) error {
	for _, p := range []string{"{x}", "{y}", "{z}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

func formatPattern(pattern string, t *slippy.Tile) string {
	return strings.NewReplacer(
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
	).Replace(pattern)
}

// Writer writes tiles to files named after a pattern. It is safe for concurrent use
// as long as every tile is written once.
type Writer struct {
	filePattern string
}

// NewWriter creates a new Writer for the given file pattern (e.g. "/data/out/{z}/{y}/{x}.bin").
func NewWriter(filePattern string) (*Writer, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}
	return &Writer{filePattern}, nil
}

func (w *Writer) WriteTile(t *slippy.Tile, tileData []byte) error {
	filePath := formatPattern(w.filePattern, t)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if err := os.WriteFile(filePath, tileData, 0644); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return nil
}

// Reader reads tiles written by a Writer with the same pattern.
type Reader struct {
	filePattern string
	rootDir     string
	pathRegexp  *regexp.Regexp
}

func NewReader(filePattern string) (*Reader, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}

	regexPattern := regexp.QuoteMeta(filePattern)
	for _, p := range []string{"x", "y", "z"} {
		regexPattern = strings.ReplaceAll(regexPattern, regexp.QuoteMeta("{"+p+"}"), "(?P<"+p+">\\d+)")
	}
	pathRegex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	path0 := formatPattern(filePattern, slippy.NewTile(0, 0, 0))
	path1 := formatPattern(filePattern, slippy.NewTile(1, 1, 1))
	for path0 != path1 {
		path0 = filepath.Dir(path0)
		path1 = filepath.Dir(path1)
	}
	return &Reader{filePattern, path0, pathRegex}, nil
}

func (r *Reader) ReadTile(t *slippy.Tile) ([]byte, error) {
	tileData, err := os.ReadFile(formatPattern(r.filePattern, t))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	return tileData, nil
}

// VisitTiles calls visitor for every tile file below the pattern's root.
func (r *Reader) VisitTiles(visitor func(*slippy.Tile, []byte) error) error {
	return filepath.WalkDir(r.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		if d.IsDir() {
			return nil
		}
		matches := r.pathRegexp.FindStringSubmatch(filePath)
		if matches == nil {
			return nil
		}
		x, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("x")], 10, 64)
		y, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("y")], 10, 64)
		z, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("z")], 10, 64)

		tileData, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIO, err)
		}
		return visitor(slippy.NewTile(uint(z), uint(x), uint(y)), tileData)
	})
}
