// Package tms20 implements the parts of the OGC Tile Matrix Set standard (v2.0)
// needed to lay a raster out on a quad tree tile grid.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"

	"github.com/pdok/rastertile/errs"
)

const quadTolerance = 1e-9

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]*TileMatrixSet)
	embeddedTileMatrixSetsMu     sync.Mutex
)

// LoadJSONTileMatrixSet reads a tile matrix set definition from disk.
func LoadJSONTileMatrixSet(path string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(path)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	return tms, err
}

func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedTileMatrixSetsMu.Lock()
	defer embeddedTileMatrixSetsMu.Unlock()

	var tms TileMatrixSet
	cached, ok := embeddedTileMatrixSetsCache[id]
	if ok {
		return *cached, nil
	}
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	if err != nil {
		return tms, err
	}
	embeddedTileMatrixSetsCache[id] = &tms
	return tms, nil
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier. Implementation of 'identifier'
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitempty,min=1" json:"orderedAxes,omitempty"`
	// Coordinate Reference System (CRS)
	CRS CRS `json:"-"`
	// Reference to a well-known scale set
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Describes scale levels and its tile matrices
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	if err = tms.CRS.UnmarshalJSONFromMap(rawCrs); err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[int]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		rawTileMatrixMap, ok := rawTileMatrix.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(`"tileMatrices" should be objects`)
		}
		var tileMatrix TileMatrix
		err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrixMap)
		if err != nil {
			return nil, err
		}
		tileMatrixID, err := strconv.ParseInt(tileMatrix.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[int(tileMatrixID)] = tileMatrix
	}
	return tileMatrices, nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+)::(?P<code>[^:]+)$")
)

// CRS is a coordinate reference system given by URI, either as a bare string or as {"uri": ...}.
type CRS struct {
	Description   string
	URI           string `validate:"required,uri"`
	AuthorityName string `validate:"required"`
	AuthorityCode string `validate:"required"`
}

func (crs *CRS) UnmarshalJSONFromMap(data interface{}) error {
	switch raw := data.(type) {
	case string:
		crs.URI = raw
	case map[string]interface{}:
		if rawDescription, ok := raw["description"]; ok {
			if crs.Description, ok = rawDescription.(string); !ok {
				return fmt.Errorf(`description property is not a string but a %T`, rawDescription)
			}
		}
		rawURI, ok := raw["uri"]
		if !ok {
			return fmt.Errorf(`uri property not found, only uri crs definitions are supported`)
		}
		if crs.URI, ok = rawURI.(string); !ok {
			return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
		}
	default:
		return fmt.Errorf(`wrong type key "crs": %T`, data)
	}

	uriParts := crsURIRegexURL.FindStringSubmatch(crs.URI)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.URI)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.URI)
	}
	crs.AuthorityName = uriParts[1]
	crs.AuthorityCode = uriParts[2]

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(crs)
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet and representing the scaleDenominator the tile.
	ID string `validate:"required" json:"id"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix (_topLeft_ or _bottomLeft_) used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `validate:"omitempty,oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Position in CRS coordinates of the corner of origin for this tile matrix.
	PointOfOrigin TwoDPoint `validate:"required" json:"pointOfOrigin"`
	// Width of each tile of this tile matrix in pixels
	TileWidth uint `validate:"required,min=1" json:"tileWidth"`
	// Height of each tile of this tile matrix in pixels
	TileHeight uint `validate:"required,min=1" json:"tileHeight"`
	// Width of the matrix (number of tiles in width)
	MatrixWidth uint `validate:"required,min=1" json:"matrixWidth"`
	// Height of the matrix (number of tiles in height)
	MatrixHeight uint `validate:"required,min=1" json:"matrixHeight"`
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}

	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

// TileSpan is the width of one tile in CRS units.
func (tm *TileMatrix) TileSpan() float64 {
	return float64(tm.TileWidth) * tm.CellSize
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

// SRID returns the EPSG code of the CRS, false for other authorities.
func (tms *TileMatrixSet) SRID() (uint, bool) {
	if tms.CRS.AuthorityName != "EPSG" {
		return 0, false
	}
	code, err := strconv.ParseUint(tms.CRS.AuthorityCode, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(code), true
}

// MaxZoom is the id of the deepest tile matrix.
func (tms *TileMatrixSet) MaxZoom() uint {
	var maxID int
	for id := range tms.TileMatrices {
		if id > maxID {
			maxID = id
		}
	}
	return uint(maxID)
}

// ValidateQuadTree checks that the tile matrices form a quad tree rooted at id 0:
// square tiles, a shared top-left origin, and every level halving the cell size
// and doubling the matrix dimensions of its parent.
func (tms *TileMatrixSet) ValidateQuadTree() error {
	root, ok := tms.TileMatrices[0]
	if !ok {
		return fmt.Errorf("%w: tile matrix set %s has no root tile matrix", errs.ErrGeometry, tms.ID)
	}
	for zoom := 0; zoom <= int(tms.MaxZoom()); zoom++ {
		tm, ok := tms.TileMatrices[zoom]
		if !ok {
			return fmt.Errorf("%w: tile matrix set %s misses tile matrix %d", errs.ErrGeometry, tms.ID, zoom)
		}
		if tm.CornerOfOrigin == BottomLeft {
			return fmt.Errorf("%w: tile matrix %d: only topLeft corner of origin is supported", errs.ErrGeometry, zoom)
		}
		if tm.TileWidth != tm.TileHeight || tm.TileWidth != root.TileWidth {
			return fmt.Errorf("%w: tile matrix %d: tiles must be square and equally sized", errs.ErrGeometry, zoom)
		}
		if tm.PointOfOrigin != root.PointOfOrigin {
			return fmt.Errorf("%w: tile matrix %d: point of origin differs from root", errs.ErrGeometry, zoom)
		}
		scale := float64(uint(1) << uint(zoom))
		if math.Abs(tm.CellSize*scale-root.CellSize)/root.CellSize > quadTolerance {
			return fmt.Errorf("%w: tile matrix %d: cell size does not halve per level", errs.ErrGeometry, zoom)
		}
		if tm.MatrixWidth != root.MatrixWidth<<uint(zoom) || tm.MatrixHeight != root.MatrixHeight<<uint(zoom) {
			return fmt.Errorf("%w: tile matrix %d: matrix size does not double per level", errs.ErrGeometry, zoom)
		}
	}
	return nil
}

// Root returns the root tile matrix.
func (tms *TileMatrixSet) Root() TileMatrix {
	return tms.TileMatrices[0]
}

// Size returns the number of tiles in width and height at the given zoom as a tile.
func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

// FractionalTile returns the tile coordinate of pt at zoom, without truncation.
// The integer part is the tile index, counted from the top-left corner.
func (tms *TileMatrixSet) FractionalTile(zoom uint, pt geom.Point) (float64, float64, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return 0, 0, false
	}
	span := tm.TileSpan()
	origin := tm.PointOfOrigin.XY()
	return (pt.X() - origin[0]) / span, (origin[1] - pt.Y()) / span, true
}
