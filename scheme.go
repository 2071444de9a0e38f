package demvrt

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// TileSize is the pixel width and height of one elevation tile.
	TileSize = 512

	// BlockSize is the internal block size of the source GeoTIFF tiles.
	BlockSize = 256

	// MaxZoom is the deepest zoom level the tile store holds. The source
	// data resolves to roughly 3 m at best, so deeper zooms add nothing.
	MaxZoom = 17

	webMercatorLatLimit = 85.05112877980659
	originShift         = 20037508.342789244
)

// Resolution returns the ground resolution in meters per pixel at zoom.
func Resolution(zoom int) float64 {
	return 2 * originShift / float64(int(TileSize)*(1<<zoom))
}

// ZoomForPixelSize returns the smallest zoom level whose resolution is at
// most pixelSize, clamped to MaxZoom.
func ZoomForPixelSize(pixelSize float64) int {
	for zoom := 0; zoom <= MaxZoom; zoom++ {
		if Resolution(zoom) <= pixelSize {
			return zoom
		}
	}
	return MaxZoom
}

// Tiles returns the tiles whose coverage intersects bounds at zoom, in
// row-major order. A bounds with MinX > MaxX is treated as spanning the
// antimeridian and produces tiles from both edges of the scheme.
func Tiles(bounds Bounds, zoom int) ([]Tile, error) {
	grid, err := newTileGrid(bounds, zoom)
	if err != nil {
		return nil, err
	}
	return grid.tiles(), nil
}

// TileBounds returns the geographic bounds of tile.
func TileBounds(tile Tile) Bounds {
	bound := maptile.New(uint32(tile.X), uint32(tile.Y), maptile.Zoom(tile.Z)).Bound()
	return Bounds{
		MinX: bound.Min.X(),
		MinY: bound.Min.Y(),
		MaxX: bound.Max.X(),
		MaxY: bound.Max.Y(),
	}
}

// mercatorToGeographic converts a web mercator coordinate to degrees.
func mercatorToGeographic(x, y float64) (float64, float64) {
	lon := x / originShift * 180
	lat := 2*math.Atan(math.Exp(y/originShift*math.Pi))*180/math.Pi - 90
	return lon, lat
}

func validateZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return fmt.Errorf("%w: %d", ErrUnsupportedZoom, zoom)
	}
	return nil
}

func (b Bounds) validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidExtent)
		}
	}
	if b.MinY > b.MaxY {
		return fmt.Errorf("%w: min latitude %g greater than max latitude %g", ErrInvalidExtent, b.MinY, b.MaxY)
	}
	return nil
}

// A tileGrid is the rectangular grid of tiles covering a bounds at one zoom
// level. cols runs west to east and may wrap modulo 2^zoom across the
// antimeridian; rows runs north to south and is always contiguous.
type tileGrid struct {
	zoom int
	cols []int
	rows []int
}

func newTileGrid(bounds Bounds, zoom int) (*tileGrid, error) {
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}
	if err := bounds.validate(); err != nil {
		return nil, err
	}

	// A bounding box with MinX > MaxX spans the antimeridian. Split it into
	// two boxes, keeping the column order anchored at the western edge.
	boxes := []Bounds{bounds}
	if bounds.MinX > bounds.MaxX {
		boxes = []Bounds{
			{MinX: bounds.MinX, MinY: bounds.MinY, MaxX: 180, MaxY: bounds.MaxY},
			{MinX: -180, MinY: bounds.MinY, MaxX: bounds.MaxX, MaxY: bounds.MaxY},
		}
	}

	g := &tileGrid{zoom: zoom}
	seen := make(map[int]struct{})
	for _, box := range boxes {
		minCol, maxCol, minRow, maxRow := tileRange(box, zoom)
		if g.rows == nil {
			for row := minRow; row <= maxRow; row++ {
				g.rows = append(g.rows, row)
			}
		}
		for col := minCol; col <= maxCol; col++ {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			g.cols = append(g.cols, col)
		}
	}
	return g, nil
}

// tileRange returns the inclusive column and row ranges covering box at zoom.
// Coordinates are clamped to the web mercator limits, with the east edge
// nudged inside the scheme so that a longitude of 180 stays in the last
// column.
func tileRange(box Bounds, zoom int) (minCol, maxCol, minRow, maxRow int) {
	minX := math.Min(math.Max(-180, box.MinX), 180-1e-8)
	maxX := math.Max(minX, math.Min(180-1e-8, box.MaxX))
	minY := math.Min(math.Max(-webMercatorLatLimit, box.MinY), webMercatorLatLimit)
	maxY := math.Max(minY, math.Min(webMercatorLatLimit, box.MaxY))

	z := maptile.Zoom(zoom)
	ul := maptile.At(orb.Point{minX, maxY}, z)
	lr := maptile.At(orb.Point{maxX, minY}, z)
	return int(ul.X), int(lr.X), int(ul.Y), int(lr.Y)
}

// tiles returns the grid's tiles in row-major order.
func (g *tileGrid) tiles() []Tile {
	tiles := make([]Tile, 0, len(g.cols)*len(g.rows))
	for _, row := range g.rows {
		for _, col := range g.cols {
			tiles = append(tiles, Tile{X: col, Y: row, Z: g.zoom})
		}
	}
	return tiles
}
