package demvrt

import (
	"strconv"
	"strings"
)

const (
	// DefaultURLTemplate addresses the public AWS Open Data elevation tile
	// store. Objects are 512x512 int16 GeoTIFFs keyed by zoom, column and
	// row.
	DefaultURLTemplate = "s3://elevation-tiles-prod/geotiff/{z}/{x}/{y}.tif"

	// DefaultZoom is used when neither a zoom level nor a pixel size is
	// given.
	DefaultZoom = 8
)

// A Mosaic is a virtual DEM descriptor: the tiles covering a bounding box at
// one zoom level, the remote resources they map to, and the georeferencing
// of the composed raster. The tile set is fixed once computed; a Mosaic is
// safe for concurrent use.
type Mosaic struct {
	grid        *tileGrid
	zoom        int
	pixelSize   float64
	urlTemplate string
	transform   GeoTransform
}

// A MosaicOption sets an option on a Mosaic.
type MosaicOption func(*Mosaic)

// WithZoom sets the zoom level.
func WithZoom(zoom int) MosaicOption {
	return func(m *Mosaic) {
		m.zoom = zoom
	}
}

// WithPixelSize derives the zoom level from a desired ground resolution in
// meters per pixel, taking precedence over WithZoom.
func WithPixelSize(pixelSize float64) MosaicOption {
	return func(m *Mosaic) {
		m.pixelSize = pixelSize
	}
}

// WithURLTemplate sets the remote store naming template. The placeholders
// {z}, {x} and {y} are replaced by the tile's zoom, column and row.
func WithURLTemplate(urlTemplate string) MosaicOption {
	return func(m *Mosaic) {
		m.urlTemplate = urlTemplate
	}
}

// New returns a Mosaic covering bounds, which is in geographic (lon/lat)
// coordinates, with the given options.
func New(bounds Bounds, options ...MosaicOption) (*Mosaic, error) {
	m := &Mosaic{
		zoom:        DefaultZoom,
		urlTemplate: DefaultURLTemplate,
	}
	for _, option := range options {
		option(m)
	}
	if m.pixelSize > 0 {
		m.zoom = ZoomForPixelSize(m.pixelSize)
	}

	grid, err := newTileGrid(bounds, m.zoom)
	if err != nil {
		return nil, err
	}
	m.grid = grid

	res := Resolution(m.zoom)
	m.transform = GeoTransform{
		-originShift + float64(grid.cols[0]*TileSize)*res,
		res,
		0,
		originShift - float64(grid.rows[0]*TileSize)*res,
		0,
		-res,
	}
	return m, nil
}

// A GeoreferencedRaster describes a raster georeferenced in web mercator
// meters. *Session satisfies it.
type GeoreferencedRaster interface {
	Extent() Bounds
	Resolution() (float64, float64)
}

// NewFromRaster returns a Mosaic covering the extent of raster at the zoom
// level matching its resolution. The extent is inset by half a pixel so that
// a tile-aligned raster reproduces its own tile set.
func NewFromRaster(raster GeoreferencedRaster, options ...MosaicOption) (*Mosaic, error) {
	extent := raster.Extent()
	resX, resY := raster.Resolution()
	minLon, minLat := mercatorToGeographic(extent.MinX+resX/2, extent.MinY+resY/2)
	maxLon, maxLat := mercatorToGeographic(extent.MaxX-resX/2, extent.MaxY-resY/2)
	// An extent unwrapped past the edge of the projection crosses the
	// antimeridian.
	if maxLon > 180 {
		maxLon -= 360
	}
	bounds := Bounds{MinX: minLon, MinY: minLat, MaxX: maxLon, MaxY: maxLat}
	return New(bounds, append([]MosaicOption{WithPixelSize(resX)}, options...)...)
}

// Zoom returns the mosaic's zoom level.
func (m *Mosaic) Zoom() int {
	return m.zoom
}

// Width returns the width of the mosaic in pixels.
func (m *Mosaic) Width() int {
	return len(m.grid.cols) * TileSize
}

// Height returns the height of the mosaic in pixels.
func (m *Mosaic) Height() int {
	return len(m.grid.rows) * TileSize
}

// Shape returns the (height, width) of the mosaic in pixels.
func (m *Mosaic) Shape() (int, int) {
	return m.Height(), m.Width()
}

// GeoTransform returns the mosaic's affine georeferencing transform in web
// mercator meters.
func (m *Mosaic) GeoTransform() GeoTransform {
	return m.transform
}

// SRID returns the EPSG code of the mosaic's CRS.
func (m *Mosaic) SRID() int {
	return 3857
}

// Extent returns the mosaic's extent in web mercator meters.
func (m *Mosaic) Extent() Bounds {
	maxX, minY := m.transform.Apply(float64(m.Width()), float64(m.Height()))
	return Bounds{
		MinX: m.transform[0],
		MinY: minY,
		MaxX: maxX,
		MaxY: m.transform[3],
	}
}

// Tiles returns the mosaic's tiles in row-major order.
func (m *Mosaic) Tiles() []Tile {
	return m.grid.tiles()
}

// TileURLs returns the remote resource URL of each tile, in the same order
// as Tiles. This is pure path construction; no network access occurs.
func (m *Mosaic) TileURLs() []string {
	tiles := m.grid.tiles()
	urls := make([]string, len(tiles))
	for i, tile := range tiles {
		urls[i] = expandTileTemplate(m.urlTemplate, tile)
	}
	return urls
}

// Offsets returns the (xoff, yoff, xsize, ysize) pixel rectangle of each
// tile within the mosaic, in the same order as Tiles.
func (m *Mosaic) Offsets() [][4]int {
	offsets := make([][4]int, 0, len(m.grid.cols)*len(m.grid.rows))
	for y := range m.grid.rows {
		for x := range m.grid.cols {
			offsets = append(offsets, [4]int{x * TileSize, y * TileSize, TileSize, TileSize})
		}
	}
	return offsets
}

// tileAt returns the tile at grid position (gx, gy).
func (m *Mosaic) tileAt(gx, gy int) Tile {
	return Tile{X: m.grid.cols[gx], Y: m.grid.rows[gy], Z: m.zoom}
}

func expandTileTemplate(template string, tile Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(tile.Z),
		"{x}", strconv.Itoa(tile.X),
		"{y}", strconv.Itoa(tile.Y),
	).Replace(template)
}
