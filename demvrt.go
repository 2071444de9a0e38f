// Package demvrt assembles virtual digital elevation models on demand from
// remote elevation tiles.
//
// Given a geographic bounding box and a zoom level, it computes the slippy-map
// tiles covering the box, builds a mosaic referencing the corresponding
// objects in a public tile store, and exposes the mosaic either as a
// sampleable session or as a persisted GDAL VRT file.
package demvrt

import "errors"

var (
	// ErrInvalidExtent is returned when a bounding box has non-finite
	// coordinates or an inverted latitude range.
	ErrInvalidExtent = errors.New("invalid extent")

	// ErrUnsupportedZoom is returned when a zoom level is outside the tile
	// scheme's supported range.
	ErrUnsupportedZoom = errors.New("unsupported zoom")

	// ErrTileUnavailable is returned when a referenced tile cannot be
	// fetched for a reason other than the tile not existing.
	ErrTileUnavailable = errors.New("tile unavailable")

	// ErrPersistenceFailure is returned when a VRT file cannot be written.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// A Tile identifies one tile in the slippy-map scheme.
type Tile struct {
	X int // Column.
	Y int // Row.
	Z int // Zoom.
}

// Bounds is a rectangular extent. Coordinates are longitude/latitude degrees
// for inputs and web mercator meters for mosaic extents. A Bounds with
// MinX > MaxX spans the antimeridian.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}
