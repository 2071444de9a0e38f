package demvrt

// A GeoTransform is an affine georeferencing transform in GDAL coefficient
// order: origin x, pixel width, row rotation, origin y, column rotation,
// pixel height (negative for north-up rasters).
type GeoTransform [6]float64

// Apply transforms the pixel coordinate (col, row) to a world coordinate.
func (t GeoTransform) Apply(col, row float64) (float64, float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Pixel transforms the world coordinate (x, y) to a fractional pixel
// coordinate. It assumes a north-up transform with no rotation terms.
func (t GeoTransform) Pixel(x, y float64) (float64, float64) {
	return (x - t[0]) / t[1], (y - t[3]) / t[5]
}
