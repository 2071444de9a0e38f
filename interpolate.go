package demvrt

import (
	"context"
	"math"
)

// A Raster provides point samples on a regular grid.
type Raster interface {
	Samples(ctx context.Context, coords [][]float64) ([]float64, error)
	Resolution() (float64, float64)
}

// InterpolateBilinear returns the elevations at coords bilinearly
// interpolated between the four surrounding grid cells of raster.
func InterpolateBilinear(ctx context.Context, raster Raster, coords [][]float64) ([]float64, error) {
	resX, resY := raster.Resolution()
	rasterCoords := make([][]float64, 4*len(coords))
	for i, coord := range coords {
		x0 := resX * math.Floor(coord[0]/resX)
		y0 := resY * math.Floor(coord[1]/resY)
		x1 := x0 + resX
		y1 := y0 + resY
		rasterCoords[4*i+0] = []float64{x0, y0}
		rasterCoords[4*i+1] = []float64{x1, y0}
		rasterCoords[4*i+2] = []float64{x0, y1}
		rasterCoords[4*i+3] = []float64{x1, y1}
	}
	samples, err := raster.Samples(ctx, rasterCoords)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(coords))
	for i, coord := range coords {
		dx := (coord[0] - rasterCoords[4*i][0]) / resX
		dy := (coord[1] - rasterCoords[4*i][1]) / resY
		result[i] = 0 +
			samples[4*i+0]*(1-dx)*(1-dy) +
			samples[4*i+1]*dx*(1-dy) +
			samples[4*i+2]*(1-dx)*dy +
			samples[4*i+3]*dx*dy
	}
	return result, nil
}
