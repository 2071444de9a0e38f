package demvrt

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-proj/v10"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_tile_cache_hits_total",
		Help: "The total number of hits on the tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_tile_cache_misses_total",
		Help: "The total number of misses on the tile cache",
	})
	tileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_tile_cache_evictions_total",
		Help: "The total number of evictions from the tile cache",
	})
	tileFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demvrt_tile_fetch_errors_total",
		Help: "The total number of tile fetch errors",
	})
)

var errSessionClosed = errors.New("session closed")

// A Session is an open mosaic. Tiles are fetched lazily when samples touch
// them, so Open itself performs no network access. Close releases the tile
// cache and any fetcher the session owns; call it on all exit paths.
type Session struct {
	mutex        sync.Mutex
	mosaic       *Mosaic
	fetcher      TileFetcher
	ownsFetcher  bool
	cacheSize    int
	logger       zerolog.Logger
	missingTiles sync.Map
	tileCache    *lru.Cache[Tile, *demTile]
	pj4326       *proj.PJ
	closed       bool
}

// A SessionOption sets an option on a Session.
type SessionOption func(*Session)

// WithFetcher sets the session's tile fetcher. The caller retains ownership
// of the fetcher and must close it. The default is an S3TileFetcher reading
// the public elevation tile store with unsigned requests.
func WithFetcher(fetcher TileFetcher) SessionOption {
	return func(s *Session) {
		s.fetcher = fetcher
	}
}

// WithCacheSize sets the number of decoded tiles held in memory.
func WithCacheSize(cacheSize int) SessionOption {
	return func(s *Session) {
		s.cacheSize = cacheSize
	}
}

// WithLogger sets the session's logger.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// Open returns a new Session reading mosaic.
func Open(mosaic *Mosaic, options ...SessionOption) (*Session, error) {
	s := &Session{
		mosaic:    mosaic,
		cacheSize: 32,
		logger:    zerolog.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.fetcher == nil {
		fetcher, err := NewS3TileFetcher(WithS3Logger(s.logger))
		if err != nil {
			return nil, err
		}
		s.fetcher = fetcher
		s.ownsFetcher = true
	}

	var err error
	s.tileCache, err = lru.New[Tile, *demTile](s.cacheSize)
	if err != nil {
		return nil, err
	}

	s.pj4326, err = proj.NewCRSToCRS("EPSG:4326", "EPSG:3857", nil)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("zoom", mosaic.Zoom()).
		Int("tiles", len(mosaic.Tiles())).
		Msg("opened mosaic session")
	return s, nil
}

// OpenVRT opens a session over a mosaic previously persisted with WriteVRT.
// The tile set is read back from the file, so the session is equivalent to
// one opened from the original mosaic without recomputing tiles.
func OpenVRT(path string, options ...SessionOption) (*Session, error) {
	mosaic, err := ReadVRT(path)
	if err != nil {
		return nil, err
	}
	return Open(mosaic, options...)
}

// Close releases the session's resources. It is safe to call more than once.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.tileCache.Purge()
	if s.ownsFetcher {
		return s.fetcher.Close()
	}
	return nil
}

// SRID returns the EPSG code of the session's CRS.
func (s *Session) SRID() int {
	return s.mosaic.SRID()
}

// GeoTransform returns the session's affine georeferencing transform.
func (s *Session) GeoTransform() GeoTransform {
	return s.mosaic.GeoTransform()
}

// Extent returns the session's extent in web mercator meters.
func (s *Session) Extent() Bounds {
	return s.mosaic.Extent()
}

// Shape returns the (height, width) of the session's raster in pixels.
func (s *Session) Shape() (int, int) {
	return s.mosaic.Shape()
}

// Resolution returns the session's ground resolution in meters per pixel.
func (s *Session) Resolution() (float64, float64) {
	res := Resolution(s.mosaic.Zoom())
	return res, res
}

// Samples returns the elevations at coords, which are (x, y) pairs in the
// mosaic's native CRS. Samples outside the mosaic, in missing tiles or at
// nodata cells are represented by NaNs, the nodata sentinel.
func (s *Session) Samples(ctx context.Context, coords [][]float64) ([]float64, error) {
	samples := make([]float64, len(coords))
	width, height := s.mosaic.Width(), s.mosaic.Height()
	transform := s.mosaic.GeoTransform()

	// Group indexes by tile.
	type groupStruct struct {
		pixels  []pixel
		indexes []int
	}
	groupsByTile := make(map[Tile]groupStruct)
	for index, coord := range coords {
		px, py := transform.Pixel(coord[0], coord[1])
		x, y := int(math.Floor(px)), int(math.Floor(py))
		if x < 0 || width <= x || y < 0 || height <= y {
			samples[index] = math.NaN()
			continue
		}
		tile := s.mosaic.tileAt(x/TileSize, y/TileSize)
		localPixel := pixel{X: x % TileSize, Y: y % TileSize}
		if group, ok := groupsByTile[tile]; ok {
			group.pixels = append(group.pixels, localPixel)
			group.indexes = append(group.indexes, index)
			groupsByTile[tile] = group
		} else {
			groupsByTile[tile] = groupStruct{
				pixels:  []pixel{localPixel},
				indexes: []int{index},
			}
		}
	}

	// Populate samples one tile at a time.
	for tile, group := range groupsByTile {
		demTile, err := s.getTileCached(ctx, tile)
		if err != nil {
			return nil, err
		}
		if demTile == nil {
			for _, index := range group.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		for localIndex, index := range group.indexes {
			sample, err := demTile.sample(group.pixels[localIndex])
			if err != nil {
				return nil, err
			}
			samples[index] = sample
		}
	}

	return samples, nil
}

// Samples4326 returns the elevations at coords4326, which are (lon, lat)
// pairs in EPSG:4326.
func (s *Session) Samples4326(ctx context.Context, coords4326 [][]float64) ([]float64, error) {
	coords3857 := cloneCoords(coords4326)
	// EPSG:4326 axis order is latitude, longitude.
	flipCoords(coords3857)
	if err := s.pj4326.ForwardFloat64Slices(coords3857); err != nil {
		return nil, err
	}
	// An antimeridian-spanning mosaic is unwrapped eastward past the edge of
	// the projection, so input west of the antimeridian wraps with it.
	if extent := s.mosaic.Extent(); extent.MaxX > originShift {
		for _, coord := range coords3857 {
			if coord[0] < extent.MinX {
				coord[0] += 2 * originShift
			}
		}
	}
	return s.Samples(ctx, coords3857)
}

// Stream returns a lazy sequence of the elevations at coords. Values are
// pulled one at a time, so tiles are fetched only as the sequence is
// consumed. Ranging over the sequence again restarts it from the first
// coordinate.
func (s *Session) Stream(ctx context.Context, coords [][]float64) iter.Seq2[float64, error] {
	return func(yield func(float64, error) bool) {
		for _, coord := range coords {
			samples, err := s.Samples(ctx, [][]float64{coord})
			if err != nil {
				if !yield(math.NaN(), err) {
					return
				}
				continue
			}
			if !yield(samples[0], nil) {
				return
			}
		}
	}
}

// A Window is a rectangular pixel region of a session's raster.
type Window struct {
	XOff   int
	YOff   int
	Width  int
	Height int
}

// Read returns the elevations of every pixel in window, row-major. Pixels
// outside the raster are NaN.
func (s *Session) Read(ctx context.Context, window Window) ([]float64, error) {
	transform := s.mosaic.GeoTransform()
	coords := make([][]float64, 0, window.Width*window.Height)
	for y := window.YOff; y < window.YOff+window.Height; y++ {
		for x := window.XOff; x < window.XOff+window.Width; x++ {
			// Sample at the pixel center.
			cx, cy := transform.Apply(float64(x)+0.5, float64(y)+0.5)
			coords = append(coords, []float64{cx, cy})
		}
	}
	return s.Samples(ctx, coords)
}

// getTile fetches and decodes the tile. A missing tile is recorded and
// returned as nil so that its samples degrade to nodata.
func (s *Session) getTile(ctx context.Context, tile Tile) (*demTile, error) {
	data, err := s.fetcher.Fetch(ctx, tile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.missingTiles.Store(tile, struct{}{})
		missingTileCacheMisses.Inc()
		s.logger.Debug().
			Int("z", tile.Z).
			Int("x", tile.X).
			Int("y", tile.Y).
			Msg("missing tile")
		return nil, nil
	case err != nil:
		tileFetchErrors.Inc()
		return nil, err
	}
	demTile, err := newDEMTile(data)
	if err != nil {
		return nil, err
	}
	return demTile, nil
}

// getTileCached returns the tile, using the cache if possible.
func (s *Session) getTileCached(ctx context.Context, tile Tile) (*demTile, error) {
	if _, ok := s.missingTiles.Load(tile); ok {
		missingTileCacheHits.Inc()
		return nil, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, errSessionClosed
	}

	if demTile, ok := s.tileCache.Get(tile); ok {
		tileCacheHits.Inc()
		return demTile, nil
	}

	tileCacheMisses.Inc()

	demTile, err := s.getTile(ctx, tile)
	if err != nil {
		return nil, err
	}
	if demTile == nil {
		return nil, nil
	}

	if eviction := s.tileCache.Add(tile, demTile); eviction {
		tileCacheEvictions.Inc()
	}

	return demTile, nil
}

func cloneCoords(coords [][]float64) [][]float64 {
	clonedCoordsFlat := make([]float64, 2*len(coords))
	clonedCoords := make([][]float64, len(coords))
	for i, coord := range coords {
		copy(clonedCoordsFlat[2*i:2*i+2], coord)
		clonedCoords[i] = clonedCoordsFlat[2*i : 2*i+2]
	}
	return clonedCoords
}

func flipCoords(coords [][]float64) {
	for i, coord := range coords {
		coords[i][0], coords[i][1] = coord[1], coord[0]
	}
}
