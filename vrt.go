package demvrt

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Int16NoData is the nodata sentinel written to persisted VRTs, matching the
// nodata value of the source tiles.
const Int16NoData = -32768

// webMercatorWKT is the OGC WKT for EPSG:3857, as GDAL renders it.
const webMercatorWKT = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`

type vrtDataset struct {
	XMLName      xml.Name        `xml:"VRTDataset"`
	RasterXSize  int             `xml:"rasterXSize,attr"`
	RasterYSize  int             `xml:"rasterYSize,attr"`
	SRS          vrtSRS          `xml:"SRS"`
	GeoTransform string          `xml:"GeoTransform"`
	Bands        []vrtRasterBand `xml:"VRTRasterBand"`
}

type vrtSRS struct {
	AxisMapping string `xml:"dataAxisToSRSAxisMapping,attr"`
	WKT         string `xml:",chardata"`
}

type vrtRasterBand struct {
	DataType    string             `xml:"dataType,attr"`
	Band        int                `xml:"band,attr"`
	NoDataValue int                `xml:"NoDataValue"`
	ColorInterp string             `xml:"ColorInterp"`
	Sources     []vrtComplexSource `xml:"ComplexSource"`
}

type vrtComplexSource struct {
	SourceFilename   vrtSourceFilename   `xml:"SourceFilename"`
	SourceBand       int                 `xml:"SourceBand"`
	SourceProperties vrtSourceProperties `xml:"SourceProperties"`
	SrcRect          vrtRect             `xml:"SrcRect"`
	DstRect          vrtRect             `xml:"DstRect"`
	NoData           int                 `xml:"NODATA"`
}

type vrtSourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

type vrtSourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
	BlockXSize  int    `xml:"BlockXSize,attr"`
	BlockYSize  int    `xml:"BlockYSize,attr"`
}

type vrtRect struct {
	XOff  int `xml:"xOff,attr"`
	YOff  int `xml:"yOff,attr"`
	XSize int `xml:"xSize,attr"`
	YSize int `xml:"ySize,attr"`
}

// VRT returns the mosaic serialized as a GDAL VRT dataset. The result is
// self-describing and openable by any GDAL-based raster tool configured for
// unsigned remote access.
func (m *Mosaic) VRT() ([]byte, error) {
	urls := m.TileURLs()
	offsets := m.Offsets()

	sources := make([]vrtComplexSource, len(urls))
	for i, url := range urls {
		sources[i] = vrtComplexSource{
			SourceFilename: vrtSourceFilename{
				RelativeToVRT: 0,
				Path:          vsiPath(url),
			},
			SourceBand: 1,
			SourceProperties: vrtSourceProperties{
				RasterXSize: TileSize,
				RasterYSize: TileSize,
				DataType:    "Int16",
				BlockXSize:  BlockSize,
				BlockYSize:  BlockSize,
			},
			SrcRect: vrtRect{XOff: 0, YOff: 0, XSize: TileSize, YSize: TileSize},
			DstRect: vrtRect{
				XOff:  offsets[i][0],
				YOff:  offsets[i][1],
				XSize: offsets[i][2],
				YSize: offsets[i][3],
			},
			NoData: Int16NoData,
		}
	}

	geoTransform := make([]string, len(m.transform))
	for i, coefficient := range m.transform {
		geoTransform[i] = fmt.Sprintf("%.16e", coefficient)
	}

	dataset := vrtDataset{
		RasterXSize: m.Width(),
		RasterYSize: m.Height(),
		SRS: vrtSRS{
			AxisMapping: "1,2",
			WKT:         webMercatorWKT,
		},
		GeoTransform: strings.Join(geoTransform, ", "),
		Bands: []vrtRasterBand{
			{
				DataType:    "Int16",
				Band:        1,
				NoDataValue: Int16NoData,
				ColorInterp: "Gray",
				Sources:     sources,
			},
		},
	}
	return xml.MarshalIndent(dataset, "", "  ")
}

// WriteVRT persists the mosaic as a VRT file at path. Reopening that file
// reproduces an equivalent raster without recomputing the tile set. Local
// write errors wrap ErrPersistenceFailure.
func (m *Mosaic) WriteVRT(path string) error {
	data, err := m.VRT()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return fmt.Errorf("%w: %s", ErrPersistenceFailure, err)
	}
	return nil
}

// ReadVRT parses a VRT file previously written by WriteVRT back into a
// Mosaic. The tile set, URL template and georeferencing are taken from the
// file; nothing is recomputed.
func ReadVRT(path string) (*Mosaic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mosaic, err := parseVRT(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mosaic, nil
}

func parseVRT(data []byte) (*Mosaic, error) {
	var dataset vrtDataset
	if err := xml.Unmarshal(data, &dataset); err != nil {
		return nil, err
	}
	if len(dataset.Bands) != 1 {
		return nil, fmt.Errorf("found %d raster bands, expected 1", len(dataset.Bands))
	}

	var transform GeoTransform
	coefficients := strings.Split(dataset.GeoTransform, ",")
	if len(coefficients) != len(transform) {
		return nil, fmt.Errorf("invalid GeoTransform %q", dataset.GeoTransform)
	}
	for i, coefficient := range coefficients {
		value, err := strconv.ParseFloat(strings.TrimSpace(coefficient), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoTransform %q", dataset.GeoTransform)
		}
		transform[i] = value
	}

	numCols := dataset.RasterXSize / TileSize
	numRows := dataset.RasterYSize / TileSize
	sources := dataset.Bands[0].Sources
	if numCols == 0 || numRows == 0 || len(sources) != numCols*numRows {
		return nil, fmt.Errorf("found %d sources for a %dx%d raster", len(sources), dataset.RasterXSize, dataset.RasterYSize)
	}

	grid := &tileGrid{
		cols: make([]int, numCols),
		rows: make([]int, numRows),
	}
	var urlTemplate string
	for _, source := range sources {
		tile, template, err := parseTileURL(unvsiPath(source.SourceFilename.Path))
		if err != nil {
			return nil, err
		}
		gx := source.DstRect.XOff / TileSize
		gy := source.DstRect.YOff / TileSize
		if gx < 0 || numCols <= gx || gy < 0 || numRows <= gy {
			return nil, fmt.Errorf("source offset (%d, %d) outside raster", source.DstRect.XOff, source.DstRect.YOff)
		}
		grid.cols[gx] = tile.X
		grid.rows[gy] = tile.Y
		grid.zoom = tile.Z
		urlTemplate = template
	}
	if err := validateZoom(grid.zoom); err != nil {
		return nil, err
	}

	return &Mosaic{
		grid:        grid,
		zoom:        grid.zoom,
		urlTemplate: urlTemplate,
		transform:   transform,
	}, nil
}

// parseTileURL extracts the tile coordinate from url, whose last three path
// segments are the zoom, column and row, and returns the matching
// {z}/{x}/{y} template.
func parseTileURL(url string) (Tile, string, error) {
	segments := strings.Split(url, "/")
	if len(segments) < 4 {
		return Tile{}, "", fmt.Errorf("invalid tile URL %q", url)
	}
	last := segments[len(segments)-1]
	extension := ""
	if index := strings.LastIndex(last, "."); index >= 0 {
		extension = last[index:]
		last = last[:index]
	}
	z, errZ := strconv.Atoi(segments[len(segments)-3])
	x, errX := strconv.Atoi(segments[len(segments)-2])
	y, errY := strconv.Atoi(last)
	if errZ != nil || errX != nil || errY != nil {
		return Tile{}, "", fmt.Errorf("invalid tile URL %q", url)
	}
	template := strings.Join(segments[:len(segments)-3], "/") + "/{z}/{x}/{y}" + extension
	return Tile{X: x, Y: y, Z: z}, template, nil
}

// vsiPath converts a tile URL to the GDAL virtual file system path GDAL
// expects inside a VRT.
func vsiPath(url string) string {
	switch {
	case strings.HasPrefix(url, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(url, "s3://")
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return "/vsicurl/" + url
	default:
		return url
	}
}

// unvsiPath undoes vsiPath.
func unvsiPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/vsis3/"):
		return "s3://" + strings.TrimPrefix(path, "/vsis3/")
	case strings.HasPrefix(path, "/vsicurl/"):
		return strings.TrimPrefix(path, "/vsicurl/")
	default:
		return path
	}
}
