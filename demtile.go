package demvrt

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/geotiff"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression codes.
const (
	compressionNone    = 1
	compressionLZW     = 5
	compressionDeflate = 8
)

var errShortRead = errors.New("short read")

// A pixel is a pixel coordinate, x right, y down.
type pixel struct {
	X int
	Y int
}

// A demTile is a fetched elevation tile GeoTIFF held in memory. Blocks are
// decoded lazily as they are sampled. A demTile is not safe for concurrent
// use; the session serializes access to it.
type demTile struct {
	data            []byte
	imageWidth      int
	imageLength     int
	blockWidth      int
	blockLength     int
	blocksAcross    int
	blocksDown      int
	blockOffsets    []uint32
	blockByteCounts []uint32
	compression     int
	predictor       int
	noData          int16
	verticalDatum   int
	blockSamples    [][]int16
}

// A demTileIFD is a struct into which github.com/google/tiff can unmarshal
// an IFD.
type demTileIFD struct {
	ImageWidth          uint16    `tiff:"field,tag=256"`
	ImageLength         uint16    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint32  `tiff:"field,tag=324"`
	TileByteCounts      []uint32  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// newDEMTile parses data as a tiled int16 GeoTIFF.
func newDEMTile(data []byte) (*demTile, error) {
	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}

	if len(tiffTIFF.IFDs()) != 1 {
		return nil, fmt.Errorf("found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}

	var ifd demTileIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if ifd.BitsPerSample != 16 ||
		ifd.SampleFormat != 2 ||
		ifd.SamplesPerPixel != 1 ||
		(ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != 1) ||
		ifd.TileWidth == 0 || ifd.TileLength == 0 {
		return nil, errors.ErrUnsupported
	}
	switch ifd.Compression {
	case compressionNone, compressionLZW, compressionDeflate:
	default:
		return nil, errors.ErrUnsupported
	}
	switch ifd.Predictor {
	case 0, 1, 2:
	default:
		return nil, errors.ErrUnsupported
	}

	// Tiles ship with their CRS embedded; reject anything that is not web
	// mercator. A geodetic CRS without a projected one means an unprojected
	// geographic raster.
	var verticalDatum int
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := parseGeoKeys(ifd.GeoKeyDirectoryTag)
		if err != nil {
			return nil, err
		}
		srid, ok := geoKeys.projectedCRS()
		switch {
		case ok && srid != 3857:
			return nil, fmt.Errorf("unexpected projected CRS EPSG:%d", srid)
		case !ok:
			if crs, ok := geoKeys.geodeticCRS(); ok {
				return nil, fmt.Errorf("unexpected geographic CRS EPSG:%d", crs)
			}
		}
		if datum, ok := geoKeys.verticalDatum(); ok {
			verticalDatum = datum
		}
	}

	t := &demTile{
		data:            data,
		imageWidth:      int(ifd.ImageWidth),
		imageLength:     int(ifd.ImageLength),
		blockWidth:      int(ifd.TileWidth),
		blockLength:     int(ifd.TileLength),
		blockOffsets:    ifd.TileOffsets,
		blockByteCounts: ifd.TileByteCounts,
		compression:     int(ifd.Compression),
		predictor:       int(ifd.Predictor),
		noData:          Int16NoData,
		verticalDatum:   verticalDatum,
	}
	t.blocksAcross = (t.imageWidth + t.blockWidth - 1) / t.blockWidth
	t.blocksDown = (t.imageLength + t.blockLength - 1) / t.blockLength
	blocksPerImage := t.blocksAcross * t.blocksDown
	if len(t.blockOffsets) != blocksPerImage || len(t.blockByteCounts) != blocksPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	t.blockSamples = make([][]int16, blocksPerImage)

	if ifd.GDALNoData != "" {
		noData, err := strconv.ParseInt(strings.TrimRight(strings.TrimSpace(ifd.GDALNoData), "\x00"), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid nodata value %q", ifd.GDALNoData)
		}
		t.noData = int16(noData)
	}

	return t, nil
}

// sample returns the elevation at p, which is in tile-local pixel
// coordinates. Out-of-range and nodata pixels are NaN.
func (t *demTile) sample(p pixel) (float64, error) {
	if p.X < 0 || t.imageWidth <= p.X || p.Y < 0 || t.imageLength <= p.Y {
		return math.NaN(), nil
	}
	blockIndex := p.X/t.blockWidth + t.blocksAcross*(p.Y/t.blockLength)
	samples, err := t.blockSamplesAt(blockIndex)
	if err != nil {
		return 0, err
	}
	sample := samples[p.X%t.blockWidth+(p.Y%t.blockLength)*t.blockWidth]
	if sample == t.noData {
		return math.NaN(), nil
	}
	return float64(sample), nil
}

// blockSamplesAt returns the decoded samples of the block at blockIndex,
// decoding it on first use.
func (t *demTile) blockSamplesAt(blockIndex int) ([]int16, error) {
	if samples := t.blockSamples[blockIndex]; samples != nil {
		return samples, nil
	}

	offset := uint64(t.blockOffsets[blockIndex])
	byteCount := uint64(t.blockByteCounts[blockIndex])
	if offset+byteCount > uint64(len(t.data)) {
		return nil, errShortRead
	}
	blockData, err := t.decompressBlock(t.data[offset : offset+byteCount])
	if err != nil {
		return nil, err
	}

	samples := t.decodeBlockData(blockData)
	t.blockSamples[blockIndex] = samples
	return samples, nil
}

// decompressBlock decompresses one block's data.
func (t *demTile) decompressBlock(compressedData []byte) ([]byte, error) {
	byteCountUncompressed := 2 * t.blockWidth * t.blockLength
	switch t.compression {
	case compressionNone:
		if len(compressedData) < byteCountUncompressed {
			return nil, errShortRead
		}
		return compressedData, nil
	case compressionLZW:
		blockData := make([]byte, byteCountUncompressed)
		r := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		for bytesRead := 0; bytesRead < byteCountUncompressed; {
			n, err := r.Read(blockData[bytesRead:])
			if err != nil {
				return nil, err
			}
			bytesRead += n
		}
		return blockData, nil
	case compressionDeflate:
		r, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		blockData := make([]byte, byteCountUncompressed)
		if _, err := io.ReadFull(r, blockData); err != nil {
			return nil, err
		}
		return blockData, nil
	default:
		return nil, errors.ErrUnsupported
	}
}

// decodeBlockData decodes blockData into samples, undoing horizontal
// differencing if the predictor requires it.
func (t *demTile) decodeBlockData(blockData []byte) []int16 {
	sampleCount := t.blockWidth * t.blockLength
	samples := make([]int16, sampleCount)
	for i := range sampleCount {
		samples[i] = int16(binary.LittleEndian.Uint16(blockData[2*i : 2*i+2]))
	}
	if t.predictor == 2 {
		for row := range t.blockLength {
			for x := 1; x < t.blockWidth; x++ {
				i := row*t.blockWidth + x
				samples[i] += samples[i-1]
			}
		}
	}
	return samples
}
