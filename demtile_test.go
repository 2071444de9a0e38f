package demvrt

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
)

const (
	tiffTypeASCII  = 2
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeDouble = 12
)

type tiffField struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}

// buildTestTIFF assembles a 512x512 tiled int16 GeoTIFF from samples, which
// is indexed row-major.
func buildTestTIFF(tb testing.TB, samples []int16, compression, predictor uint16) []byte {
	tb.Helper()
	const width, height, blockSize = TileSize, TileSize, BlockSize
	assert.Equal(tb, width*height, len(samples))
	blocksAcross := width / blockSize
	blocksDown := height / blockSize
	numBlocks := blocksAcross * blocksDown

	blockBytes := make([][]byte, numBlocks)
	for by := range blocksDown {
		for bx := range blocksAcross {
			block := make([]int16, blockSize*blockSize)
			for y := range blockSize {
				for x := range blockSize {
					block[y*blockSize+x] = samples[(by*blockSize+y)*width+bx*blockSize+x]
				}
			}
			if predictor == 2 {
				for y := range blockSize {
					for x := blockSize - 1; x > 0; x-- {
						block[y*blockSize+x] -= block[y*blockSize+x-1]
					}
				}
			}
			raw := make([]byte, 2*len(block))
			for i, sample := range block {
				binary.LittleEndian.PutUint16(raw[2*i:], uint16(sample))
			}
			switch compression {
			case compressionNone:
				blockBytes[by*blocksAcross+bx] = raw
			case compressionDeflate:
				var buffer bytes.Buffer
				w := zlib.NewWriter(&buffer)
				_, err := w.Write(raw)
				assert.NoError(tb, err)
				assert.NoError(tb, w.Close())
				blockBytes[by*blocksAcross+bx] = buffer.Bytes()
			default:
				tb.Fatalf("unsupported compression %d", compression)
			}
		}
	}

	const numFields = 17
	dataOffset := uint32(8 + 2 + 12*numFields + 4)
	blockOffsetsOffset := dataOffset
	dataOffset += 4 * uint32(numBlocks)
	blockByteCountsOffset := dataOffset
	dataOffset += 4 * uint32(numBlocks)
	pixelScaleOffset := dataOffset
	dataOffset += 8 * 3
	tiepointOffset := dataOffset
	dataOffset += 8 * 6
	geoKeysOffset := dataOffset
	geoKeys := []uint16{
		1, 1, 0, 4,
		1024, 0, 1, 1,
		1025, 0, 1, 1,
		3072, 0, 1, 3857,
		4098, 0, 1, 5100,
	}
	dataOffset += 2 * uint32(len(geoKeys))
	noDataOffset := dataOffset
	noData := []byte("-32768\x00")
	dataOffset += uint32(len(noData))
	if dataOffset%2 == 1 {
		dataOffset++
	}

	blockOffsets := make([]uint32, numBlocks)
	blockByteCounts := make([]uint32, numBlocks)
	for i, data := range blockBytes {
		blockOffsets[i] = dataOffset
		blockByteCounts[i] = uint32(len(data))
		dataOffset += uint32(len(data))
	}

	fields := []tiffField{
		{tag: 256, typ: tiffTypeShort, count: 1, value: width},
		{tag: 257, typ: tiffTypeShort, count: 1, value: height},
		{tag: 258, typ: tiffTypeShort, count: 1, value: 16},
		{tag: 259, typ: tiffTypeShort, count: 1, value: uint32(compression)},
		{tag: 262, typ: tiffTypeShort, count: 1, value: 1},
		{tag: 277, typ: tiffTypeShort, count: 1, value: 1},
		{tag: 284, typ: tiffTypeShort, count: 1, value: 1},
		{tag: 317, typ: tiffTypeShort, count: 1, value: uint32(predictor)},
		{tag: 322, typ: tiffTypeShort, count: 1, value: blockSize},
		{tag: 323, typ: tiffTypeShort, count: 1, value: blockSize},
		{tag: 324, typ: tiffTypeLong, count: uint32(numBlocks), value: blockOffsetsOffset},
		{tag: 325, typ: tiffTypeLong, count: uint32(numBlocks), value: blockByteCountsOffset},
		{tag: 339, typ: tiffTypeShort, count: 1, value: 2},
		{tag: 33550, typ: tiffTypeDouble, count: 3, value: pixelScaleOffset},
		{tag: 33922, typ: tiffTypeDouble, count: 6, value: tiepointOffset},
		{tag: 34735, typ: tiffTypeShort, count: uint32(len(geoKeys)), value: geoKeysOffset},
		{tag: 42113, typ: tiffTypeASCII, count: uint32(len(noData)), value: noDataOffset},
	}
	assert.Equal(tb, numFields, len(fields))

	var buffer bytes.Buffer
	write := func(data any) {
		assert.NoError(tb, binary.Write(&buffer, binary.LittleEndian, data))
	}
	buffer.WriteString("II")
	write(uint16(42))
	write(uint32(8))
	write(uint16(numFields))
	for _, field := range fields {
		write(field.tag)
		write(field.typ)
		write(field.count)
		write(field.value)
	}
	write(uint32(0)) // no next IFD
	write(blockOffsets)
	write(blockByteCounts)
	res := Resolution(10)
	write([]float64{res, res, 0})
	write([]float64{0, 0, 0, 0, 0, 0})
	write(geoKeys)
	buffer.Write(noData)
	if buffer.Len()%2 == 1 {
		buffer.WriteByte(0)
	}
	for _, data := range blockBytes {
		buffer.Write(data)
	}
	return buffer.Bytes()
}

// gradientSamples fills a tile with x+y, with a nodata hole at (10, 10).
func gradientSamples() []int16 {
	samples := make([]int16, TileSize*TileSize)
	for y := range TileSize {
		for x := range TileSize {
			samples[y*TileSize+x] = int16(x + y)
		}
	}
	samples[10*TileSize+10] = Int16NoData
	return samples
}

func TestNewDEMTile(t *testing.T) {
	for _, tc := range []struct {
		name        string
		compression uint16
		predictor   uint16
	}{
		{name: "uncompressed", compression: compressionNone, predictor: 1},
		{name: "deflate", compression: compressionDeflate, predictor: 1},
		{name: "deflate_predictor", compression: compressionDeflate, predictor: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := buildTestTIFF(t, gradientSamples(), tc.compression, tc.predictor)
			tile, err := newDEMTile(data)
			assert.NoError(t, err)
			assert.Equal(t, 5100, tile.verticalDatum)

			for _, sample := range []struct {
				pixel    pixel
				expected float64
			}{
				{pixel: pixel{X: 0, Y: 0}, expected: 0},
				{pixel: pixel{X: 511, Y: 0}, expected: 511},
				{pixel: pixel{X: 100, Y: 200}, expected: 300},
				{pixel: pixel{X: 300, Y: 300}, expected: 600},
				{pixel: pixel{X: 511, Y: 511}, expected: 1022},
			} {
				actual, err := tile.sample(sample.pixel)
				assert.NoError(t, err)
				assert.Equal(t, sample.expected, actual)
			}

			noData, err := tile.sample(pixel{X: 10, Y: 10})
			assert.NoError(t, err)
			assert.True(t, math.IsNaN(noData))

			outside, err := tile.sample(pixel{X: TileSize, Y: 0})
			assert.NoError(t, err)
			assert.True(t, math.IsNaN(outside))
		})
	}
}

func TestNewDEMTileRejectsGarbage(t *testing.T) {
	_, err := newDEMTile([]byte("not a tiff"))
	assert.Error(t, err)
}

func TestNewDEMTileRejectsGeographicCRS(t *testing.T) {
	data := buildTestTIFF(t, gradientSamples(), compressionNone, 1)
	// Rewrite the projected CRS geokey into a geodetic-only one.
	needle := make([]byte, 8)
	binary.LittleEndian.PutUint16(needle[0:], 3072)
	binary.LittleEndian.PutUint16(needle[2:], 0)
	binary.LittleEndian.PutUint16(needle[4:], 1)
	binary.LittleEndian.PutUint16(needle[6:], 3857)
	index := bytes.Index(data, needle)
	assert.True(t, index >= 0)
	binary.LittleEndian.PutUint16(data[index:], 2048)
	binary.LittleEndian.PutUint16(data[index+6:], 4326)

	_, err := newDEMTile(data)
	assert.Error(t, err)
}

func TestNewDEMTileRejectsForeignCRS(t *testing.T) {
	data := buildTestTIFF(t, gradientSamples(), compressionNone, 1)
	// Rewrite the projected CRS geokey value from 3857 to 32633.
	needle := make([]byte, 8)
	binary.LittleEndian.PutUint16(needle[0:], 3072)
	binary.LittleEndian.PutUint16(needle[2:], 0)
	binary.LittleEndian.PutUint16(needle[4:], 1)
	binary.LittleEndian.PutUint16(needle[6:], 3857)
	index := bytes.Index(data, needle)
	assert.True(t, index >= 0)
	binary.LittleEndian.PutUint16(data[index+6:], 32633)

	_, err := newDEMTile(data)
	assert.Error(t, err)
}
