package demvrt

import "errors"

var errGeoKeyParse = errors.New("geokey parse error")

type geoKey uint16

const (
	geoKeyGTModelType   geoKey = 1024
	geoKeyGTRasterType  geoKey = 1025
	geoKeyGeodeticCRS   geoKey = 2048
	geoKeyProjectedCRS  geoKey = 3072
	geoKeyVerticalDatum geoKey = 4098
	geoKeyVerticalUnits geoKey = 4099
)

// geoKeys holds the short-valued GeoTIFF keys of a tile. Keys stored in the
// double and ASCII parameter tags are not needed to identify the tile CRS
// and are skipped.
type geoKeys map[geoKey]int

// parseGeoKeys parses a GeoKeyDirectoryTag value.
func parseGeoKeys(directory []uint16) (geoKeys, error) {
	if len(directory) < 4 {
		return nil, errGeoKeyParse
	}
	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errGeoKeyParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errGeoKeyParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errGeoKeyParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) < 4+4*numberOfKeys {
		return nil, errGeoKeyParse
	}

	keys := make(geoKeys)
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := geoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		if tiffTagLocation != 0 {
			// Double or ASCII parameter; irrelevant here.
			continue
		}
		if numberOfValues != 1 {
			return nil, errGeoKeyParse
		}
		keys[key] = int(keyValues[3])
	}
	return keys, nil
}

// geodeticCRS returns the EPSG code of the tile's geodetic CRS, if any.
func (k geoKeys) geodeticCRS() (int, bool) {
	srid, ok := k[geoKeyGeodeticCRS]
	return srid, ok
}

// projectedCRS returns the EPSG code of the tile's projected CRS, if any.
func (k geoKeys) projectedCRS() (int, bool) {
	srid, ok := k[geoKeyProjectedCRS]
	return srid, ok
}

// verticalDatum returns the EPSG code of the tile's vertical datum, if any.
func (k geoKeys) verticalDatum() (int, bool) {
	datum, ok := k[geoKeyVerticalDatum]
	return datum, ok
}
