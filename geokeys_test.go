package demvrt

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseGeoKeys(t *testing.T) {
	directory := []uint16{
		1, 1, 0, 5,
		1024, 0, 1, 1,
		1025, 0, 1, 1,
		1026, 34737, 25, 0,
		3072, 0, 1, 3857,
		4099, 0, 1, 9001,
	}

	keys, err := parseGeoKeys(directory)
	assert.NoError(t, err)
	assert.Equal(t, geoKeys{
		geoKeyGTModelType:   1,
		geoKeyGTRasterType:  1,
		geoKeyProjectedCRS:  3857,
		geoKeyVerticalUnits: 9001,
	}, keys)

	srid, ok := keys.projectedCRS()
	assert.True(t, ok)
	assert.Equal(t, 3857, srid)

	_, ok = keys.verticalDatum()
	assert.False(t, ok)
}

func TestParseGeoKeysErrors(t *testing.T) {
	for _, tc := range []struct {
		name      string
		directory []uint16
	}{
		{name: "empty", directory: nil},
		{name: "short_header", directory: []uint16{1, 1, 0}},
		{name: "bad_version", directory: []uint16{2, 1, 0, 0}},
		{name: "bad_revision", directory: []uint16{1, 2, 0, 0}},
		{name: "truncated_keys", directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 1}},
		{name: "multi_valued_short", directory: []uint16{1, 1, 0, 1, 1024, 0, 2, 1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseGeoKeys(tc.directory)
			assert.True(t, errors.Is(err, errGeoKeyParse))
		})
	}
}
