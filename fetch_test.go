package demvrt

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestHTTPTileFetcher(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geotiff/8/40/87.tif":
			_, _ = w.Write([]byte("tile bytes"))
		case "/geotiff/8/40/88.tif":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewHTTPTileFetcher(server.URL + "/geotiff/{z}/{x}/{y}.tif")
	defer fetcher.Close()

	data, err := fetcher.Fetch(ctx, Tile{X: 40, Y: 87, Z: 8})
	assert.NoError(t, err)
	assert.Equal(t, []byte("tile bytes"), data)

	_, err = fetcher.Fetch(ctx, Tile{X: 40, Y: 86, Z: 8})
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = fetcher.Fetch(ctx, Tile{X: 40, Y: 88, Z: 8})
	assert.True(t, errors.Is(err, ErrTileUnavailable))
}

func TestS3TileFetcherDefaults(t *testing.T) {
	fetcher, err := NewS3TileFetcher()
	assert.NoError(t, err)
	defer fetcher.Close()
	assert.Equal(t, "elevation-tiles-prod", fetcher.bucket)
	assert.Equal(t, "geotiff/{z}/{x}/{y}.tif", fetcher.keyTemplate)
	assert.Equal(t, "us-east-1", fetcher.region)
	assert.False(t, fetcher.signed)
}
