package demvrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"
)

const httpUserAgent = "go-demvrt/1.0"

// A TileFetcher retrieves the raw bytes of one remote elevation tile.
// Implementations report a missing tile with an error wrapping
// fs.ErrNotExist; all other failures wrap ErrTileUnavailable.
type TileFetcher interface {
	Fetch(ctx context.Context, tile Tile) ([]byte, error)
	Close() error
}

// An S3TileFetcher fetches tiles from an S3 bucket. By default it reads the
// public elevation tile store with unsigned (anonymous) requests.
type S3TileFetcher struct {
	bucket      string
	keyTemplate string
	region      string
	signed      bool
	logger      zerolog.Logger
	downloader  *s3manager.Downloader
}

// An S3TileFetcherOption sets an option on an S3TileFetcher.
type S3TileFetcherOption func(*S3TileFetcher)

// WithS3Bucket sets the bucket to fetch from.
func WithS3Bucket(bucket string) S3TileFetcherOption {
	return func(f *S3TileFetcher) {
		f.bucket = bucket
	}
}

// WithS3KeyTemplate sets the object key template. The placeholders {z}, {x}
// and {y} are replaced by the tile's zoom, column and row.
func WithS3KeyTemplate(keyTemplate string) S3TileFetcherOption {
	return func(f *S3TileFetcher) {
		f.keyTemplate = keyTemplate
	}
}

// WithS3Region sets the bucket's region.
func WithS3Region(region string) S3TileFetcherOption {
	return func(f *S3TileFetcher) {
		f.region = region
	}
}

// WithSignedRequests signs requests with ambient AWS credentials instead of
// the default unsigned anonymous access.
func WithSignedRequests() S3TileFetcherOption {
	return func(f *S3TileFetcher) {
		f.signed = true
	}
}

// WithS3Logger sets the fetcher's logger.
func WithS3Logger(logger zerolog.Logger) S3TileFetcherOption {
	return func(f *S3TileFetcher) {
		f.logger = logger
	}
}

// NewS3TileFetcher returns a new S3TileFetcher with the given options.
func NewS3TileFetcher(options ...S3TileFetcherOption) (*S3TileFetcher, error) {
	f := &S3TileFetcher{
		bucket:      "elevation-tiles-prod",
		keyTemplate: "geotiff/{z}/{x}/{y}.tif",
		region:      "us-east-1",
		logger:      zerolog.Nop(),
	}
	for _, option := range options {
		option(f)
	}

	config := aws.NewConfig().WithRegion(f.region)
	if !f.signed {
		config = config.WithCredentials(credentials.AnonymousCredentials)
	}
	sess, err := awssession.NewSession(config)
	if err != nil {
		return nil, err
	}
	f.downloader = s3manager.NewDownloader(sess)
	return f, nil
}

// Fetch downloads the object for tile.
func (f *S3TileFetcher) Fetch(ctx context.Context, tile Tile) ([]byte, error) {
	key := expandTileTemplate(f.keyTemplate, tile)
	start := time.Now()
	buffer := &aws.WriteAtBuffer{}
	_, err := f.downloader.DownloadWithContext(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	var awsErr awserr.Error
	switch {
	case errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound"):
		return nil, fmt.Errorf("s3://%s/%s: %w", f.bucket, key, fs.ErrNotExist)
	case err != nil:
		return nil, fmt.Errorf("s3://%s/%s: %w: %s", f.bucket, key, ErrTileUnavailable, err)
	}
	f.logger.Debug().
		Str("bucket", f.bucket).
		Str("key", key).
		Int("bytes", len(buffer.Bytes())).
		Dur("elapsed", time.Since(start)).
		Msg("fetched tile")
	return buffer.Bytes(), nil
}

func (f *S3TileFetcher) Close() error {
	return nil
}

// An HTTPTileFetcher fetches tiles from an HTTP(S) tile store.
type HTTPTileFetcher struct {
	urlTemplate string
	client      *http.Client
	logger      zerolog.Logger
}

// An HTTPTileFetcherOption sets an option on an HTTPTileFetcher.
type HTTPTileFetcherOption func(*HTTPTileFetcher)

// WithHTTPClient sets the fetcher's HTTP client.
func WithHTTPClient(client *http.Client) HTTPTileFetcherOption {
	return func(f *HTTPTileFetcher) {
		f.client = client
	}
}

// WithHTTPLogger sets the fetcher's logger.
func WithHTTPLogger(logger zerolog.Logger) HTTPTileFetcherOption {
	return func(f *HTTPTileFetcher) {
		f.logger = logger
	}
}

// NewHTTPTileFetcher returns a new HTTPTileFetcher fetching from
// urlTemplate, in which the placeholders {z}, {x} and {y} are replaced by
// the tile's zoom, column and row.
func NewHTTPTileFetcher(urlTemplate string, options ...HTTPTileFetcherOption) *HTTPTileFetcher {
	f := &HTTPTileFetcher{
		urlTemplate: urlTemplate,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
			},
		},
		logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// Fetch downloads the tile object over HTTP.
func (f *HTTPTileFetcher) Fetch(ctx context.Context, tile Tile) ([]byte, error) {
	url := expandTileTemplate(f.urlTemplate, tile)
	start := time.Now()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", httpUserAgent)
	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", url, ErrTileUnavailable, err)
	}
	defer response.Body.Close()
	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, fs.ErrNotExist)
	case response.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: %w: %s", url, ErrTileUnavailable, response.Status)
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", url, ErrTileUnavailable, err)
	}
	f.logger.Debug().
		Str("url", url).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched tile")
	return data, nil
}

func (f *HTTPTileFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
