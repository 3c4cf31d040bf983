// Package basemap fetches slippy-map raster tiles and stitches them into the
// ground texture of a scene.
package basemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG tile decoder
	_ "image/png"  // PNG tile decoder
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/MeKo-Tech/osmscene/internal/tile"
	"github.com/MeKo-Tech/osmscene/internal/worker"
	_ "golang.org/x/image/webp" // WebP tile decoder
)

const (
	// DefaultTileURL is the standard OpenStreetMap raster tile server.
	DefaultTileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

	// DefaultUserAgent identifies the client to tile servers, which reject anonymous requests.
	DefaultUserAgent = "osmscene/1.0 (+https://github.com/MeKo-Tech/osmscene)"

	maxTileBytes = 8 << 20
)

// ErrBadStatus is returned when the tile server does not answer 200 OK.
var ErrBadStatus = errors.New("unexpected tile server status")

// TileCache stores encoded tiles between runs.
// *mbtiles.Writer satisfies it.
type TileCache interface {
	ReadTile(z, x, y int) ([]byte, error)
	WriteTile(z, x, y int, data []byte) error
}

// HTTPFetcher downloads tiles from a {z}/{x}/{y} URL template.
type HTTPFetcher struct {
	client      *http.Client
	cache       TileCache
	logger      *slog.Logger
	urlTemplate string
	userAgent   string

	cacheHits  atomic.Int64
	downloads  atomic.Int64
	downloaded atomic.Int64
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithCache makes the fetcher consult cache before the network and fill it afterwards.
func WithCache(c TileCache) FetcherOption {
	return func(f *HTTPFetcher) {
		f.cache = c
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = l
	}
}

// NewHTTPFetcher creates a fetcher for urlTemplate. An empty template uses DefaultTileURL.
func NewHTTPFetcher(urlTemplate string, opts ...FetcherOption) *HTTPFetcher {
	if urlTemplate == "" {
		urlTemplate = DefaultTileURL
	}
	f := &HTTPFetcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		urlTemplate: urlTemplate,
		userAgent:   DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the decoded tile at coords.
func (f *HTTPFetcher) Fetch(ctx context.Context, coords tile.Coords) (image.Image, error) {
	data, err := f.FetchBytes(ctx, coords)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", coords, err)
	}
	return img, nil
}

// FetchBytes returns the encoded tile at coords, from the cache when possible.
func (f *HTTPFetcher) FetchBytes(ctx context.Context, coords tile.Coords) ([]byte, error) {
	z, x, y := int(coords.Z), int(coords.X), int(coords.Y)

	if f.cache != nil {
		data, err := f.cache.ReadTile(z, x, y)
		if err == nil {
			f.log().Debug("Tile cache hit", "coords", coords.String())
			f.cacheHits.Add(1)
			return data, nil
		}
		if !errors.Is(err, mbtiles.ErrTileNotFound) {
			f.log().Warn("Tile cache read failed", "coords", coords.String(), "error", err)
		}
	}

	data, err := f.download(ctx, coords)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.WriteTile(z, x, y, data); err != nil {
			f.log().Warn("Tile cache write failed", "coords", coords.String(), "error", err)
		}
	}
	return data, nil
}

func (f *HTTPFetcher) download(ctx context.Context, coords tile.Coords) ([]byte, error) {
	url := coords.URL(f.urlTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tile request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile %s: %w", coords, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) // nolint:errcheck
		return nil, fmt.Errorf("%w: tile %s: %s", ErrBadStatus, coords, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", coords, err)
	}
	if len(data) > maxTileBytes {
		return nil, fmt.Errorf("tile %s exceeds %d bytes", coords, maxTileBytes)
	}

	f.downloads.Add(1)
	f.downloaded.Add(int64(len(data)))
	f.log().Debug("Tile downloaded", "coords", coords.String(), "bytes", len(data))
	return data, nil
}

// Stats returns the cache hits and downloads since the fetcher was created.
func (f *HTTPFetcher) Stats() worker.FetchStats {
	return worker.FetchStats{
		CacheHits:  f.cacheHits.Load(),
		Downloads:  f.downloads.Load(),
		Downloaded: f.downloaded.Load(),
	}
}

func (f *HTTPFetcher) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.Default()
}
