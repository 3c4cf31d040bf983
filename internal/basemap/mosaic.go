package basemap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/tile"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/MeKo-Tech/osmscene/internal/worker"
	"github.com/disintegration/gift"
	"golang.org/x/image/draw"
)

const (
	// DefaultTileSize is the edge length of standard slippy-map tiles.
	DefaultTileSize = 256
	// DefaultZoom gives roughly 2.4 m per pixel at mid latitudes.
	DefaultZoom = 16
	// DefaultMaxTiles keeps the stitched canvas around 256 MiB.
	DefaultMaxTiles = 1024
)

// ErrTooManyTiles is returned when the bounds need more tiles than allowed.
var ErrTooManyTiles = errors.New("too many tiles")

// Options configures mosaic building.
type Options struct {
	Logger *slog.Logger
	// TileSize is the edge length tiles are placed at. Tiles of another size are rescaled.
	TileSize int
	Workers  int
	// MaxTiles rejects requests needing more tiles. Zero disables the guard.
	MaxTiles int
	// MaxTextureSize caps the longer edge of the result. Zero disables downscaling.
	MaxTextureSize int
	// Crop trims the stitched tiles to the requested bounds.
	Crop         bool
	ShowProgress bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		TileSize:       DefaultTileSize,
		Workers:        4,
		MaxTiles:       DefaultMaxTiles,
		MaxTextureSize: 4096,
		Crop:           true,
	}
}

// Mosaic is a stitched ground image.
type Mosaic struct {
	Image *image.RGBA
	// Bounds is the geographic extent the image covers.
	Bounds types.BoundingBox
	Range  tile.Range
}

// Builder stitches tiles from a Fetcher into a single image.
type Builder struct {
	fetcher worker.Fetcher
	opts    Options
}

// NewBuilder creates a mosaic builder.
func NewBuilder(fetcher worker.Fetcher, opts Options) *Builder {
	if opts.TileSize <= 0 {
		opts.TileSize = DefaultTileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Builder{fetcher: fetcher, opts: opts}
}

// BuildMosaic fetches every tile covering bounds at zoom and stitches them.
// The first failed tile cancels the remaining fetches and fails the mosaic.
func (b *Builder) BuildMosaic(ctx context.Context, bounds types.BoundingBox, zoom int) (*Mosaic, error) {
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	if zoom < 0 || zoom > 22 {
		return nil, fmt.Errorf("zoom %d out of range [0, 22]", zoom)
	}

	r := tile.RangeForBounds(bounds, zoom)
	count := r.Count()
	if b.opts.MaxTiles > 0 && count > b.opts.MaxTiles {
		return nil, fmt.Errorf("%w: %d tiles needed at zoom %d, limit is %d", ErrTooManyTiles, count, zoom, b.opts.MaxTiles)
	}

	b.log().Info("Fetching ground tiles",
		"zoom", zoom,
		"tiles", count,
		"cols", r.Cols(),
		"rows", r.Rows(),
		"workers", b.opts.Workers)

	tasks := make([]worker.Task, 0, count)
	r.ForEach(func(c tile.Coords) {
		tasks = append(tasks, worker.Task{Coords: c})
	})

	progress := worker.NewProgress(count, b.opts.ShowProgress)
	if sr, ok := b.fetcher.(worker.StatsReporter); ok {
		progress.Track(sr)
	}
	pool := worker.New(worker.Config{
		Fetcher:    b.fetcher,
		Workers:    b.opts.Workers,
		FailFast:   true,
		OnProgress: progress.Callback(),
	})
	results := pool.Run(ctx, tasks)
	progress.Done()

	if err := worker.FirstError(results); err != nil {
		return nil, fmt.Errorf("failed to fetch ground tiles: %w", err)
	}
	b.log().Info(progress.Summary())

	ts := b.opts.TileSize
	img := image.NewRGBA(image.Rect(0, 0, r.Cols()*ts, r.Rows()*ts))
	for _, res := range results {
		x, y := r.Offset(res.Task.Coords, ts)
		placeTile(img, res.Image, image.Rect(x, y, x+ts, y+ts))
	}

	m := &Mosaic{Image: img, Bounds: r.Bounds(), Range: r}
	if b.opts.Crop {
		m.Image = cropToBounds(img, r, bounds, ts)
		m.Bounds = bounds
	}
	if b.opts.MaxTextureSize > 0 {
		m.Image = fitWithin(m.Image, b.opts.MaxTextureSize)
	}

	b.log().Debug("Mosaic stitched",
		"width", m.Image.Bounds().Dx(),
		"height", m.Image.Bounds().Dy())
	return m, nil
}

func (b *Builder) log() *slog.Logger {
	if b.opts.Logger != nil {
		return b.opts.Logger
	}
	return slog.Default()
}

// placeTile draws src into rect of dst, rescaling when the sizes differ.
func placeTile(dst *image.RGBA, src image.Image, rect image.Rectangle) {
	if src == nil {
		return
	}
	sb := src.Bounds()
	if sb.Dx() == rect.Dx() && sb.Dy() == rect.Dy() {
		draw.Draw(dst, rect, src, sb.Min, draw.Src)
		return
	}
	draw.CatmullRom.Scale(dst, rect, src, sb, draw.Src, nil)
}

// PixelRect returns the pixel rectangle of bounds inside a mosaic of r.
// The result is clamped to the mosaic.
func PixelRect(r tile.Range, bounds types.BoundingBox, tileSize int) image.Rectangle {
	zoom := int(r.Zoom)
	ts := float64(tileSize)

	left, top := geo.TileFraction(bounds.MaxLat, bounds.MinLon, zoom)
	right, bottom := geo.TileFraction(bounds.MinLat, bounds.MaxLon, zoom)

	rect := image.Rect(
		int(math.Floor((left-float64(r.MinX))*ts)),
		int(math.Floor((top-float64(r.MinY))*ts)),
		int(math.Ceil((right-float64(r.MinX))*ts)),
		int(math.Ceil((bottom-float64(r.MinY))*ts)),
	)
	return rect.Intersect(image.Rect(0, 0, r.Cols()*tileSize, r.Rows()*tileSize))
}

func cropToBounds(img *image.RGBA, r tile.Range, bounds types.BoundingBox, tileSize int) *image.RGBA {
	rect := PixelRect(r, bounds, tileSize)
	if rect.Empty() || rect == img.Bounds() {
		return img
	}
	g := gift.New(gift.Crop(rect))
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

func fitWithin(img *image.RGBA, maxSize int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() <= maxSize && b.Dy() <= maxSize {
		return img
	}
	g := gift.New(gift.ResizeToFit(maxSize, maxSize, gift.LanczosResampling))
	dst := image.NewRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}

// SavePNG writes img to path atomically.
func SavePNG(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move PNG into place: %w", err)
	}
	return nil
}
