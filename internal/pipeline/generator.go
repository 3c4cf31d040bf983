// Package pipeline runs a complete export: load OSM data, classify it, fetch
// the ground imagery, build the scene and write the USD stage plus the
// optional debug outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/classify"
	"github.com/MeKo-Tech/osmscene/internal/datasource"
	"github.com/MeKo-Tech/osmscene/internal/geojson"
	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/raster"
	"github.com/MeKo-Tech/osmscene/internal/scene"
	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/tile"
	"github.com/MeKo-Tech/osmscene/internal/transform"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/MeKo-Tech/osmscene/internal/usd"
	"github.com/MeKo-Tech/osmscene/internal/worker"
)

// DefaultPreviewSize is the longer edge of the preview PNG.
const DefaultPreviewSize = 2048

// GroundConfig controls the textured ground quad.
type GroundConfig struct {
	// Fetcher replaces the HTTP tile fetcher. TileURL, UserAgent and CachePath
	// are ignored when it is set.
	Fetcher   worker.Fetcher
	TileURL   string
	UserAgent string
	// CachePath is an MBTiles file used as a read-through tile cache.
	CachePath string
	Mosaic    basemap.Options
	Zoom      int
	Enabled   bool
}

// Config configures a Generator.
type Config struct {
	Logger *slog.Logger
	Style  *style.Style
	// Bounds overrides the bounds found in the input.
	Bounds *types.BoundingBox

	OutputPath  string
	GeoJSONPath string
	PreviewPath string
	PreviewSize int

	Ground GroundConfig

	Scale         float64
	HeightScale   float64
	Workers       int
	MaxIssues     int
	TrueRoadWidth bool
	TagMetadata   bool
}

// DefaultConfig returns the configuration used by the CLI defaults.
func DefaultConfig() Config {
	so := scene.DefaultOptions()
	return Config{
		Style:       so.Style,
		Scale:       so.Scale,
		HeightScale: so.HeightScale,
		TagMetadata: so.TagMetadata,
		MaxIssues:   100,
		PreviewSize: DefaultPreviewSize,
		Ground: GroundConfig{
			Enabled:   true,
			TileURL:   basemap.DefaultTileURL,
			UserAgent: basemap.DefaultUserAgent,
			Zoom:      basemap.DefaultZoom,
			Mosaic:    basemap.DefaultOptions(),
		},
	}
}

// Result describes what a run produced.
type Result struct {
	Report *classify.Report
	Scene  *scene.Scene
	Bounds types.BoundingBox

	USDPath     string
	GroundPath  string
	GeoJSONPath string
	PreviewPath string

	// GroundErr is set when the ground imagery failed. The stage is still
	// written, without the ground group.
	GroundErr error
	Duration  time.Duration
}

// Generator wires a data source through classification, scene building and
// output writing.
type Generator struct {
	src    datasource.Source
	logger *slog.Logger
	cfg    Config
}

// NewGenerator validates cfg and prepares a generator.
func NewGenerator(src datasource.Source, cfg Config) (*Generator, error) {
	if src == nil {
		return nil, errors.New("no data source")
	}
	if cfg.Style == nil {
		cfg.Style = style.Default()
	}
	if cfg.Scale <= 0 {
		return nil, fmt.Errorf("scale must be positive, got %g", cfg.Scale)
	}
	if cfg.HeightScale <= 0 {
		return nil, fmt.Errorf("height scale must be positive, got %g", cfg.HeightScale)
	}
	if cfg.Bounds != nil {
		if err := cfg.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("invalid bounds: %w", err)
		}
	}
	if cfg.Ground.Enabled {
		if cfg.Ground.Zoom < 0 || cfg.Ground.Zoom > 22 {
			return nil, fmt.Errorf("ground zoom %d out of range [0, 22]", cfg.Ground.Zoom)
		}
		if cfg.Ground.Fetcher == nil && cfg.Ground.TileURL == "" {
			return nil, errors.New("ground tile URL is required")
		}
	}
	if cfg.PreviewSize <= 0 {
		cfg.PreviewSize = DefaultPreviewSize
	}

	return &Generator{src: src, cfg: cfg, logger: cfg.Logger}, nil
}

// GroundPath returns the ground texture path that belongs to a stage path:
// the stage path without extension plus "_ground.png".
func GroundPath(usdPath string) string {
	return strings.TrimSuffix(usdPath, filepath.Ext(usdPath)) + "_ground.png"
}

// Load reads the source and resolves the active bounds.
func (g *Generator) Load(ctx context.Context) (*osmdata.Dataset, types.BoundingBox, error) {
	ds, err := g.src.Load(ctx)
	if err != nil {
		return nil, types.BoundingBox{}, fmt.Errorf("failed to load %s: %w", g.src.Name(), err)
	}
	bounds, err := datasource.ResolveBounds(g.cfg.Bounds, ds)
	if err != nil {
		return nil, types.BoundingBox{}, err
	}
	return ds, bounds, nil
}

// Classify runs the classifier over ds restricted to bounds.
func (g *Generator) Classify(ds *osmdata.Dataset, bounds types.BoundingBox) (types.FeatureCollection, *classify.Report) {
	opts := []classify.Option{classify.WithBounds(bounds), classify.WithLogger(g.cfg.Logger)}
	if g.cfg.MaxIssues != 0 {
		opts = append(opts, classify.WithMaxIssues(g.cfg.MaxIssues))
	}
	return classify.New(g.cfg.Style, opts...).Classify(ds)
}

// Ground builds the ground mosaic for bounds.
func (g *Generator) Ground(ctx context.Context, bounds types.BoundingBox) (*basemap.Mosaic, error) {
	return BuildGround(ctx, g.cfg.Ground, bounds, g.cfg.Logger)
}

// BuildGround fetches and stitches the tiles of gc covering bounds. With a
// cache path, tiles are read from and added to that MBTiles file.
func BuildGround(ctx context.Context, gc GroundConfig, bounds types.BoundingBox, logger *slog.Logger) (*basemap.Mosaic, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := gc.Mosaic
	if opts.Logger == nil {
		opts.Logger = logger
	}

	fetcher := gc.Fetcher
	if fetcher == nil {
		if gc.TileURL == "" {
			return nil, errors.New("ground tile URL is required")
		}
		fopts := []basemap.FetcherOption{basemap.WithLogger(logger)}
		if gc.UserAgent != "" {
			fopts = append(fopts, basemap.WithUserAgent(gc.UserAgent))
		}
		if gc.CachePath != "" {
			r := tile.RangeForBounds(bounds, gc.Zoom)
			cache, err := mbtiles.New(gc.CachePath, mbtiles.MetadataForRange("osmscene ground", "png", r))
			if err != nil {
				return nil, fmt.Errorf("failed to open tile cache: %w", err)
			}
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Warn("Failed to close tile cache", "path", gc.CachePath, "error", err)
				}
			}()
			fopts = append(fopts, basemap.WithCache(cache))
		}
		fetcher = basemap.NewHTTPFetcher(gc.TileURL, fopts...)
	}

	return basemap.NewBuilder(fetcher, opts).BuildMosaic(ctx, bounds, gc.Zoom)
}

// Preview loads and classifies the input and writes only the preview PNG.
// With the ground enabled the tiles are used as background; a failed ground
// falls back to a plain background.
func (g *Generator) Preview(ctx context.Context) (*Result, error) {
	if g.cfg.PreviewPath == "" {
		return nil, errors.New("preview path is required")
	}
	ds, bounds, err := g.Load(ctx)
	if err != nil {
		return nil, err
	}
	fc, report := g.Classify(ds, bounds)
	g.log().Info("Features classified", "report", report.String())

	res := &Result{Report: report, Bounds: bounds}
	var mosaic *basemap.Mosaic
	if g.cfg.Ground.Enabled {
		mosaic, res.GroundErr = g.Ground(ctx, bounds)
		if res.GroundErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.log().Warn("Ground imagery unavailable, using plain background", "error", res.GroundErr)
		}
	}
	if err := g.writePreview(fc, bounds, mosaic); err != nil {
		return nil, err
	}
	res.PreviewPath = g.cfg.PreviewPath
	return res, nil
}

// Generate runs the whole export.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	if g.cfg.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	start := time.Now()

	ds, bounds, err := g.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats := ds.Stats()
	g.log().Info("Input loaded",
		"source", g.src.Name(),
		"nodes", stats.Nodes,
		"ways", stats.Ways,
		"relations", stats.Relations,
		"bounds", bounds.String())

	fc, report := g.Classify(ds, bounds)
	g.log().Info("Features classified", "report", report.String())
	if fc.Count() == 0 {
		return nil, fmt.Errorf("nothing to export inside %s: %w", bounds, transform.ErrNoCoordinates)
	}

	res := &Result{Report: report, Bounds: bounds, USDPath: g.cfg.OutputPath}

	var mosaic *basemap.Mosaic
	if g.cfg.Ground.Enabled {
		mosaic, res.GroundErr = g.writeGround(ctx, bounds)
		if res.GroundErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.log().Warn("Ground imagery unavailable, writing scene without ground", "error", res.GroundErr)
		} else {
			res.GroundPath = GroundPath(g.cfg.OutputPath)
		}
	}

	so := scene.Options{
		Style:         g.cfg.Style,
		Logger:        g.cfg.Logger,
		Scale:         g.cfg.Scale,
		HeightScale:   g.cfg.HeightScale,
		Workers:       g.cfg.Workers,
		TrueRoadWidth: g.cfg.TrueRoadWidth,
		TagMetadata:   g.cfg.TagMetadata,
	}
	if mosaic != nil {
		// The mosaic may cover more than the requested bounds when not cropped.
		mb := mosaic.Bounds
		so.Bounds = &mb
		so.GroundTexture = filepath.Base(res.GroundPath)
	}

	sc, err := scene.Build(ctx, fc, so)
	if err != nil {
		return nil, fmt.Errorf("failed to build scene: %w", err)
	}
	res.Scene = sc

	stage := usd.NewStage()
	if err := sc.Emit(stage); err != nil {
		return nil, fmt.Errorf("failed to emit scene: %w", err)
	}
	if err := stage.Save(g.cfg.OutputPath); err != nil {
		return nil, err
	}
	g.log().Info("Stage written", "path", g.cfg.OutputPath, "prims", stage.PrimCount())

	if g.cfg.GeoJSONPath != "" {
		if err := geojson.WriteFile(g.cfg.GeoJSONPath, fc); err != nil {
			return nil, fmt.Errorf("failed to write GeoJSON: %w", err)
		}
		res.GeoJSONPath = g.cfg.GeoJSONPath
		g.log().Info("GeoJSON written", "path", g.cfg.GeoJSONPath)
	}

	if g.cfg.PreviewPath != "" {
		if err := g.writePreview(fc, bounds, mosaic); err != nil {
			return nil, err
		}
		res.PreviewPath = g.cfg.PreviewPath
	}

	res.Duration = time.Since(start)
	g.log().Info("Export finished",
		"meshes", sc.MeshCount(),
		"skipped", sc.SkippedCount(),
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (g *Generator) writeGround(ctx context.Context, bounds types.BoundingBox) (*basemap.Mosaic, error) {
	m, err := g.Ground(ctx, bounds)
	if err != nil {
		return nil, err
	}
	path := GroundPath(g.cfg.OutputPath)
	if err := basemap.SavePNG(path, m.Image); err != nil {
		return nil, fmt.Errorf("failed to save ground texture: %w", err)
	}
	g.log().Info("Ground texture written",
		"path", path,
		"width", m.Image.Bounds().Dx(),
		"height", m.Image.Bounds().Dy())
	return m, nil
}

// writePreview renders the features over the mosaic when there is one.
func (g *Generator) writePreview(fc types.FeatureCollection, bounds types.BoundingBox, mosaic *basemap.Mosaic) error {
	ts := basemap.DefaultTileSize
	area := bounds
	var bg image.Image
	if mosaic != nil {
		area = mosaic.Bounds
		bg = mosaic.Image
	}

	r, err := raster.ForBounds(g.cfg.Style, area, raster.FitZoom(area, ts, g.cfg.PreviewSize), ts)
	if err != nil {
		return fmt.Errorf("failed to prepare preview: %w", err)
	}
	if err := basemap.SavePNG(g.cfg.PreviewPath, r.Render(fc, bg)); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	w, h := r.Size()
	g.log().Info("Preview written", "path", g.cfg.PreviewPath, "width", w, "height", h)
	return nil
}

func (g *Generator) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}
