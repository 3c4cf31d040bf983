package cmd

import (
	"fmt"
	"runtime"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/mesh"
	"github.com/MeKo-Tech/osmscene/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var buildCmd = &cobra.Command{
	Use:   "build [input files...]",
	Short: "Build a USD scene from OSM data",
	Long: `Build classifies the ways of the input, extrudes buildings, lays out roads,
water and land as flat surfaces and writes everything to a USDA stage.

Unless --no-ground is given, map tiles covering the bounds are stitched into
<output>_ground.png and applied to a ground plane.`,
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, buildBindings) },
	RunE:   runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	// Input
	buildCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (overrides the input bounds)")
	buildCmd.Flags().Bool("overpass", false, "Query the Overpass API for --bbox instead of reading files")
	buildCmd.Flags().String("overpass-endpoint", "", "Overpass interpreter URL")

	// Output
	buildCmd.Flags().StringP("output", "o", "scene.usda", "Output USDA file")
	buildCmd.Flags().String("geojson", "", "Also write the classified features as GeoJSON")
	buildCmd.Flags().String("preview", "", "Also write a top-down PNG preview")
	buildCmd.Flags().Int("preview-size", pipeline.DefaultPreviewSize, "Longer edge of the preview in pixels")

	// Scene
	buildCmd.Flags().Float64("scale", geo.DefaultScale, "Scene units per degree")
	buildCmd.Flags().Float64("height-scale", mesh.DefaultHeightScale, "Scene units per meter of building height")
	buildCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	buildCmd.Flags().Bool("true-road-width", false, "Offset road edges by half the road width")
	buildCmd.Flags().Bool("tag-metadata", true, "Attach OSM tags to building meshes")
	buildCmd.Flags().Int("max-issues", 100, "Maximum number of per-way issues kept in the report (-1 for all)")

	// Ground
	buildCmd.Flags().Bool("no-ground", false, "Skip the textured ground plane")
	buildCmd.Flags().String("tile-url", basemap.DefaultTileURL, "Tile URL template with {z}, {x} and {y}")
	buildCmd.Flags().IntP("zoom", "z", basemap.DefaultZoom, "Zoom level of the ground tiles")
	buildCmd.Flags().String("tile-cache", "", "MBTiles file used as tile cache")
	buildCmd.Flags().String("user-agent", basemap.DefaultUserAgent, "User-Agent sent to the tile server")
	buildCmd.Flags().Int("max-tiles", basemap.DefaultMaxTiles, "Refuse ground mosaics needing more tiles (0 = no limit)")
	buildCmd.Flags().Int("max-texture-size", 4096, "Longer edge of the ground texture (0 = no limit)")
	buildCmd.Flags().Bool("progress", true, "Show progress bar while fetching tiles")
}

var buildBindings = [][2]string{
	{"build.bbox", "bbox"},
	{"build.overpass", "overpass"},
	{"build.overpass_endpoint", "overpass-endpoint"},
	{"build.output", "output"},
	{"build.geojson", "geojson"},
	{"build.preview", "preview"},
	{"build.preview_size", "preview-size"},
	{"scene.scale", "scale"},
	{"scene.height_scale", "height-scale"},
	{"scene.workers", "workers"},
	{"scene.true_road_width", "true-road-width"},
	{"scene.tag_metadata", "tag-metadata"},
	{"scene.max_issues", "max-issues"},
	{"ground.disabled", "no-ground"},
	{"ground.tile_url", "tile-url"},
	{"ground.zoom", "zoom"},
	{"ground.cache", "tile-cache"},
	{"ground.user_agent", "user-agent"},
	{"ground.max_tiles", "max-tiles"},
	{"ground.max_texture_size", "max-texture-size"},
	{"ground.progress", "progress"},
}

func runBuild(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bbox, err := optionalBBox(viper.GetString("build.bbox"))
	if err != nil {
		return err
	}
	src, err := newSource(args, viper.GetBool("build.overpass"), viper.GetString("build.overpass_endpoint"), bbox)
	if err != nil {
		return err
	}
	st, err := loadStyle()
	if err != nil {
		return err
	}

	workers := viper.GetInt("scene.workers")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	cfg := pipeline.DefaultConfig()
	cfg.Logger = logger
	cfg.Style = st
	cfg.Bounds = bbox
	cfg.OutputPath = viper.GetString("build.output")
	cfg.GeoJSONPath = viper.GetString("build.geojson")
	cfg.PreviewPath = viper.GetString("build.preview")
	cfg.PreviewSize = viper.GetInt("build.preview_size")
	cfg.Scale = viper.GetFloat64("scene.scale")
	cfg.HeightScale = viper.GetFloat64("scene.height_scale")
	cfg.Workers = workers
	cfg.TrueRoadWidth = viper.GetBool("scene.true_road_width")
	cfg.TagMetadata = viper.GetBool("scene.tag_metadata")
	cfg.MaxIssues = viper.GetInt("scene.max_issues")
	applyGroundFlags(&cfg.Ground, workers)

	gen, err := pipeline.NewGenerator(src, cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Starting scene build",
		"source", src.Name(),
		"output", cfg.OutputPath,
		"ground", cfg.Ground.Enabled,
		"workers", workers)

	ctx, cancel := signalContext()
	defer cancel()

	res, err := gen.Generate(ctx)
	if err != nil {
		return err
	}

	for _, issue := range res.Report.Issues {
		logger.Debug("Classification issue", "way", issue.WayID, "message", issue.Message)
	}
	fields := []any{
		"usd", res.USDPath,
		"meshes", res.Scene.MeshCount(),
		"skipped", res.Scene.SkippedCount(),
		"issues", len(res.Report.Issues) + res.Report.SuppressedIssues,
		"duration", res.Duration,
	}
	if res.GroundPath != "" {
		fields = append(fields, "ground", res.GroundPath)
	}
	if res.GroundErr != nil {
		fields = append(fields, "ground_error", res.GroundErr)
	}
	logger.Info("Scene built", fields...)
	return nil
}

// applyGroundFlags fills gc from the ground.* keys.
func applyGroundFlags(gc *pipeline.GroundConfig, workers int) {
	gc.Enabled = !viper.GetBool("ground.disabled")
	gc.TileURL = viper.GetString("ground.tile_url")
	gc.Zoom = viper.GetInt("ground.zoom")
	gc.CachePath = viper.GetString("ground.cache")
	gc.UserAgent = viper.GetString("ground.user_agent")
	gc.Mosaic.Logger = logger
	gc.Mosaic.Workers = min(workers, 8)
	gc.Mosaic.MaxTiles = viper.GetInt("ground.max_tiles")
	gc.Mosaic.MaxTextureSize = viper.GetInt("ground.max_texture_size")
	gc.Mosaic.ShowProgress = viper.GetBool("ground.progress")
}
