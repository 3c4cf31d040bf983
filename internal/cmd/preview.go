package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var previewCmd = &cobra.Command{
	Use:    "preview [input files...]",
	Short:  "Render a top-down PNG of the classified features",
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, previewBindings) },
	RunE:   runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (overrides the input bounds)")
	previewCmd.Flags().Bool("overpass", false, "Query the Overpass API for --bbox instead of reading files")
	previewCmd.Flags().String("overpass-endpoint", "", "Overpass interpreter URL")
	previewCmd.Flags().StringP("output", "o", "preview.png", "Output PNG file")
	previewCmd.Flags().Int("size", pipeline.DefaultPreviewSize, "Longer edge of the preview in pixels")

	previewCmd.Flags().Bool("ground", false, "Draw the features over map tiles")
	previewCmd.Flags().String("tile-url", basemap.DefaultTileURL, "Tile URL template with {z}, {x} and {y}")
	previewCmd.Flags().IntP("zoom", "z", basemap.DefaultZoom, "Zoom level of the background tiles")
	previewCmd.Flags().String("tile-cache", "", "MBTiles file used as tile cache")
	previewCmd.Flags().String("user-agent", basemap.DefaultUserAgent, "User-Agent sent to the tile server")
	previewCmd.Flags().Int("max-tiles", basemap.DefaultMaxTiles, "Refuse backgrounds needing more tiles (0 = no limit)")
}

var previewBindings = [][2]string{
	{"preview.bbox", "bbox"},
	{"preview.overpass", "overpass"},
	{"preview.overpass_endpoint", "overpass-endpoint"},
	{"preview.output", "output"},
	{"preview.size", "size"},
	{"preview.ground", "ground"},
	{"ground.tile_url", "tile-url"},
	{"ground.zoom", "zoom"},
	{"ground.cache", "tile-cache"},
	{"ground.user_agent", "user-agent"},
	{"ground.max_tiles", "max-tiles"},
}

func runPreview(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bbox, err := optionalBBox(viper.GetString("preview.bbox"))
	if err != nil {
		return err
	}
	src, err := newSource(args, viper.GetBool("preview.overpass"), viper.GetString("preview.overpass_endpoint"), bbox)
	if err != nil {
		return err
	}
	st, err := loadStyle()
	if err != nil {
		return err
	}

	cfg := pipeline.DefaultConfig()
	cfg.Logger = logger
	cfg.Style = st
	cfg.Bounds = bbox
	cfg.PreviewPath = viper.GetString("preview.output")
	cfg.PreviewSize = viper.GetInt("preview.size")
	applyGroundFlags(&cfg.Ground, 4)
	cfg.Ground.Enabled = viper.GetBool("preview.ground")
	cfg.Ground.Mosaic.MaxTextureSize = 0

	gen, err := pipeline.NewGenerator(src, cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := gen.Preview(ctx)
	if err != nil {
		return err
	}
	logger.Info("Preview complete", "path", res.PreviewPath, "bounds", res.Bounds.String())
	return nil
}
