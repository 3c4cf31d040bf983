package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var groundCmd = &cobra.Command{
	Use:   "ground",
	Short: "Stitch map tiles covering a bounding box into one PNG",
	Long: `Ground fetches the tiles covering --bbox, stitches them and writes the
texture that build would use for the ground plane. With --tile-cache the
fetched tiles are kept in an MBTiles file for later offline runs.`,
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, groundBindings) },
	RunE:   runGround,
}

func init() {
	rootCmd.AddCommand(groundCmd)

	groundCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (required)")
	groundCmd.Flags().StringP("output", "o", "ground.png", "Output PNG file")
	groundCmd.Flags().Bool("crop", true, "Crop the stitched tiles to the bounding box")

	groundCmd.Flags().String("tile-url", basemap.DefaultTileURL, "Tile URL template with {z}, {x} and {y}")
	groundCmd.Flags().IntP("zoom", "z", basemap.DefaultZoom, "Zoom level of the tiles")
	groundCmd.Flags().String("tile-cache", "", "MBTiles file used as tile cache")
	groundCmd.Flags().String("user-agent", basemap.DefaultUserAgent, "User-Agent sent to the tile server")
	groundCmd.Flags().Int("max-tiles", basemap.DefaultMaxTiles, "Refuse mosaics needing more tiles (0 = no limit)")
	groundCmd.Flags().Int("max-texture-size", 4096, "Longer edge of the texture (0 = no limit)")
	groundCmd.Flags().IntP("workers", "w", 4, "Number of parallel tile downloads")
	groundCmd.Flags().Bool("progress", true, "Show progress bar while fetching tiles")
}

var groundBindings = [][2]string{
	{"ground.bbox", "bbox"},
	{"ground.output", "output"},
	{"ground.crop", "crop"},
	{"ground.tile_url", "tile-url"},
	{"ground.zoom", "zoom"},
	{"ground.cache", "tile-cache"},
	{"ground.user_agent", "user-agent"},
	{"ground.max_tiles", "max-tiles"},
	{"ground.max_texture_size", "max-texture-size"},
	{"ground.workers", "workers"},
	{"ground.progress", "progress"},
}

func runGround(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bboxStr := viper.GetString("ground.bbox")
	if bboxStr == "" {
		return fmt.Errorf("--bbox is required")
	}
	bbox, err := parseBBox(bboxStr)
	if err != nil {
		return fmt.Errorf("invalid --bbox: %w", err)
	}

	var gc pipeline.GroundConfig
	applyGroundFlags(&gc, viper.GetInt("ground.workers"))
	gc.Mosaic.Workers = max(1, viper.GetInt("ground.workers"))
	gc.Mosaic.TileSize = basemap.DefaultTileSize
	gc.Mosaic.Crop = viper.GetBool("ground.crop")

	ctx, cancel := signalContext()
	defer cancel()

	m, err := pipeline.BuildGround(ctx, gc, bbox, logger)
	if err != nil {
		return err
	}

	output := viper.GetString("ground.output")
	if err := basemap.SavePNG(output, m.Image); err != nil {
		return err
	}
	logger.Info("Ground texture written",
		"path", output,
		"width", m.Image.Bounds().Dx(),
		"height", m.Image.Bounds().Dy(),
		"bounds", m.Bounds.String())
	return nil
}
