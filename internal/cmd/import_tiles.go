package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var importTilesCmd = &cobra.Command{
	Use:   "import-tiles",
	Short: "Import a tile folder into an MBTiles tile cache",
	Long: `Import-tiles copies tiles from a folder into an MBTiles file that build,
preview and ground accept as --tile-cache, so scenes can be built without
network access. Both z{z}_x{x}_y{y}.png names and {z}/{x}/{y}.png folders
are recognized; .jpg and .webp tiles are imported as well.`,
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, importTilesBindings) },
	RunE:   runImportTiles,
}

func init() {
	rootCmd.AddCommand(importTilesCmd)

	importTilesCmd.Flags().String("input-dir", "./tiles", "Input directory containing tiles")
	importTilesCmd.Flags().StringP("output", "o", "", "Output MBTiles file path (required)")
	importTilesCmd.Flags().String("name", "osmscene ground", "Tileset name")
	importTilesCmd.Flags().String("attribution", "© OpenStreetMap contributors", "Attribution text")
	importTilesCmd.Flags().String("bounds", "", "Bounding box: minLon,minLat,maxLon,maxLat (optional)")
}

var importTilesBindings = [][2]string{
	{"import.input_dir", "input-dir"},
	{"import.output", "output"},
	{"import.name", "name"},
	{"import.attribution", "attribution"},
	{"import.bounds", "bounds"},
}

func runImportTiles(cmd *cobra.Command, args []string) error {
	inputDir := viper.GetString("import.input_dir")
	outputFile := viper.GetString("import.output")
	name := viper.GetString("import.name")
	attribution := viper.GetString("import.attribution")
	boundsStr := viper.GetString("import.bounds")

	if logger == nil {
		initLogging()
	}

	if outputFile == "" {
		return fmt.Errorf("--output is required")
	}
	if _, err := os.Stat(inputDir); os.IsNotExist(err) {
		return fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	logger.Info("Importing tiles into MBTiles",
		"input_dir", inputDir,
		"output", outputFile,
		"name", name,
	)

	tiles, minZoom, maxZoom, err := scanTilesDirectory(inputDir)
	if err != nil {
		return fmt.Errorf("failed to scan tiles directory: %w", err)
	}
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles found in %s", inputDir)
	}

	logger.Info("Found tiles", "count", len(tiles), "min_zoom", minZoom, "max_zoom", maxZoom)

	metadata := mbtiles.Metadata{
		Name:        name,
		Format:      tiles[0].format,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Attribution: attribution,
		Description: "Ground tiles for osmscene",
		Type:        "baselayer",
		Version:     "1.0",
	}
	if boundsStr != "" {
		b, err := parseBBox(boundsStr)
		if err != nil {
			return fmt.Errorf("invalid bounds: %w", err)
		}
		lat, lon := b.Center()
		metadata.Bounds = [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
		metadata.Center = [3]float64{lon, lat, float64((minZoom + maxZoom) / 2)}
	}

	writer, err := mbtiles.New(outputFile, metadata)
	if err != nil {
		return fmt.Errorf("failed to create MBTiles writer: %w", err)
	}
	defer writer.Close()

	imported := 0
	for i, ti := range tiles {
		data, err := os.ReadFile(ti.path)
		if err != nil {
			logger.Error("Failed to read tile", "path", ti.path, "error", err)
			continue
		}
		if err := writer.WriteTile(ti.z, ti.x, ti.y, data); err != nil {
			logger.Error("Failed to write tile", "coords", fmt.Sprintf("%d/%d/%d", ti.z, ti.x, ti.y), "error", err)
			continue
		}
		imported++

		if (i+1)%100 == 0 {
			logger.Info("Progress", "imported", i+1, "total", len(tiles))
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush tiles: %w", err)
	}

	logger.Info("Import complete", "output", outputFile, "tiles", imported)
	return nil
}

type tileInfo struct {
	path    string
	format  string
	z, x, y int
}

var (
	flatTilePattern   = regexp.MustCompile(`^z(\d+)_x(\d+)_y(\d+)\.(png|jpe?g|webp)$`)
	nestedTilePattern = regexp.MustCompile(`(?:^|/)(\d+)/(\d+)/(\d+)\.(png|jpe?g|webp)$`)
)

// scanTilesDirectory scans a directory for tile files and returns tile info.
func scanTilesDirectory(dir string) ([]tileInfo, int, int, error) {
	var tiles []tileInfo
	minZoom := 999
	maxZoom := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := flatTilePattern.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				return nil
			}
			matches = nestedTilePattern.FindStringSubmatch(filepath.ToSlash(rel))
		}
		if matches == nil {
			return nil
		}

		z, _ := strconv.Atoi(matches[1])
		x, _ := strconv.Atoi(matches[2])
		y, _ := strconv.Atoi(matches[3])
		format := strings.Replace(matches[4], "jpeg", "jpg", 1)

		tiles = append(tiles, tileInfo{z: z, x: x, y: y, path: path, format: format})
		minZoom = min(minZoom, z)
		maxZoom = max(maxZoom, z)
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	if len(tiles) == 0 {
		minZoom = 0
		maxZoom = 0
	}

	return tiles, minZoom, maxZoom, nil
}
