package cmd

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/osmscene/internal/geojson"
	"github.com/MeKo-Tech/osmscene/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [input files...]",
	Short: "Classify OSM ways and report the result",
	Long: `Classify runs only the feature classifier and prints how many buildings,
roads, water and land features were found, plus any per-way issues.
Use --geojson to inspect the features in a GIS tool.`,
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, classifyBindings) },
	RunE:   runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (overrides the input bounds)")
	classifyCmd.Flags().Bool("overpass", false, "Query the Overpass API for --bbox instead of reading files")
	classifyCmd.Flags().String("overpass-endpoint", "", "Overpass interpreter URL")
	classifyCmd.Flags().String("geojson", "", "Write the classified features as GeoJSON")
	classifyCmd.Flags().Int("max-issues", 100, "Maximum number of per-way issues kept in the report (-1 for all)")
}

var classifyBindings = [][2]string{
	{"classify.bbox", "bbox"},
	{"classify.overpass", "overpass"},
	{"classify.overpass_endpoint", "overpass-endpoint"},
	{"classify.geojson", "geojson"},
	{"classify.max_issues", "max-issues"},
}

func runClassify(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bbox, err := optionalBBox(viper.GetString("classify.bbox"))
	if err != nil {
		return err
	}
	src, err := newSource(args, viper.GetBool("classify.overpass"), viper.GetString("classify.overpass_endpoint"), bbox)
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
	cfg.MaxIssues = viper.GetInt("classify.max_issues")
	cfg.Ground.Enabled = false

	gen, err := pipeline.NewGenerator(src, cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	ds, bounds, err := gen.Load(ctx)
	if err != nil {
		return err
	}
	fc, report := gen.Classify(ds, bounds)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bounds: %s\n", bounds)
	fmt.Fprintln(out, geojson.LayerSummary(fc))
	fmt.Fprintf(out, "Ways: %d, discarded: %d, out of bounds: %d, empty: %d, dropped refs: %d\n",
		report.Ways, report.Discarded, report.OutOfBounds, report.Empty, report.DroppedRefs)

	if len(report.Issues) > 0 {
		issues := append(report.Issues[:0:0], report.Issues...)
		sort.SliceStable(issues, func(i, j int) bool { return issues[i].WayID < issues[j].WayID })
		fmt.Fprintf(out, "Issues (%d):\n", len(issues)+report.SuppressedIssues)
		for _, is := range issues {
			fmt.Fprintf(out, "  way/%d: %s\n", is.WayID, is.Message)
		}
		if report.SuppressedIssues > 0 {
			fmt.Fprintf(out, "  ... and %d more\n", report.SuppressedIssues)
		}
	}

	if path := viper.GetString("classify.geojson"); path != "" {
		if err := geojson.WriteFile(path, fc); err != nil {
			return fmt.Errorf("failed to write GeoJSON: %w", err)
		}
		logger.Info("GeoJSON written", "path", path, "features", fc.Count())
	}
	return nil
}
