package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "osmscene",
	Short: "Turn OpenStreetMap extracts into 3D USD scenes",
	Long: `osmscene converts OpenStreetMap data into a USD stage with extruded buildings,
road ribbons, water and land surfaces, and an optional ground plane textured
with map tiles.

Input is read from .osm/.xml, .json (Overpass) or .pbf files, or queried from
the Overpass API for a bounding box.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("style", "", "YAML file overriding the built-in style tables")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	mustBindPersistent("style", "style")
	mustBindPersistent("log_file", "log-file")
	mustBindPersistent("verbose", "verbose")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("OSMSCENE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func mustBindPersistent(key, name string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}

// bindFlags binds each flag of cmd to its viper key. Commands share keys such
// as ground.zoom, so binding happens when the command runs.
func bindFlags(cmd *cobra.Command, pairs [][2]string) {
	for _, p := range pairs {
		if err := viper.BindPFlag(p[0], cmd.Flags().Lookup(p[1])); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", p[1], err))
		}
	}
}
