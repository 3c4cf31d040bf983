package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/MeKo-Tech/osmscene/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve ground tiles from the tile cache over HTTP",
	Long: `Serve exposes /tiles/{z}/{x}/{y}.png. Tiles missing from --tile-cache are
fetched from --tile-url and added to the cache, unless --offline is given.
The server can be used as the --tile-url of another run.`,
	PreRun: func(cmd *cobra.Command, _ []string) { bindFlags(cmd, serveBindings) },
	RunE:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("tile-cache", "tiles.mbtiles", "MBTiles file holding the tiles")
	serveCmd.Flags().String("tile-url", basemap.DefaultTileURL, "Upstream tile URL template with {z}, {x} and {y}")
	serveCmd.Flags().String("user-agent", basemap.DefaultUserAgent, "User-Agent sent upstream")
	serveCmd.Flags().Bool("offline", false, "Only serve tiles already in the cache")
	serveCmd.Flags().Int("max-concurrent", 4, "Max concurrent tile requests")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Timeout per tile request")
	serveCmd.Flags().String("cache-control", "public, max-age=86400", "Cache-Control header for served tiles")
}

var serveBindings = [][2]string{
	{"serve.addr", "addr"},
	{"serve.tile_cache", "tile-cache"},
	{"serve.tile_url", "tile-url"},
	{"serve.user_agent", "user-agent"},
	{"serve.offline", "offline"},
	{"serve.max_concurrent", "max-concurrent"},
	{"serve.timeout", "timeout"},
	{"serve.cache_control", "cache-control"},
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	cachePath := viper.GetString("serve.tile_cache")
	tileURL := viper.GetString("serve.tile_url")
	offline := viper.GetBool("serve.offline")

	var source server.TileSource
	if offline {
		r, err := mbtiles.OpenReader(cachePath)
		if err != nil {
			return fmt.Errorf("failed to open tile cache: %w", err)
		}
		defer r.Close()
		source = server.ReaderSource{Reader: r}
	} else {
		cache, err := mbtiles.New(cachePath, mbtiles.Metadata{Name: "osmscene ground", Format: "png", Type: "baselayer"})
		if err != nil {
			return fmt.Errorf("failed to open tile cache: %w", err)
		}
		defer cache.Close()
		source = basemap.NewHTTPFetcher(tileURL,
			basemap.WithCache(cache),
			basemap.WithUserAgent(viper.GetString("serve.user_agent")),
			basemap.WithLogger(logger))
	}

	tiles := server.NewTileHandler(source, server.TileHandlerConfig{
		CacheControl:  viper.GetString("serve.cache_control"),
		MaxConcurrent: viper.GetInt("serve.max_concurrent"),
		Timeout:       viper.GetDuration("serve.timeout"),
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/status", tiles.StatusHandler())
	mux.Handle("/tiles/", server.WithCORS(tiles))

	logger.Info("tile server listening",
		"addr", addr,
		"tile_cache", cachePath,
		"offline", offline,
	)

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
