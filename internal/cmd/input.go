package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/osmscene/internal/datasource"
	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/spf13/viper"
)

// parseBBox parses a bounding box string "minLon,minLat,maxLon,maxLat".
func parseBBox(s string) (types.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.BoundingBox{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	var v [4]float64
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return types.BoundingBox{}, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		v[i] = val
	}

	b := types.BoundingBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return types.BoundingBox{}, err
	}
	return b, nil
}

// optionalBBox parses s when it is set.
func optionalBBox(s string) (*types.BoundingBox, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	b, err := parseBBox(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --bbox: %w", err)
	}
	return &b, nil
}

// loadStyle returns the style tables, with the --style overrides applied.
func loadStyle() (*style.Style, error) {
	path := viper.GetString("style")
	if path == "" {
		return style.Default(), nil
	}
	st, err := style.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Style overrides loaded", "path", path)
	return st, nil
}

// newSource picks the data source: input files, or Overpass for the bounds.
func newSource(paths []string, useOverpass bool, endpoint string, bbox *types.BoundingBox) (datasource.Source, error) {
	if useOverpass {
		if len(paths) > 0 {
			return nil, errors.New("input files and --overpass are mutually exclusive")
		}
		if bbox == nil {
			return nil, errors.New("--overpass requires --bbox")
		}
		if endpoint == "" {
			endpoint = datasource.DefaultOverpassEndpoint
		}
		return datasource.NewOverpassSource(endpoint, *bbox, logger), nil
	}
	if len(paths) == 0 {
		return nil, errors.New("at least one input file is required (or use --overpass)")
	}
	return datasource.NewFileSource(logger, paths...), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
