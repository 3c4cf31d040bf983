// Package datasource loads OSM datasets from extract files or the Overpass API
// and resolves the bounds a scene is built for.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/types"
)

// ErrNoBounds is returned when no bounds can be determined for a dataset.
var ErrNoBounds = errors.New("no bounds available")

// Source produces a Dataset.
type Source interface {
	Load(ctx context.Context) (*osmdata.Dataset, error)
	Name() string
}

// FileSource decodes and merges one or more extract files.
// When files define the same entity ID, the first file wins.
type FileSource struct {
	Logger *slog.Logger
	Paths  []string
}

// NewFileSource creates a source reading paths in order.
func NewFileSource(logger *slog.Logger, paths ...string) *FileSource {
	return &FileSource{Paths: paths, Logger: logger}
}

// Name implements Source.
func (s *FileSource) Name() string {
	return strings.Join(s.Paths, ",")
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) (*osmdata.Dataset, error) {
	if len(s.Paths) == 0 {
		return nil, errors.New("no input files")
	}

	var merged *osmdata.Dataset
	for _, path := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ds, err := loadFile(ctx, path)
		if err != nil {
			return nil, err
		}

		stats := ds.Stats()
		s.log().Info("Loaded OSM data",
			"file", path,
			"nodes", stats.Nodes,
			"ways", stats.Ways,
			"relations", stats.Relations)

		if merged == nil {
			merged = ds
			continue
		}
		merged.Merge(ds)
	}

	return merged, nil
}

func (s *FileSource) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func loadFile(ctx context.Context, path string) (*osmdata.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := osmdata.Decode(ctx, f, osmdata.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return ds, nil
}

// ResolveBounds picks the active bounds: explicit bounds first, then the
// bounds declared by the input, then the extent of all nodes.
func ResolveBounds(explicit *types.BoundingBox, ds *osmdata.Dataset) (types.BoundingBox, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if ds != nil && ds.Bounds != nil {
		return *ds.Bounds, nil
	}
	if ds != nil {
		if ext, ok := ds.Extent(); ok {
			return ext, nil
		}
	}
	return types.BoundingBox{}, ErrNoBounds
}
