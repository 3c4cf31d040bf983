// Package server exposes cached ground tiles over HTTP so a tile cache can be
// used as the tile source of later runs or inspected in a browser.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/MeKo-Tech/osmscene/internal/tile"
)

// TileSource returns encoded tiles. *basemap.HTTPFetcher satisfies it; with a
// cache attached it makes the handler a caching proxy.
type TileSource interface {
	FetchBytes(ctx context.Context, coords tile.Coords) ([]byte, error)
}

// ReaderSource serves tiles from a read-only MBTiles file.
type ReaderSource struct {
	Reader *mbtiles.Reader
}

// FetchBytes implements TileSource.
func (s ReaderSource) FetchBytes(_ context.Context, coords tile.Coords) ([]byte, error) {
	return s.Reader.ReadTile(int(coords.Z), int(coords.X), int(coords.Y))
}

// TileHandlerConfig configures a TileHandler.
type TileHandlerConfig struct {
	CacheControl  string
	MaxConcurrent int
	Timeout       time.Duration
}

// TileHandler serves /tiles/{z}/{x}/{y}.png from a TileSource.
// Concurrent requests for the same tile are serialized so a cache-through
// source fetches each tile from upstream only once.
type TileHandler struct {
	source TileSource
	logger *slog.Logger
	sem    chan struct{}
	cfg    TileHandlerConfig

	locksMu sync.Mutex
	locks   map[string]*tileLock

	served atomic.Int64
	failed atomic.Int64
	active atomic.Int32
}

// TileStatus is reported by the status endpoint.
type TileStatus struct {
	Served        int64 `json:"served"`
	Failed        int64 `json:"failed"`
	Active        int   `json:"active"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// NewTileHandler creates a handler.
func NewTileHandler(source TileSource, cfg TileHandlerConfig, logger *slog.Logger) *TileHandler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=86400"
	}
	return &TileHandler{
		source: source,
		logger: logger,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		locks:  make(map[string]*tileLock),
	}
}

// ServeHTTP implements http.Handler.
func (h *TileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	coords, ok := parseTilePath(r.URL.Path)
	if !ok || !coords.Valid() {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-h.sem }()

	h.active.Add(1)
	defer h.active.Add(-1)

	key := coords.String()
	l := h.lock(key)
	data, err := h.source.FetchBytes(ctx, coords)
	h.unlock(key, l)

	if err != nil {
		h.failed.Add(1)
		status := statusForError(err)
		if status == http.StatusNotFound {
			h.log().Debug("Tile not available", "coords", coords.String())
		} else {
			h.log().Error("Failed to serve tile", "coords", coords.String(), "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.served.Add(1)
	w.Header().Set("Cache-Control", h.cfg.CacheControl)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.log().Error("Failed to write response", "error", err)
	}
}

// Status returns request counters.
func (h *TileHandler) Status() TileStatus {
	return TileStatus{
		Served:        h.served.Load(),
		Failed:        h.failed.Load(),
		Active:        int(h.active.Load()),
		MaxConcurrent: h.cfg.MaxConcurrent,
	}
}

// StatusHandler serves Status as JSON.
func (h *TileHandler) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
			h.log().Error("Failed to encode status", "error", err)
		}
	})
}

// tileLock serializes requests for one tile. It lives in the map only while
// requests hold or wait for it.
type tileLock struct {
	mu   sync.Mutex
	refs int
}

func (h *TileHandler) lock(key string) *tileLock {
	h.locksMu.Lock()
	l, ok := h.locks[key]
	if !ok {
		l = &tileLock{}
		h.locks[key] = l
	}
	l.refs++
	h.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (h *TileHandler) unlock(key string, l *tileLock) {
	l.mu.Unlock()

	h.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(h.locks, key)
	}
	h.locksMu.Unlock()
}

func (h *TileHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, mbtiles.ErrTileNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseTilePath accepts /tiles/{z}/{x}/{y}.png and /tiles/z{z}_x{x}_y{y}.png.
func parseTilePath(requestPath string) (tile.Coords, bool) {
	if !strings.HasPrefix(requestPath, "/tiles/") {
		return tile.Coords{}, false
	}

	rest := strings.TrimPrefix(requestPath, "/tiles/")
	if !strings.HasSuffix(rest, ".png") {
		return tile.Coords{}, false
	}
	rest = strings.TrimSuffix(rest, ".png")

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 3:
		var vals [3]uint32
		for i, p := range parts {
			v, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return tile.Coords{}, false
			}
			vals[i] = uint32(v)
		}
		return tile.NewCoords(vals[0], vals[1], vals[2]), true
	case 1:
		coords, err := tile.ParseCoords(rest)
		if err != nil {
			return tile.Coords{}, false
		}
		return coords, true
	default:
		return tile.Coords{}, false
	}
}

// WithCORS allows browser map clients on other origins to load tiles.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
