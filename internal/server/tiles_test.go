package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/basemap"
	"github.com/MeKo-Tech/osmscene/internal/mbtiles"
	"github.com/MeKo-Tech/osmscene/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTilePath(t *testing.T) {
	t.Run("slippy path", func(t *testing.T) {
		coords, ok := parseTilePath("/tiles/13/4317/2692.png")
		if !ok {
			t.Fatalf("expected ok")
		}
		if coords.String() != "z13_x4317_y2692" {
			t.Fatalf("unexpected coords: %s", coords.String())
		}
	})

	t.Run("coordinate name", func(t *testing.T) {
		coords, ok := parseTilePath("/tiles/z5_x1_y2.png")
		if !ok {
			t.Fatalf("expected ok")
		}
		if coords.String() != "z5_x1_y2" {
			t.Fatalf("unexpected coords: %s", coords.String())
		}
	})

	t.Run("reject non-png", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/1/2.jpg"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("reject other prefix", func(t *testing.T) {
		if _, ok := parseTilePath("/demo/5/1/2.png"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("reject non-numeric", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/a/2.png"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("reject wrong depth", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/1.png"); ok {
			t.Fatalf("expected not ok")
		}
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

// countingUpstream serves a PNG for every tile and counts requests.
func countingUpstream(t *testing.T, data []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/0/0/0.png" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestTileHandler_CachingProxy(t *testing.T) {
	data := pngBytes(t)
	upstream, hits := countingUpstream(t, data)

	cache, err := mbtiles.New(filepath.Join(t.TempDir(), "proxy.mbtiles"), mbtiles.Metadata{Name: "proxy", Format: "png"})
	require.NoError(t, err)
	defer cache.Close()

	fetcher := basemap.NewHTTPFetcher(upstream.URL+"/{z}/{x}/{y}.png", basemap.WithCache(cache))
	h := NewTileHandler(fetcher, TileHandlerConfig{MaxConcurrent: 4}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/3/2/1.png", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			assert.Equal(t, data, rec.Body.Bytes())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "upstream should be hit once per tile")
	assert.Equal(t, int64(8), h.Status().Served)
	assert.Zero(t, h.lockCount(), "per-tile locks should be released")

	stored, err := cache.ReadTile(3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestTileHandler_Errors(t *testing.T) {
	upstream, _ := countingUpstream(t, pngBytes(t))
	h := NewTileHandler(basemap.NewHTTPFetcher(upstream.URL+"/{z}/{x}/{y}.png"), TileHandlerConfig{}, nil)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/tiles/0/0/0.png", http.StatusBadGateway},
		{http.MethodGet, "/tiles/2/9/0.png", http.StatusNotFound}, // x out of range at z2
		{http.MethodGet, "/tiles/bogus.png", http.StatusNotFound},
		{http.MethodPost, "/tiles/1/0/0.png", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
	assert.Equal(t, int64(1), h.Status().Failed)
}

func TestTileHandler_ReaderSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.mbtiles")
	w, err := mbtiles.New(path, mbtiles.Metadata{Name: "offline", Format: "png"})
	require.NoError(t, err)
	data := pngBytes(t)
	require.NoError(t, w.WriteTile(4, 3, 2, data))
	require.NoError(t, w.Close())

	r, err := mbtiles.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	h := NewTileHandler(ReaderSource{Reader: r}, TileHandlerConfig{CacheControl: "no-store"}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/4/3/2.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, data, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/4/3/3.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/tiles/z4_x3_y2.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, fmt.Sprint(len(data)), rec.Header().Get("Content-Length"))
}

func TestTileHandler_Timeout(t *testing.T) {
	h := NewTileHandler(blockingSource{}, TileHandlerConfig{Timeout: 20 * time.Millisecond}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/1/1/1.png", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func (h *TileHandler) lockCount() int {
	h.locksMu.Lock()
	defer h.locksMu.Unlock()
	return len(h.locks)
}

func TestTileHandler_LocksDoNotAccumulate(t *testing.T) {
	upstream, _ := countingUpstream(t, pngBytes(t))
	h := NewTileHandler(basemap.NewHTTPFetcher(upstream.URL+"/{z}/{x}/{y}.png"), TileHandlerConfig{MaxConcurrent: 8}, nil)

	var wg sync.WaitGroup
	for x := range 16 {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/tiles/4/%d/3.png", x), nil))
				assert.Equal(t, http.StatusOK, rec.Code)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int64(32), h.Status().Served)
	assert.Zero(t, h.lockCount())
}

type blockingSource struct{}

func (blockingSource) FetchBytes(ctx context.Context, _ tile.Coords) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStatusHandler(t *testing.T) {
	h := NewTileHandler(blockingSource{}, TileHandlerConfig{MaxConcurrent: 3}, nil)

	rec := httptest.NewRecorder()
	h.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var status TileStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 3, status.MaxConcurrent)
	assert.Zero(t, status.Served)
}

func TestWithCORS(t *testing.T) {
	called := false
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/tiles/1/0/0.png", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}
