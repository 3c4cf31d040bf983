// Package mbtiles stores raster tiles in MBTiles databases. It backs the
// basemap tile cache and the tile proxy server.
package mbtiles

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/tile"
)

// ErrTileNotFound is returned when a tile is not stored.
var ErrTileNotFound = errors.New("tile not found")

// Metadata contains MBTiles metadata fields.
type Metadata struct {
	Name        string // Human-readable tileset identifier
	Format      string // Tile data type (png, jpg, webp)
	Attribution string // Attribution text
	Description string // Human-readable description
	Type        string // "baselayer" or "overlay"
	Version     string // Version string
	Bounds      [4]float64
	Center      [3]float64
	MinZoom     int // Minimum zoom level
	MaxZoom     int // Maximum zoom level
}

// MetadataForRange describes a cache filled with the tiles of r.
func MetadataForRange(name, format string, r tile.Range) Metadata {
	b := r.Bounds()
	lat, lon := b.Center()
	return Metadata{
		Name:        name,
		Format:      format,
		MinZoom:     int(r.Zoom),
		MaxZoom:     int(r.Zoom),
		Bounds:      [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat},
		Center:      [3]float64{lon, lat, float64(r.Zoom)},
		Attribution: "© OpenStreetMap contributors",
		Description: "Cached ground imagery tiles",
		Type:        "baselayer",
		Version:     "1.0",
	}
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Name != "" {
		result["name"] = m.Name
	}
	if m.Format != "" {
		result["format"] = m.Format
	}
	if m.MinZoom > 0 {
		result["minzoom"] = strconv.Itoa(m.MinZoom)
	}
	if m.MaxZoom > 0 {
		result["maxzoom"] = strconv.Itoa(m.MaxZoom)
	}
	if m.Bounds != [4]float64{} {
		result["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			m.Bounds[0], m.Bounds[1], m.Bounds[2], m.Bounds[3])
	}
	if m.Center != [3]float64{} {
		result["center"] = fmt.Sprintf("%.6f,%.6f,%d",
			m.Center[0], m.Center[1], int(m.Center[2]))
	}
	if m.Attribution != "" {
		result["attribution"] = m.Attribution
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.Type != "" {
		result["type"] = m.Type
	}
	if m.Version != "" {
		result["version"] = m.Version
	}

	return result
}

// metadataFromMap parses the metadata table. Malformed numeric fields are left zero.
func metadataFromMap(metaMap map[string]string) Metadata {
	meta := Metadata{
		Name:        metaMap["name"],
		Format:      metaMap["format"],
		Attribution: metaMap["attribution"],
		Description: metaMap["description"],
		Type:        metaMap["type"],
		Version:     metaMap["version"],
	}

	if v, ok := metaMap["minzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MinZoom = i
		}
	}
	if v, ok := metaMap["maxzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MaxZoom = i
		}
	}

	// Parse bounds: "minLon,minLat,maxLon,maxLat"
	if v, ok := metaMap["bounds"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Bounds[i] = f
				}
			}
		}
	}

	// Parse center: "lon,lat,zoom"
	if v, ok := metaMap["center"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 3 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Center[i] = f
				}
			}
		}
	}

	return meta
}

// tmsRow converts an XYZ row to the TMS row stored in the tiles table.
func tmsRow(z, y int) int {
	return (1 << z) - 1 - y
}

// decodeTileData returns the stored image bytes. Older caches stored
// gzip-compressed tiles, which are detected by their magic bytes.
func decodeTileData(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
